package store

import (
	"context"
	"time"
)

// Store is the host runtime seen by the engine: content bodies, label groups,
// labels, item/label associations, label vectors and the per-item error record.
type Store interface {
	Close() error

	// Content
	GetContentBody(ctx context.Context, itemID string) (string, error)

	// Groups & labels
	GetLabelGroup(ctx context.Context, name string) (LabelGroup, error)
	GetLabel(ctx context.Context, labelID int64) (Label, error)
	FindLabel(ctx context.Context, groupID int64, name string) (Label, bool, error)
	CreateLabel(ctx context.Context, groupID int64, name string) (Label, error)
	ListLabels(ctx context.Context, groupID int64) ([]Label, error)

	// Associations. ReplaceItemLabels removes every association the item has
	// in the group and applies labelIDs as one atomic unit.
	GetItemLabels(ctx context.Context, itemID string, groupID int64) ([]Label, error)
	ReplaceItemLabels(ctx context.Context, itemID string, groupID int64, labelIDs []int64) error

	// Vectors
	GetLabelVector(ctx context.Context, labelID int64) ([]float64, bool, error)
	SetLabelVector(ctx context.Context, labelID int64, vector []float64) error

	// Error record
	PersistItemError(ctx context.Context, itemID string, e ItemError) error
	ClearItemError(ctx context.Context, itemID string) error
	GetItemError(ctx context.Context, itemID string) (ItemError, bool, error)
}

// LabelGroup is a named collection of labels, one per feature
type LabelGroup struct {
	ID   int64
	Name string
}

// Label belongs to exactly one group for its whole lifetime
type Label struct {
	ID      int64
	Name    string
	GroupID int64
}

// ItemError is the last provider failure recorded on a content item
type ItemError struct {
	Code    string
	Message string
	RunID   string
	At      time.Time
}

// LabelIDs returns the ids of labels in order.
func LabelIDs(labels []Label) []int64 {
	ids := make([]int64, len(labels))
	for i, l := range labels {
		ids[i] = l.ID
	}
	return ids
}

// UniqueIDs drops duplicate and non-positive ids, keeping first occurrence order.
func UniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
