package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cognicore/autotag/pkg/autotag/internalerr"
	"github.com/cognicore/autotag/pkg/autotag/store"
)

// Store is an in-memory implementation of store.Store for tests and tooling.
type Store struct {
	mu          sync.RWMutex
	nextGroupID int64
	nextLabelID int64
	items       map[string]string
	groups      map[int64]store.LabelGroup
	groupIndex  map[string]int64
	labels      map[int64]store.Label
	labelIndex  map[string]int64
	itemLabels  map[string]map[int64]struct{}
	vectors     map[int64][]float64
	itemErrors  map[string]store.ItemError
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		nextGroupID: 1,
		nextLabelID: 1,
		items:       make(map[string]string),
		groups:      make(map[int64]store.LabelGroup),
		groupIndex:  make(map[string]int64),
		labels:      make(map[int64]store.Label),
		labelIndex:  make(map[string]int64),
		itemLabels:  make(map[string]map[int64]struct{}),
		vectors:     make(map[int64][]float64),
		itemErrors:  make(map[string]store.ItemError),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// UpsertItem stores or replaces a content item's body.
func (s *Store) UpsertItem(ctx context.Context, itemID, body string) error {
	if itemID == "" {
		return fmt.Errorf("item id: %w", internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[itemID] = body
	return nil
}

// EnsureLabelGroup returns the named group, creating it when missing.
func (s *Store) EnsureLabelGroup(ctx context.Context, name string) (store.LabelGroup, error) {
	if name == "" {
		return store.LabelGroup{}, fmt.Errorf("group name: %w", internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.groupIndex[name]; ok {
		return s.groups[id], nil
	}
	g := store.LabelGroup{ID: s.nextGroupID, Name: name}
	s.nextGroupID++
	s.groups[g.ID] = g
	s.groupIndex[name] = g.ID
	return g, nil
}

// GetContentBody returns the body of a content item.
func (s *Store) GetContentBody(ctx context.Context, itemID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	body, ok := s.items[itemID]
	if !ok {
		return "", fmt.Errorf("item %q: %w", itemID, internalerr.ErrNotFound)
	}
	return body, nil
}

// GetLabelGroup looks up a group by name.
func (s *Store) GetLabelGroup(ctx context.Context, name string) (store.LabelGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.groupIndex[name]
	if !ok {
		return store.LabelGroup{}, fmt.Errorf("label group %q: %w", name, internalerr.ErrNotFound)
	}
	return s.groups[id], nil
}

// GetLabel returns a label by id.
func (s *Store) GetLabel(ctx context.Context, labelID int64) (store.Label, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.labels[labelID]
	if !ok {
		return store.Label{}, fmt.Errorf("label %d: %w", labelID, internalerr.ErrNotFound)
	}
	return l, nil
}

// FindLabel looks up a label by exact name within a group.
func (s *Store) FindLabel(ctx context.Context, groupID int64, name string) (store.Label, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.labelIndex[labelKey(groupID, name)]
	if !ok {
		return store.Label{}, false, nil
	}
	return s.labels[id], true, nil
}

// CreateLabel creates a label, returning the existing one on a name clash.
func (s *Store) CreateLabel(ctx context.Context, groupID int64, name string) (store.Label, error) {
	if strings.TrimSpace(name) == "" {
		return store.Label{}, fmt.Errorf("label name: %w", internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[groupID]; !ok {
		return store.Label{}, fmt.Errorf("label group %d: %w", groupID, internalerr.ErrNotFound)
	}
	key := labelKey(groupID, name)
	if id, ok := s.labelIndex[key]; ok {
		return s.labels[id], nil
	}

	l := store.Label{ID: s.nextLabelID, Name: name, GroupID: groupID}
	s.nextLabelID++
	s.labels[l.ID] = l
	s.labelIndex[key] = l.ID
	return l, nil
}

// ListLabels returns every label in a group ordered by id.
func (s *Store) ListLabels(ctx context.Context, groupID int64) ([]store.Label, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Label
	for _, l := range s.labels {
		if l.GroupID == groupID {
			out = append(out, l)
		}
	}
	sortLabels(out)
	return out, nil
}

// GetItemLabels returns the item's labels within a group ordered by id.
func (s *Store) GetItemLabels(ctx context.Context, itemID string, groupID int64) ([]store.Label, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Label
	for id := range s.itemLabels[itemID] {
		if l := s.labels[id]; l.GroupID == groupID {
			out = append(out, l)
		}
	}
	sortLabels(out)
	return out, nil
}

// ReplaceItemLabels swaps the item's labels in a group under a single lock.
func (s *Store) ReplaceItemLabels(ctx context.Context, itemID string, groupID int64, labelIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[itemID]; !ok {
		return fmt.Errorf("item %q: %w", itemID, internalerr.ErrNotFound)
	}
	ids := store.UniqueIDs(labelIDs)
	for _, id := range ids {
		l, ok := s.labels[id]
		if !ok {
			return fmt.Errorf("label %d: %w", id, internalerr.ErrNotFound)
		}
		if l.GroupID != groupID {
			return fmt.Errorf("label %d not in group %d: %w", id, groupID, internalerr.ErrInvalidInput)
		}
	}

	current := s.itemLabels[itemID]
	next := make(map[int64]struct{}, len(current)+len(ids))
	for id := range current {
		if s.labels[id].GroupID != groupID {
			next[id] = struct{}{}
		}
	}
	for _, id := range ids {
		next[id] = struct{}{}
	}
	s.itemLabels[itemID] = next
	return nil
}

// GetLabelVector returns a copy of the stored vector.
func (s *Store) GetLabelVector(ctx context.Context, labelID int64) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vectors[labelID]
	if !ok {
		return nil, false, nil
	}
	return append([]float64(nil), v...), true, nil
}

// SetLabelVector stores a copy of vector for the label.
func (s *Store) SetLabelVector(ctx context.Context, labelID int64, vector []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.labels[labelID]; !ok {
		return fmt.Errorf("label %d: %w", labelID, internalerr.ErrNotFound)
	}
	s.vectors[labelID] = append([]float64(nil), vector...)
	return nil
}

// PersistItemError records the last error on an item.
func (s *Store) PersistItemError(ctx context.Context, itemID string, e store.ItemError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[itemID]; !ok {
		return fmt.Errorf("item %q: %w", itemID, internalerr.ErrNotFound)
	}
	s.itemErrors[itemID] = e
	return nil
}

// ClearItemError removes the error record, if any.
func (s *Store) ClearItemError(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.itemErrors, itemID)
	return nil
}

// GetItemError returns the recorded error for an item.
func (s *Store) GetItemError(ctx context.Context, itemID string) (store.ItemError, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.itemErrors[itemID]
	return e, ok, nil
}

func labelKey(groupID int64, name string) string {
	return fmt.Sprintf("%d\x00%s", groupID, name)
}

func sortLabels(labels []store.Label) {
	sort.Slice(labels, func(i, j int) bool {
		return labels[i].ID < labels[j].ID
	})
}
