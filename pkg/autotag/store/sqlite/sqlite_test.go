package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cognicore/autotag/pkg/autotag/internalerr"
	"github.com/cognicore/autotag/pkg/autotag/store"
)

var _ store.Store = (*Store)(nil)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestItemsAndBodies(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if err := st.UpsertItem(ctx, "post-1", "first"); err != nil {
		t.Fatalf("UpsertItem: %v", err)
	}
	if err := st.UpsertItem(ctx, "post-1", "second"); err != nil {
		t.Fatalf("UpsertItem: %v", err)
	}

	body, err := st.GetContentBody(ctx, "post-1")
	if err != nil {
		t.Fatalf("GetContentBody: %v", err)
	}
	if body != "second" {
		t.Errorf("body = %q, want %q", body, "second")
	}

	if _, err := st.GetContentBody(ctx, "missing"); !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	ids, err := st.ListItemIDs(ctx)
	if err != nil {
		t.Fatalf("ListItemIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "post-1" {
		t.Errorf("ListItemIDs = %v", ids)
	}
}

func TestLabelsAndGroups(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	g, err := st.EnsureLabelGroup(ctx, "category")
	if err != nil {
		t.Fatalf("EnsureLabelGroup: %v", err)
	}
	if again, _ := st.EnsureLabelGroup(ctx, "category"); again.ID != g.ID {
		t.Errorf("EnsureLabelGroup not idempotent: %d vs %d", again.ID, g.ID)
	}

	tech, err := st.CreateLabel(ctx, g.ID, "Tech")
	if err != nil {
		t.Fatalf("CreateLabel: %v", err)
	}
	dup, err := st.CreateLabel(ctx, g.ID, "Tech")
	if err != nil {
		t.Fatalf("CreateLabel duplicate: %v", err)
	}
	if dup.ID != tech.ID {
		t.Errorf("duplicate CreateLabel returned new id %d (want %d)", dup.ID, tech.ID)
	}

	found, ok, err := st.FindLabel(ctx, g.ID, "Tech")
	if err != nil || !ok {
		t.Fatalf("FindLabel: ok=%v err=%v", ok, err)
	}
	if found != tech {
		t.Errorf("FindLabel = %+v, want %+v", found, tech)
	}

	if _, ok, _ := st.FindLabel(ctx, g.ID, "Science"); ok {
		t.Error("unexpected label Science")
	}
	if _, err := st.CreateLabel(ctx, 999, "Orphan"); !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown group, got %v", err)
	}

	got, err := st.GetLabel(ctx, tech.ID)
	if err != nil {
		t.Fatalf("GetLabel: %v", err)
	}
	if got.GroupID != g.ID {
		t.Errorf("label group = %d, want %d", got.GroupID, g.ID)
	}
}

func TestReplaceItemLabels(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	_ = st.UpsertItem(ctx, "post-1", "body")
	cats, _ := st.EnsureLabelGroup(ctx, "category")
	keys, _ := st.EnsureLabelGroup(ctx, "keyword")
	tech, _ := st.CreateLabel(ctx, cats.ID, "Tech")
	sport, _ := st.CreateLabel(ctx, cats.ID, "Sport")
	golang, _ := st.CreateLabel(ctx, keys.ID, "golang")

	if err := st.ReplaceItemLabels(ctx, "post-1", keys.ID, []int64{golang.ID}); err != nil {
		t.Fatalf("ReplaceItemLabels keywords: %v", err)
	}
	if err := st.ReplaceItemLabels(ctx, "post-1", cats.ID, []int64{tech.ID, sport.ID, tech.ID}); err != nil {
		t.Fatalf("ReplaceItemLabels categories: %v", err)
	}

	labels, _ := st.GetItemLabels(ctx, "post-1", cats.ID)
	if len(labels) != 2 {
		t.Fatalf("expected 2 category labels, got %+v", labels)
	}

	if err := st.ReplaceItemLabels(ctx, "post-1", cats.ID, nil); err != nil {
		t.Fatalf("ReplaceItemLabels empty: %v", err)
	}
	labels, _ = st.GetItemLabels(ctx, "post-1", cats.ID)
	if len(labels) != 0 {
		t.Errorf("expected no category labels, got %+v", labels)
	}

	kw, _ := st.GetItemLabels(ctx, "post-1", keys.ID)
	if len(kw) != 1 || kw[0].ID != golang.ID {
		t.Errorf("keyword labels changed: %+v", kw)
	}
}

func TestReplaceItemLabelsRollsBack(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	_ = st.UpsertItem(ctx, "post-1", "body")
	cats, _ := st.EnsureLabelGroup(ctx, "category")
	keys, _ := st.EnsureLabelGroup(ctx, "keyword")
	tech, _ := st.CreateLabel(ctx, cats.ID, "Tech")
	golang, _ := st.CreateLabel(ctx, keys.ID, "golang")

	_ = st.ReplaceItemLabels(ctx, "post-1", cats.ID, []int64{tech.ID})

	err := st.ReplaceItemLabels(ctx, "post-1", cats.ID, []int64{golang.ID})
	if !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	err = st.ReplaceItemLabels(ctx, "post-1", cats.ID, []int64{12345})
	if !errors.Is(err, internalerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	labels, _ := st.GetItemLabels(ctx, "post-1", cats.ID)
	if len(labels) != 1 || labels[0].ID != tech.ID {
		t.Errorf("failed replace must keep previous labels, got %+v", labels)
	}

	if err := st.ReplaceItemLabels(ctx, "ghost", cats.ID, []int64{tech.ID}); !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown item, got %v", err)
	}
}

func TestLabelVectors(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	g, _ := st.EnsureLabelGroup(ctx, "category")
	l, _ := st.CreateLabel(ctx, g.ID, "Tech")

	if _, ok, err := st.GetLabelVector(ctx, l.ID); err != nil || ok {
		t.Fatalf("expected no vector, ok=%v err=%v", ok, err)
	}

	if err := st.SetLabelVector(ctx, l.ID, []float64{0.25, -1, 3.5}); err != nil {
		t.Fatalf("SetLabelVector: %v", err)
	}
	if err := st.SetLabelVector(ctx, l.ID, []float64{1, 0}); err != nil {
		t.Fatalf("SetLabelVector overwrite: %v", err)
	}

	vec, ok, err := st.GetLabelVector(ctx, l.ID)
	if err != nil || !ok {
		t.Fatalf("GetLabelVector: ok=%v err=%v", ok, err)
	}
	if len(vec) != 2 || vec[0] != 1 || vec[1] != 0 {
		t.Errorf("vector = %v, want [1 0]", vec)
	}

	if err := st.SetLabelVector(ctx, 999, []float64{1}); !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown label, got %v", err)
	}
}

func TestItemErrors(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	_ = st.UpsertItem(ctx, "post-1", "body")

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := store.ItemError{Code: "rate_limit", Message: "slow down", RunID: "01HX", At: at}
	if err := st.PersistItemError(ctx, "post-1", rec); err != nil {
		t.Fatalf("PersistItemError: %v", err)
	}

	got, ok, err := st.GetItemError(ctx, "post-1")
	if err != nil || !ok {
		t.Fatalf("GetItemError: ok=%v err=%v", ok, err)
	}
	if got.Code != rec.Code || got.Message != rec.Message || got.RunID != rec.RunID || !got.At.Equal(at) {
		t.Errorf("GetItemError = %+v, want %+v", got, rec)
	}

	if err := st.ClearItemError(ctx, "post-1"); err != nil {
		t.Fatalf("ClearItemError: %v", err)
	}
	if _, ok, _ := st.GetItemError(ctx, "post-1"); ok {
		t.Error("expected error record to be cleared")
	}

	if err := st.PersistItemError(ctx, "ghost", rec); !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown item, got %v", err)
	}
}

func TestConcurrentReplace(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	g, _ := st.EnsureLabelGroup(ctx, "category")
	var ids []int64
	for i := 0; i < 5; i++ {
		l, err := st.CreateLabel(ctx, g.ID, fmt.Sprintf("label-%d", i))
		if err != nil {
			t.Fatalf("CreateLabel: %v", err)
		}
		ids = append(ids, l.ID)
	}
	_ = st.UpsertItem(ctx, "post-1", "body")

	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			errs <- st.ReplaceItemLabels(ctx, "post-1", g.ID, []int64{id})
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("ReplaceItemLabels: %v", err)
		}
	}

	labels, _ := st.GetItemLabels(ctx, "post-1", g.ID)
	if len(labels) != 1 {
		t.Errorf("serialized replaces must leave exactly one label, got %+v", labels)
	}
}

func TestOpenUnreachablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "test.db")
	if _, err := OpenSQLite(context.Background(), path); !errors.Is(err, internalerr.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
