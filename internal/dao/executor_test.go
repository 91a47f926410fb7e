package dao

import (
	"context"
	"testing"
	"time"

	"modeldb/internal/storage"
	"modeldb/internal/storage/docstore"
	"modeldb/pkg/domain"
	"modeldb/pkg/query"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func seedDoc(t *testing.T, store storage.Store, col string, doc storage.Document) {
	t.Helper()
	if err := store.Insert(context.Background(), col, doc); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestExecutorStampsUpdatedAt(t *testing.T) {
	store := docstore.New()
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	exec := NewExecutor(store, ExecutorOptions{Now: fixedClock(now)})
	seedDoc(t, store, "experiment_runs", storage.Document{
		storage.FieldID:        "run-1",
		storage.FieldUpdatedAt: "2020-01-01T00:00:00Z",
		storage.FieldTags:      []any{},
	})

	doc, err := exec.Apply(context.Background(), "experiment_runs", "run-1",
		query.AddUnique(storage.FieldTags, []any{"prod"}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := doc[storage.FieldUpdatedAt]; got != timestamp(now) {
		t.Fatalf("updated_at not stamped: %v", got)
	}
}

func TestExecutorKeepsExplicitUpdatedAt(t *testing.T) {
	store := docstore.New()
	clock := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	exec := NewExecutor(store, ExecutorOptions{Now: fixedClock(clock)})
	seedDoc(t, store, "experiment_runs", storage.Document{
		storage.FieldID:        "run-1",
		storage.FieldUpdatedAt: "2020-01-01T00:00:00Z",
	})

	explicit := "2023-12-31T23:59:59Z"
	doc, err := exec.Apply(context.Background(), "experiment_runs", "run-1",
		query.SetFields(map[string]any{
			storage.FieldName:      "renamed",
			storage.FieldUpdatedAt: explicit,
		}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := doc[storage.FieldUpdatedAt]; got != explicit {
		t.Fatalf("explicit updated_at was overwritten: %v", got)
	}
}

func TestExecutorZeroAffected(t *testing.T) {
	store := docstore.New()
	exec := NewExecutor(store, ExecutorOptions{})
	seedDoc(t, store, "experiment_runs", storage.Document{
		storage.FieldID:   "run-1",
		storage.FieldTags: []any{"prod"},
	})
	ctx := context.Background()

	// No-op on an existing document.
	_, err := exec.Apply(ctx, "experiment_runs", "run-1",
		query.AddUnique(storage.FieldTags, []any{"prod"}))
	if !domain.IsAlreadyExists(err) {
		t.Fatalf("no-op update: want already-exists, got %v", err)
	}

	// Missing document is indistinguishable without the extra read.
	_, err = exec.Apply(ctx, "experiment_runs", "ghost",
		query.AddUnique(storage.FieldTags, []any{"prod"}))
	if !domain.IsAlreadyExists(err) {
		t.Fatalf("missing target: want already-exists, got %v", err)
	}
}

func TestExecutorDistinguishMissing(t *testing.T) {
	store := docstore.New()
	exec := NewExecutor(store, ExecutorOptions{DistinguishMissing: true})
	seedDoc(t, store, "experiment_runs", storage.Document{
		storage.FieldID:   "run-1",
		storage.FieldTags: []any{"prod"},
	})
	ctx := context.Background()

	_, err := exec.Apply(ctx, "experiment_runs", "ghost",
		query.AddUnique(storage.FieldTags, []any{"prod"}))
	if !domain.IsNotFound(err) {
		t.Fatalf("missing target: want not-found, got %v", err)
	}
	_, err = exec.Apply(ctx, "experiment_runs", "run-1",
		query.AddUnique(storage.FieldTags, []any{"prod"}))
	if !domain.IsAlreadyExists(err) {
		t.Fatalf("no-op on live target: want already-exists, got %v", err)
	}
}

func TestExecutorBatchSucceedsWhenAnyWriteLands(t *testing.T) {
	store := docstore.New()
	exec := NewExecutor(store, ExecutorOptions{})
	seedDoc(t, store, "experiment_runs", storage.Document{
		storage.FieldID:   "run-1",
		storage.FieldTags: []any{"prod"},
	})

	doc, err := exec.ApplyAll(context.Background(), "experiment_runs", "run-1",
		query.AddUnique(storage.FieldTags, []any{"prod"}),
		query.AddUnique(storage.FieldTags, []any{"new"}))
	if err != nil {
		t.Fatalf("batch with one landing write: %v", err)
	}
	tags := decodeStrings(doc[storage.FieldTags])
	if len(tags) != 2 {
		t.Fatalf("tags after batch: %v", tags)
	}
}

func TestExecutorRejectsEmptyBatch(t *testing.T) {
	exec := NewExecutor(docstore.New(), ExecutorOptions{})
	if _, err := exec.ApplyAll(context.Background(), "experiment_runs", "run-1"); !domain.IsInvalidArgument(err) {
		t.Fatalf("empty batch: want invalid-argument, got %v", err)
	}
}
