package docstore

import (
	"context"
	"testing"
	"time"

	"modeldb/internal/storage"
	"modeldb/pkg/domain"
	"modeldb/pkg/query"
)

func encodeRun(t *testing.T, run domain.ExperimentRun) storage.Document {
	t.Helper()
	doc, err := storage.Encode(run)
	if err != nil {
		t.Fatalf("encode run: %v", err)
	}
	return doc
}

func seedRun(t *testing.T, s *Store, run domain.ExperimentRun) {
	t.Helper()
	if err := s.Insert(context.Background(), "experiment_runs", encodeRun(t, run)); err != nil {
		t.Fatalf("insert %s: %v", run.ID, err)
	}
}

func metric(key string, v float64) domain.KeyValue {
	return domain.KeyValue{Key: key, Value: domain.NumberValue(v)}
}

func TestInsertGetRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	run := domain.ExperimentRun{
		Base: domain.Base{
			ID:        "run-1",
			CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
			UpdatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		ProjectID:    "proj-1",
		ExperimentID: "exp-1",
		Name:         "baseline",
		Tags:         []string{"cv"},
		Metrics:      []domain.KeyValue{metric("acc", 0.91)},
	}
	seedRun(t, s, run)

	doc, ok, err := s.Get(ctx, "experiment_runs", "run-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	got, err := storage.DecodeExperimentRun(doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != run.Name || got.ExperimentID != run.ExperimentID || !got.CreatedAt.Equal(run.CreatedAt) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Metrics) != 1 || !got.Metrics[0].Value.Equal(domain.NumberValue(0.91)) {
		t.Fatalf("metrics lost in round trip: %+v", got.Metrics)
	}

	if err := s.Insert(ctx, "experiment_runs", encodeRun(t, run)); !domain.IsAlreadyExists(err) {
		t.Fatalf("duplicate insert: want already-exists, got %v", err)
	}
	if err := s.Insert(ctx, "experiment_runs", storage.Document{"name": "no-id"}); !domain.IsInvalidArgument(err) {
		t.Fatalf("insert without id: want invalid-argument, got %v", err)
	}
	if _, ok, err := s.Get(ctx, "experiment_runs", "ghost"); err != nil || ok {
		t.Fatalf("get missing: ok=%v err=%v", ok, err)
	}
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedRun(t, s, domain.ExperimentRun{
		Base: domain.Base{ID: "run-1"},
		Name: "original",
	})
	doc, _, err := s.Get(ctx, "experiment_runs", "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	doc[storage.FieldName] = "mutated"
	again, _, err := s.Get(ctx, "experiment_runs", "run-1")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if again[storage.FieldName] != "original" {
		t.Fatalf("caller mutation leaked into the store: %v", again[storage.FieldName])
	}
}

func seedThreeRuns(t *testing.T, s *Store) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	seedRun(t, s, domain.ExperimentRun{
		Base:         domain.Base{ID: "run-a", CreatedAt: base},
		ProjectID:    "proj-1",
		ExperimentID: "exp-1",
		Name:         "alpha",
		Tags:         []string{"cv", "prod"},
		Metrics:      []domain.KeyValue{metric("acc", 0.70)},
	})
	seedRun(t, s, domain.ExperimentRun{
		Base:         domain.Base{ID: "run-b", CreatedAt: base.Add(time.Hour)},
		ProjectID:    "proj-1",
		ExperimentID: "exp-2",
		Name:         "bravo",
		Tags:         []string{"cv"},
		Metrics:      []domain.KeyValue{metric("acc", 0.92)},
	})
	seedRun(t, s, domain.ExperimentRun{
		Base:         domain.Base{ID: "run-c", CreatedAt: base.Add(2 * time.Hour)},
		ProjectID:    "proj-2",
		ExperimentID: "exp-3",
		Name:         "charlie",
		Metrics:      []domain.KeyValue{metric("acc", 0.85), metric("loss", 0.4)},
	})
}

func ids(docs []storage.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i], _ = d[storage.FieldID].(string)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFindFilterSortLimit(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedThreeRuns(t, s)

	cases := []struct {
		name string
		f    query.Filter
		opts storage.FindOptions
		want []string
	}{
		{
			name: "no filter keeps insertion order",
			want: []string{"run-a", "run-b", "run-c"},
		},
		{
			name: "project scope",
			f:    query.Filter{ProjectID: "proj-1"},
			want: []string{"run-a", "run-b"},
		},
		{
			name: "experiment scope",
			f:    query.Filter{ExperimentID: "exp-3"},
			want: []string{"run-c"},
		},
		{
			name: "empty non-nil id list matches nothing",
			f:    query.Filter{IDs: []string{}},
			want: nil,
		},
		{
			name: "id list",
			f:    query.Filter{IDs: []string{"run-c", "run-a"}},
			want: []string{"run-a", "run-c"},
		},
		{
			name: "element match on metric value",
			f: query.Filter{Clauses: []query.Clause{{
				Field: storage.FieldMetrics, ElemKey: "acc", Op: query.OpGT, Value: domain.NumberValue(0.8),
			}}},
			want: []string{"run-b", "run-c"},
		},
		{
			name: "name contains",
			f: query.Filter{Clauses: []query.Clause{{
				Field: storage.FieldName, Op: query.OpContain, Value: domain.StringValue("ar"),
			}}},
			want: []string{"run-c"},
		},
		{
			name: "sort by name descending",
			opts: storage.FindOptions{Sort: &query.Sort{Key: storage.FieldName}},
			want: []string{"run-c", "run-b", "run-a"},
		},
		{
			name: "sort by created_at ascending with limit",
			opts: storage.FindOptions{Sort: &query.Sort{Key: storage.FieldCreatedAt, Ascending: true}, Limit: 2},
			want: []string{"run-a", "run-b"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			docs, err := s.Find(ctx, "experiment_runs", tc.f, tc.opts)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if got := ids(docs); !equalStrings(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFindRejectsNestedSortKey(t *testing.T) {
	s := New()
	seedThreeRuns(t, s)
	_, err := s.Find(context.Background(), "experiment_runs", query.Filter{},
		storage.FindOptions{Sort: &query.Sort{Key: "metrics.acc"}})
	if !domain.IsInvalidArgument(err) {
		t.Fatalf("nested sort through Find: want invalid-argument, got %v", err)
	}
}

func TestCountAndDelete(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedThreeRuns(t, s)

	n, err := s.Count(ctx, "experiment_runs", query.Filter{ProjectID: "proj-1"})
	if err != nil || n != 2 {
		t.Fatalf("count: n=%d err=%v", n, err)
	}
	removed, err := s.Delete(ctx, "experiment_runs", query.Filter{ProjectID: "proj-1"})
	if err != nil || removed != 2 {
		t.Fatalf("delete: removed=%d err=%v", removed, err)
	}
	left, err := s.Count(ctx, "experiment_runs", query.Filter{})
	if err != nil || left != 1 {
		t.Fatalf("count after delete: n=%d err=%v", left, err)
	}
	if _, ok, _ := s.Get(ctx, "experiment_runs", "run-a"); ok {
		t.Fatalf("run-a should be gone")
	}
}

func TestSortedIDsPipeline(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	// run-a carries two metric entries so dedupe keeps its best rank only.
	seedRun(t, s, domain.ExperimentRun{
		Base: domain.Base{ID: "run-a", CreatedAt: base}, ProjectID: "proj-1",
		Metrics: []domain.KeyValue{metric("acc", 0.95), metric("acc", 0.10)},
	})
	seedRun(t, s, domain.ExperimentRun{
		Base: domain.Base{ID: "run-b", CreatedAt: base}, ProjectID: "proj-1",
		Metrics: []domain.KeyValue{metric("acc", 0.80)},
	})
	seedRun(t, s, domain.ExperimentRun{
		Base: domain.Base{ID: "run-c", CreatedAt: base}, ProjectID: "proj-2",
		Metrics: []domain.KeyValue{metric("acc", 0.99)},
	})
	// run-d has no metrics at all and must not appear.
	seedRun(t, s, domain.ExperimentRun{
		Base: domain.Base{ID: "run-d", CreatedAt: base}, ProjectID: "proj-1",
	})

	got, err := s.SortedIDs(ctx, "experiment_runs", query.Pipeline{
		Unwind:    storage.FieldMetrics,
		ElemField: "value",
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if want := []string{"run-c", "run-a", "run-b"}; !equalStrings(got, want) {
		t.Fatalf("descending order: got %v, want %v", got, want)
	}

	got, err = s.SortedIDs(ctx, "experiment_runs", query.Pipeline{
		Unwind:    storage.FieldMetrics,
		ElemField: "value",
		Ascending: true,
	})
	if err != nil {
		t.Fatalf("ascending pipeline: %v", err)
	}
	if want := []string{"run-a", "run-b", "run-c"}; !equalStrings(got, want) {
		t.Fatalf("ascending order: got %v, want %v", got, want)
	}

	got, err = s.SortedIDs(ctx, "experiment_runs", query.Pipeline{
		Unwind:    storage.FieldMetrics,
		ElemField: "value",
		Scope:     query.Filter{ProjectID: "proj-1"},
		Limit:     1,
	})
	if err != nil {
		t.Fatalf("scoped pipeline: %v", err)
	}
	if want := []string{"run-a"}; !equalStrings(got, want) {
		t.Fatalf("scope and limit: got %v, want %v", got, want)
	}

	got, err = s.SortedIDs(ctx, "experiment_runs", query.Pipeline{
		Unwind:    storage.FieldMetrics,
		ElemField: "value",
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("oversized limit: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("limit past candidates should return all owners, got %v", got)
	}
}

func TestUpdateOperations(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedRun(t, s, domain.ExperimentRun{
		Base:    domain.Base{ID: "run-1"},
		Name:    "baseline",
		Tags:    []string{"cv"},
		Metrics: []domain.KeyValue{metric("acc", 0.5)},
	})

	push, err := storage.Encode(metric("loss", 0.3))
	if err != nil {
		t.Fatalf("encode element: %v", err)
	}
	affected, err := s.Update(ctx, "experiment_runs", "run-1", query.Push(storage.FieldMetrics, push))
	if err != nil || affected != 1 {
		t.Fatalf("push: affected=%d err=%v", affected, err)
	}

	affected, err = s.Update(ctx, "experiment_runs", "run-1",
		query.SetFields(map[string]any{storage.FieldDescription: "tuned"}))
	if err != nil || affected != 1 {
		t.Fatalf("set: affected=%d err=%v", affected, err)
	}
	if _, err := s.Update(ctx, "experiment_runs", "run-1", query.SetFields(nil)); !domain.IsInvalidArgument(err) {
		t.Fatalf("empty set: want invalid-argument, got %v", err)
	}

	affected, err = s.Update(ctx, "experiment_runs", "run-1",
		query.AddUnique(storage.FieldTags, []any{"cv", "prod"}))
	if err != nil || affected != 1 {
		t.Fatalf("add unique: affected=%d err=%v", affected, err)
	}
	affected, err = s.Update(ctx, "experiment_runs", "run-1",
		query.AddUnique(storage.FieldTags, []any{"cv", "prod"}))
	if err != nil || affected != 0 {
		t.Fatalf("add unique with all duplicates: affected=%d err=%v", affected, err)
	}

	affected, err = s.Update(ctx, "experiment_runs", "run-1",
		query.PullValues(storage.FieldTags, []any{"prod"}))
	if err != nil || affected != 1 {
		t.Fatalf("pull values: affected=%d err=%v", affected, err)
	}
	affected, err = s.Update(ctx, "experiment_runs", "run-1",
		query.PullValues(storage.FieldTags, []any{"absent"}))
	if err != nil || affected != 0 {
		t.Fatalf("pull absent value: affected=%d err=%v", affected, err)
	}

	affected, err = s.Update(ctx, "experiment_runs", "run-1",
		query.PullKeys(storage.FieldMetrics, []string{"loss"}))
	if err != nil || affected != 1 {
		t.Fatalf("pull keys: affected=%d err=%v", affected, err)
	}

	affected, err = s.Update(ctx, "experiment_runs", "run-1", query.Clear(storage.FieldMetrics))
	if err != nil || affected != 1 {
		t.Fatalf("clear: affected=%d err=%v", affected, err)
	}
	affected, err = s.Update(ctx, "experiment_runs", "run-1", query.Clear(storage.FieldMetrics))
	if err != nil || affected != 0 {
		t.Fatalf("clear on empty list: affected=%d err=%v", affected, err)
	}

	affected, err = s.Update(ctx, "experiment_runs", "ghost", query.Clear(storage.FieldMetrics))
	if err != nil || affected != 0 {
		t.Fatalf("update missing document: affected=%d err=%v", affected, err)
	}

	doc, _, err := s.Get(ctx, "experiment_runs", "run-1")
	if err != nil {
		t.Fatalf("final get: %v", err)
	}
	run, err := storage.DecodeExperimentRun(doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.Description != "tuned" || len(run.Metrics) != 0 || !equalStrings(run.Tags, []string{"cv"}) {
		t.Fatalf("final state mismatch: %+v", run)
	}
}
