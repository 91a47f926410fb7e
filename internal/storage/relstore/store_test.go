package relstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"modeldb/internal/storage"
	"modeldb/pkg/domain"
	"modeldb/pkg/query"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), storage.DefaultConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedTestRun(t *testing.T, s *Store, run domain.ExperimentRun) {
	t.Helper()
	doc, err := storage.Encode(run)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := s.Insert(context.Background(), s.cfg.ExperimentRuns, doc); err != nil {
		t.Fatalf("insert %s: %v", run.ID, err)
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: DialectPostgres}
	if got := pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"); got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Fatalf("postgres rebind: %q", got)
	}
	lite := &Store{dialect: DialectSQLite}
	in := "SELECT * FROM t WHERE a = ? AND b = ?"
	if got := lite.rebind(in); got != in {
		t.Fatalf("sqlite rebind should be identity, got %q", got)
	}
}

func TestUnsupportedQueryShapes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	col := s.cfg.ExperimentRuns

	cases := []struct {
		name string
		call func() error
		want func(error) bool
	}{
		{
			name: "filter on json column",
			call: func() error {
				_, err := s.Find(ctx, col, query.Filter{Clauses: []query.Clause{{
					Field: storage.FieldObservations, Op: query.OpEQ, Value: domain.StringValue("x"),
				}}}, storage.FindOptions{})
				return err
			},
			want: domain.IsUnimplemented,
		},
		{
			name: "element match on tag list",
			call: func() error {
				_, err := s.Find(ctx, col, query.Filter{Clauses: []query.Clause{{
					Field: storage.FieldTags, ElemKey: "x", Op: query.OpEQ, Value: domain.StringValue("y"),
				}}}, storage.FindOptions{})
				return err
			},
			want: domain.IsUnimplemented,
		},
		{
			name: "filter on unknown field",
			call: func() error {
				_, err := s.Find(ctx, col, query.Filter{Clauses: []query.Clause{{
					Field: "owner", Op: query.OpEQ, Value: domain.StringValue("me"),
				}}}, storage.FindOptions{})
				return err
			},
			want: domain.IsInvalidArgument,
		},
		{
			name: "sort by child list",
			call: func() error {
				_, err := s.Find(ctx, col, query.Filter{},
					storage.FindOptions{Sort: &query.Sort{Key: storage.FieldMetrics}})
				return err
			},
			want: domain.IsUnimplemented,
		},
		{
			name: "pipeline over tag list",
			call: func() error {
				_, err := s.SortedIDs(ctx, col, query.Pipeline{Unwind: storage.FieldTags, ElemField: "value"})
				return err
			},
			want: domain.IsUnimplemented,
		},
		{
			name: "pipeline over unsupported element field",
			call: func() error {
				_, err := s.SortedIDs(ctx, col, query.Pipeline{Unwind: storage.FieldMetrics, ElemField: "path"})
				return err
			},
			want: domain.IsUnimplemented,
		},
		{
			name: "project scope on project collection",
			call: func() error {
				_, err := s.Find(ctx, s.cfg.Projects, query.Filter{ProjectID: "p"}, storage.FindOptions{})
				return err
			},
			want: domain.IsInvalidArgument,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !tc.want(err) {
				t.Fatalf("got %v", err)
			}
		})
	}
}

func TestTimestampPredicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seedTestRun(t, s, domain.ExperimentRun{
		Base: domain.Base{ID: "run-old", CreatedAt: base, UpdatedAt: base},
		ProjectID: "p", ExperimentID: "e", Name: "old",
	})
	seedTestRun(t, s, domain.ExperimentRun{
		Base: domain.Base{ID: "run-new", CreatedAt: base.Add(time.Hour), UpdatedAt: base},
		ProjectID: "p", ExperimentID: "e", Name: "new",
	})

	cutoff := base.Add(30 * time.Minute)
	byString := query.Filter{Clauses: []query.Clause{{
		Field: storage.FieldCreatedAt, Op: query.OpGT,
		Value: domain.StringValue(cutoff.Format(time.RFC3339Nano)),
	}}}
	n, err := s.Count(ctx, s.cfg.ExperimentRuns, byString)
	if err != nil || n != 1 {
		t.Fatalf("string cutoff: n=%d err=%v", n, err)
	}

	// Numbers are epoch milliseconds on the wire.
	byNumber := query.Filter{Clauses: []query.Clause{{
		Field: storage.FieldCreatedAt, Op: query.OpLTE,
		Value: domain.NumberValue(float64(cutoff.UnixMilli())),
	}}}
	n, err = s.Count(ctx, s.cfg.ExperimentRuns, byNumber)
	if err != nil || n != 1 {
		t.Fatalf("numeric cutoff: n=%d err=%v", n, err)
	}

	badKind := query.Filter{Clauses: []query.Clause{{
		Field: storage.FieldCreatedAt, Op: query.OpGT, Value: domain.BoolValue(true),
	}}}
	if _, err := s.Count(ctx, s.cfg.ExperimentRuns, badKind); !domain.IsInvalidArgument(err) {
		t.Fatalf("bool timestamp predicate: want invalid-argument, got %v", err)
	}
}

func TestTextKindMismatchMatchesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTestRun(t, s, domain.ExperimentRun{
		Base: domain.Base{ID: "run-1"}, ProjectID: "p", ExperimentID: "e", Name: "alpha",
	})
	f := query.Filter{Clauses: []query.Clause{{
		Field: storage.FieldName, Op: query.OpEQ, Value: domain.NumberValue(7),
	}}}
	n, err := s.Count(ctx, s.cfg.ExperimentRuns, f)
	if err != nil || n != 0 {
		t.Fatalf("number against text column: n=%d err=%v", n, err)
	}
}

func TestChildTableOrderSurvivesReload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := domain.ExperimentRun{
		Base: domain.Base{ID: "run-1"}, ProjectID: "p", ExperimentID: "e", Name: "ordered",
		Tags: []string{"z", "a", "m"},
		Hyperparameters: []domain.KeyValue{
			{Key: "lr", Value: domain.NumberValue(0.1)},
			{Key: "lr", Value: domain.NumberValue(0.01)},
			{Key: "batch", Value: domain.NumberValue(64)},
		},
	}
	seedTestRun(t, s, run)

	doc, ok, err := s.Get(ctx, s.cfg.ExperimentRuns, "run-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	got, err := storage.DecodeExperimentRun(doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i, tag := range run.Tags {
		if got.Tags[i] != tag {
			t.Fatalf("tag order changed: %v", got.Tags)
		}
	}
	if len(got.Hyperparameters) != 3 || got.Hyperparameters[0].Key != "lr" || got.Hyperparameters[2].Key != "batch" {
		t.Fatalf("hyperparameter order changed: %+v", got.Hyperparameters)
	}
	if !got.Hyperparameters[1].Value.Equal(domain.NumberValue(0.01)) {
		t.Fatalf("duplicate keys must both survive: %+v", got.Hyperparameters)
	}
}
