// Package dao composes the storage capability, predicate compiler, selector,
// and mutation executor into the domain operation set. Each entity type gets
// a thin accessor over one shared Registry so the DAOs can share the
// executor, selector, and collection configuration.
package dao

import (
	"context"
	"encoding/json"
	"time"

	"modeldb/internal/storage"
	"modeldb/pkg/domain"
	"modeldb/pkg/query"
)

// Options tunes DAO behavior at construction time.
type Options struct {
	// Compile is forwarded to the predicate compiler.
	Compile query.CompileOptions
	// DistinguishMissing makes zero-affected-row updates spend one read to
	// report a missing target as not-found instead of already-exists.
	DistinguishMissing bool
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Registry holds the shared machinery behind the entity DAOs.
type Registry struct {
	store storage.Store
	cfg   storage.Config
	opts  Options
	exec  *Executor
	sel   *Selector
}

// NewRegistry builds the DAO registry over one storage backend.
func NewRegistry(store storage.Store, cfg storage.Config, opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		store: store,
		cfg:   cfg,
		opts:  opts,
		exec: NewExecutor(store, ExecutorOptions{
			DistinguishMissing: opts.DistinguishMissing,
			Now:                opts.Now,
		}),
		sel: NewSelector(store),
	}
}

// Store exposes the underlying backend for service-level operations.
func (r *Registry) Store() storage.Store { return r.store }

// Config reports the collection names the registry was built with.
func (r *Registry) Config() storage.Config { return r.cfg }

// collectionFor maps an entity kind to its collection name, so child-list
// operations addressed by an explicit parent reference never branch on
// runtime types.
func (r *Registry) collectionFor(kind domain.EntityType) (string, error) {
	switch kind {
	case domain.EntityProject:
		return r.cfg.Projects, nil
	case domain.EntityExperiment:
		return r.cfg.Experiments, nil
	case domain.EntityExperimentRun:
		return r.cfg.ExperimentRuns, nil
	default:
		return "", domain.Errorf(domain.CodeInvalidArgument, "unknown entity kind %q", kind)
	}
}

// compile turns caller predicates into filter clauses using the registry's
// compile options. An empty predicate list compiles to no clauses.
func (r *Registry) compile(preds []query.Predicate) ([]query.Clause, error) {
	return query.Compile(preds, r.opts.Compile)
}

// nameTaken reports whether a live document in col already carries the name,
// within the given scope. The check-then-insert sequence is not atomic:
// two concurrent creates can both pass the check and both insert.
func (r *Registry) nameTaken(ctx context.Context, col, name string, scope query.Filter) (bool, error) {
	scope.Clauses = append(scope.Clauses, query.Clause{
		Field: storage.FieldName,
		Op:    query.OpEQ,
		Value: domain.StringValue(name),
	})
	n, err := r.store.Count(ctx, col, scope)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// renameConflict reports whether renaming id to name would collide with a
// different document in col under the given scope.
func (r *Registry) renameConflict(ctx context.Context, col, id, name string, scope query.Filter) (bool, error) {
	scope.Clauses = append(scope.Clauses, query.Clause{
		Field: storage.FieldName,
		Op:    query.OpEQ,
		Value: domain.StringValue(name),
	})
	docs, err := r.store.Find(ctx, col, scope, storage.FindOptions{Limit: 2})
	if err != nil {
		return false, err
	}
	for _, doc := range docs {
		if other, _ := doc[storage.FieldID].(string); other != id {
			return true, nil
		}
	}
	return false, nil
}

// defaultSort applies the pagination default: newest first by creation time.
func defaultSort(srt *query.Sort) *query.Sort {
	if srt != nil {
		return srt
	}
	return &query.Sort{Key: storage.FieldCreatedAt}
}

// timestamp renders a time into the document wire form.
func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// elements encodes each typed child entry into its document form.
func elements[T any](in []T) ([]any, error) {
	out := make([]any, len(in))
	for i, e := range in {
		doc, err := storage.Encode(e)
		if err != nil {
			return nil, err
		}
		out[i] = doc
	}
	return out, nil
}

func decodeStrings(raw any) []string {
	list, _ := raw.([]any)
	out := make([]string, 0, len(list))
	for _, e := range list {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func decodeKeyValues(raw any) ([]domain.KeyValue, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, domain.WrapInternal("encode key/value list", err)
	}
	var out []domain.KeyValue
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, domain.WrapInternal("decode key/value list", err)
	}
	return out, nil
}

func decodeArtifacts(raw any) ([]domain.Artifact, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, domain.WrapInternal("encode artifact list", err)
	}
	var out []domain.Artifact
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, domain.WrapInternal("decode artifact list", err)
	}
	return out, nil
}
