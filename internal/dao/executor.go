package dao

import (
	"context"
	"time"

	"modeldb/internal/storage"
	"modeldb/pkg/domain"
	"modeldb/pkg/query"
)

// ExecutorOptions tunes how the executor interprets zero-affected-row writes.
type ExecutorOptions struct {
	// DistinguishMissing spends one extra read on a zero-affected write to
	// report a missing target document as not-found.
	DistinguishMissing bool
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Executor runs declarative updates against one document and performs the
// read-after-write the callers rely on. A write that affects zero documents
// is a no-op: either the target was already in the requested state or the
// document does not exist. Both cases surface as already-exists; an executor
// built with DistinguishMissing reports the second as not-found instead.
type Executor struct {
	store              storage.Store
	distinguishMissing bool
	now                func() time.Time
}

// NewExecutor builds an executor over the given backend.
func NewExecutor(store storage.Store, opts ExecutorOptions) *Executor {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Executor{store: store, distinguishMissing: opts.DistinguishMissing, now: now}
}

// Apply runs one update, interprets the affected count, stamps the update
// time, and returns the document re-read after the write.
func (e *Executor) Apply(ctx context.Context, col, id string, u query.Update) (storage.Document, error) {
	return e.ApplyAll(ctx, col, id, u)
}

// ApplyAll runs a sequence of updates against one document. The writes are
// individually atomic, not transactional as a group; the zero-affected
// interpretation applies to the sequence as a whole, so a batch where at
// least one write landed succeeds.
func (e *Executor) ApplyAll(ctx context.Context, col, id string, updates ...query.Update) (storage.Document, error) {
	if len(updates) == 0 {
		return nil, domain.Errorf(domain.CodeInvalidArgument, "no updates to apply")
	}
	var affected int64
	for _, u := range updates {
		n, err := e.store.Update(ctx, col, id, u)
		if err != nil {
			return nil, err
		}
		affected += n
	}
	if affected == 0 {
		return nil, e.interpretZero(ctx, col, id)
	}
	if !setsUpdatedAt(updates) {
		touch := query.SetFields(map[string]any{storage.FieldUpdatedAt: timestamp(e.now())})
		if _, err := e.store.Update(ctx, col, id, touch); err != nil {
			return nil, err
		}
	}
	doc, ok, err := e.store.Get(ctx, col, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.Errorf(domain.CodeNotFound, "document %s vanished from %s after update", id, col)
	}
	return doc, nil
}

func (e *Executor) interpretZero(ctx context.Context, col, id string) error {
	if e.distinguishMissing {
		_, ok, err := e.store.Get(ctx, col, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.Errorf(domain.CodeNotFound, "document %s not found in %s", id, col)
		}
	}
	return domain.Errorf(domain.CodeAlreadyExists,
		"update of %s/%s changed nothing: target already in the requested state", col, id)
}

func setsUpdatedAt(updates []query.Update) bool {
	for _, u := range updates {
		if u.Kind != query.UpdateSet {
			continue
		}
		if _, ok := u.Set[storage.FieldUpdatedAt]; ok {
			return true
		}
	}
	return false
}
