package dao

import (
	"context"

	"modeldb/internal/storage"
	"modeldb/pkg/query"
)

// Selector answers find requests. Plain sort keys go to the backend's native
// find; a dotted sort key is executed as a flatten pipeline followed by
// order-preserving rehydration of the projected identifiers.
type Selector struct {
	store storage.Store
}

// NewSelector builds a selector over the given backend.
func NewSelector(store storage.Store) *Selector {
	return &Selector{store: store}
}

// Documents returns the matching documents, sorted and truncated.
func (s *Selector) Documents(ctx context.Context, col string, f query.Filter, srt *query.Sort, limit int) ([]storage.Document, error) {
	if p, nested := pipelineFor(f, srt, limit); nested {
		ids, err := s.store.SortedIDs(ctx, col, p)
		if err != nil {
			return nil, err
		}
		out := make([]storage.Document, 0, len(ids))
		for _, id := range ids {
			doc, ok, err := s.store.Get(ctx, col, id)
			if err != nil {
				return nil, err
			}
			// A document deleted between projection and rehydration is
			// silently skipped.
			if ok {
				out = append(out, doc)
			}
		}
		return out, nil
	}
	return s.store.Find(ctx, col, f, storage.FindOptions{Sort: srt, Limit: limit})
}

// IDs returns matching identifiers only, skipping rehydration for pipeline
// sorts.
func (s *Selector) IDs(ctx context.Context, col string, f query.Filter, srt *query.Sort, limit int) ([]string, error) {
	if p, nested := pipelineFor(f, srt, limit); nested {
		return s.store.SortedIDs(ctx, col, p)
	}
	docs, err := s.store.Find(ctx, col, f, storage.FindOptions{Sort: srt, Limit: limit})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if id, ok := doc[storage.FieldID].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func pipelineFor(f query.Filter, srt *query.Sort, limit int) (query.Pipeline, bool) {
	if srt == nil {
		return query.Pipeline{}, false
	}
	list, field, nested := srt.Nested()
	if !nested {
		return query.Pipeline{}, false
	}
	return query.Pipeline{
		Unwind:    list,
		ElemField: field,
		Scope:     f,
		Ascending: srt.Ascending,
		Limit:     limit,
	}, true
}
