// Package docstore provides the in-memory document backend. Documents are
// held as deep-cloned JSON-shaped maps; filters, updates, and flatten
// pipelines are evaluated natively against the document form, making this the
// reference implementation of the storage capability.
package docstore

import (
	"context"
	"encoding/json"
	"sync"

	"modeldb/internal/storage"
	"modeldb/pkg/domain"
	"modeldb/pkg/query"
)

// Compile-time contract assertion ensuring the store satisfies the storage interface.
var _ storage.Store = (*Store)(nil)

type collection struct {
	docs  map[string]storage.Document
	order []string // insertion order; the backend's natural scan order
}

// Store is the in-memory document backend.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// New returns an empty document store.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

func (s *Store) collectionLocked(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{docs: make(map[string]storage.Document)}
		s.collections[name] = c
	}
	return c
}

// Insert adds a deep-cloned copy of doc. The document id must be unique.
func (s *Store) Insert(_ context.Context, col string, doc storage.Document) error {
	id, _ := doc[storage.FieldID].(string)
	if id == "" {
		return domain.Errorf(domain.CodeInvalidArgument, "document in %s has no id", col)
	}
	clone, err := cloneDocument(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collectionLocked(col)
	if _, exists := c.docs[id]; exists {
		return domain.Errorf(domain.CodeAlreadyExists, "document %s already exists in %s", id, col)
	}
	c.docs[id] = clone
	c.order = append(c.order, id)
	return nil
}

// Get reads one document by id, returning a deep clone.
func (s *Store) Get(_ context.Context, col, id string) (storage.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[col]
	if !ok {
		return nil, false, nil
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil, false, nil
	}
	clone, err := cloneDocument(doc)
	if err != nil {
		return nil, false, err
	}
	return clone, true, nil
}

// Find scans the collection in insertion order, applies the filter, then the
// optional sort (stable, so ties keep scan order) and limit.
func (s *Store) Find(_ context.Context, col string, f query.Filter, opts storage.FindOptions) ([]storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[col]
	if !ok {
		return nil, nil
	}
	var out []storage.Document
	for _, id := range c.order {
		doc := c.docs[id]
		match, err := matchDocument(doc, f)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}
		clone, err := cloneDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	if opts.Sort != nil {
		if _, _, nested := opts.Sort.Nested(); nested {
			return nil, domain.Errorf(domain.CodeInvalidArgument,
				"nested sort key %q requires pipeline execution", opts.Sort.Key)
		}
		sortDocuments(out, opts.Sort.Key, opts.Sort.Ascending)
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Count reports how many documents match the filter.
func (s *Store) Count(_ context.Context, col string, f query.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[col]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, doc := range c.docs {
		match, err := matchDocument(doc, f)
		if err != nil {
			return 0, err
		}
		if match {
			n++
		}
	}
	return n, nil
}

// Update applies one declarative mutation to the document addressed by id.
// The returned count is zero when the document is absent or, for
// element-level operations, when nothing changed.
func (s *Store) Update(_ context.Context, col, id string, u query.Update) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[col]
	if !ok {
		return 0, nil
	}
	doc, ok := c.docs[id]
	if !ok {
		return 0, nil
	}
	changed, err := applyUpdate(doc, u)
	if err != nil {
		return 0, err
	}
	if !changed {
		return 0, nil
	}
	return 1, nil
}

// Delete removes every document matching the filter.
func (s *Store) Delete(_ context.Context, col string, f query.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[col]
	if !ok {
		return 0, nil
	}
	var removed int64
	kept := c.order[:0]
	for _, id := range c.order {
		doc := c.docs[id]
		match, err := matchDocument(doc, f)
		if err != nil {
			return removed, err
		}
		if match {
			delete(c.docs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
	return removed, nil
}

// SortedIDs flattens the pipeline's sub-list, filters, sorts, and projects
// owner identifiers in order, deduplicated at their best-ranked position.
func (s *Store) SortedIDs(_ context.Context, col string, p query.Pipeline) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[col]
	if !ok {
		return nil, nil
	}
	var rows []pipelineRow
	for _, id := range c.order {
		doc := c.docs[id]
		match, err := matchDocument(doc, p.Scope)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}
		rows = append(rows, unwindDocument(doc, id, p.Unwind, p.ElemField)...)
	}
	sortRows(rows, p.Ascending)
	ids := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if _, dup := seen[r.ownerID]; dup {
			continue
		}
		seen[r.ownerID] = struct{}{}
		ids = append(ids, r.ownerID)
		if p.Limit > 0 && len(ids) == p.Limit {
			break
		}
	}
	return ids, nil
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error { return nil }

func cloneDocument(doc storage.Document) (storage.Document, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, domain.WrapInternal("clone document", err)
	}
	var out storage.Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, domain.WrapInternal("clone document", err)
	}
	return out, nil
}
