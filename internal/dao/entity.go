package dao

import (
	"context"

	"modeldb/internal/storage"
	"modeldb/pkg/domain"
	"modeldb/pkg/query"
)

// Shared child-list operations. Every entity type carries tags and
// attributes, so these are addressed by an explicit parent reference instead
// of being repeated per DAO.

// AddTags appends each tag not already present on the referenced entity.
func (r *Registry) AddTags(ctx context.Context, ref domain.ParentRef, tags []string) error {
	if len(tags) == 0 {
		return domain.Errorf(domain.CodeInvalidArgument, "no tags given")
	}
	col, err := r.collectionFor(ref.Kind)
	if err != nil {
		return err
	}
	_, err = r.exec.Apply(ctx, col, ref.ID, query.AddUnique(storage.FieldTags, stringsToAny(tags)))
	return err
}

// DeleteTags removes the listed tags, or every tag when deleteAll is set.
// Listing tags and asking for all at once is rejected.
func (r *Registry) DeleteTags(ctx context.Context, ref domain.ParentRef, tags []string, deleteAll bool) error {
	col, err := r.collectionFor(ref.Kind)
	if err != nil {
		return err
	}
	if deleteAll {
		if len(tags) > 0 {
			return domain.Errorf(domain.CodeInvalidArgument, "delete-all cannot also list tags")
		}
		_, err = r.exec.Apply(ctx, col, ref.ID, query.Clear(storage.FieldTags))
		return err
	}
	if len(tags) == 0 {
		return domain.Errorf(domain.CodeInvalidArgument, "no tags given")
	}
	_, err = r.exec.Apply(ctx, col, ref.ID, query.PullValues(storage.FieldTags, stringsToAny(tags)))
	return err
}

// GetTags reads the tag list of the referenced entity.
func (r *Registry) GetTags(ctx context.Context, ref domain.ParentRef) ([]string, error) {
	doc, err := r.getDocument(ctx, ref)
	if err != nil {
		return nil, err
	}
	return decodeStrings(doc[storage.FieldTags]), nil
}

// AddAttributes appends the given attributes. Duplicate keys are permitted.
func (r *Registry) AddAttributes(ctx context.Context, ref domain.ParentRef, attrs []domain.KeyValue) error {
	if len(attrs) == 0 {
		return domain.Errorf(domain.CodeInvalidArgument, "no attributes given")
	}
	col, err := r.collectionFor(ref.Kind)
	if err != nil {
		return err
	}
	elems, err := elements(attrs)
	if err != nil {
		return err
	}
	updates := make([]query.Update, len(elems))
	for i, e := range elems {
		updates[i] = query.Push(storage.FieldAttributes, e)
	}
	_, err = r.exec.ApplyAll(ctx, col, ref.ID, updates...)
	return err
}

// GetAttributes reads attributes, restricted to the listed keys when keys is
// non-empty.
func (r *Registry) GetAttributes(ctx context.Context, ref domain.ParentRef, keys []string) ([]domain.KeyValue, error) {
	doc, err := r.getDocument(ctx, ref)
	if err != nil {
		return nil, err
	}
	attrs, err := decodeKeyValues(doc[storage.FieldAttributes])
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return attrs, nil
	}
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	out := attrs[:0]
	for _, kv := range attrs {
		if _, ok := want[kv.Key]; ok {
			out = append(out, kv)
		}
	}
	return out, nil
}

// DeleteAttributes removes attributes by key, or every attribute when
// deleteAll is set.
func (r *Registry) DeleteAttributes(ctx context.Context, ref domain.ParentRef, keys []string, deleteAll bool) error {
	col, err := r.collectionFor(ref.Kind)
	if err != nil {
		return err
	}
	if deleteAll {
		if len(keys) > 0 {
			return domain.Errorf(domain.CodeInvalidArgument, "delete-all cannot also list keys")
		}
		_, err = r.exec.Apply(ctx, col, ref.ID, query.Clear(storage.FieldAttributes))
		return err
	}
	if len(keys) == 0 {
		return domain.Errorf(domain.CodeInvalidArgument, "no attribute keys given")
	}
	_, err = r.exec.Apply(ctx, col, ref.ID, query.PullKeys(storage.FieldAttributes, keys))
	return err
}

func (r *Registry) getDocument(ctx context.Context, ref domain.ParentRef) (storage.Document, error) {
	col, err := r.collectionFor(ref.Kind)
	if err != nil {
		return nil, err
	}
	doc, ok, err := r.store.Get(ctx, col, ref.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.Errorf(domain.CodeNotFound, "%s %s not found", ref.Kind, ref.ID)
	}
	return doc, nil
}
