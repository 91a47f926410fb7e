package dao

import (
	"context"

	"github.com/google/uuid"

	"modeldb/internal/storage"
	"modeldb/pkg/domain"
	"modeldb/pkg/query"
)

// Projects is the project DAO.
type Projects struct {
	r *Registry
}

// Projects returns the project DAO.
func (r *Registry) Projects() Projects { return Projects{r: r} }

// Create validates, checks name uniqueness, and inserts a new project.
// The uniqueness check and the insert are two separate operations; the race
// between them is accepted and documented.
func (d Projects) Create(ctx context.Context, p domain.Project) (domain.Project, error) {
	if p.Name == "" {
		return domain.Project{}, domain.Errorf(domain.CodeInvalidArgument, "project name is required")
	}
	taken, err := d.r.nameTaken(ctx, d.r.cfg.Projects, p.Name, query.Filter{})
	if err != nil {
		return domain.Project{}, err
	}
	if taken {
		return domain.Project{}, domain.Errorf(domain.CodeAlreadyExists, "project named %q already exists", p.Name)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := d.r.opts.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Attributes == nil {
		p.Attributes = []domain.KeyValue{}
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	doc, err := storage.Encode(p)
	if err != nil {
		return domain.Project{}, err
	}
	if err := d.r.store.Insert(ctx, d.r.cfg.Projects, doc); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// Get reads one project by identifier.
func (d Projects) Get(ctx context.Context, id string) (domain.Project, error) {
	doc, ok, err := d.r.store.Get(ctx, d.r.cfg.Projects, id)
	if err != nil {
		return domain.Project{}, err
	}
	if !ok {
		return domain.Project{}, domain.Errorf(domain.CodeNotFound, "project %s not found", id)
	}
	return storage.DecodeProject(doc)
}

// GetByName reads one project by its unique name.
func (d Projects) GetByName(ctx context.Context, name string) (domain.Project, error) {
	f := query.Filter{Clauses: []query.Clause{{
		Field: storage.FieldName, Op: query.OpEQ, Value: domain.StringValue(name),
	}}}
	docs, err := d.r.store.Find(ctx, d.r.cfg.Projects, f, storage.FindOptions{Limit: 1})
	if err != nil {
		return domain.Project{}, err
	}
	if len(docs) == 0 {
		return domain.Project{}, domain.Errorf(domain.CodeNotFound, "project named %q not found", name)
	}
	return storage.DecodeProject(docs[0])
}

// UpdateNameDescription overwrites the non-nil fields. A rename re-checks
// name uniqueness against other projects.
func (d Projects) UpdateNameDescription(ctx context.Context, id string, name, description *string) (domain.Project, error) {
	set := map[string]any{storage.FieldUpdatedAt: timestamp(d.r.opts.Now())}
	if name != nil {
		if *name == "" {
			return domain.Project{}, domain.Errorf(domain.CodeInvalidArgument, "project name cannot be empty")
		}
		conflict, err := d.r.renameConflict(ctx, d.r.cfg.Projects, id, *name, query.Filter{})
		if err != nil {
			return domain.Project{}, err
		}
		if conflict {
			return domain.Project{}, domain.Errorf(domain.CodeAlreadyExists, "project named %q already exists", *name)
		}
		set[storage.FieldName] = *name
	}
	if description != nil {
		set[storage.FieldDescription] = *description
	}
	doc, err := d.r.exec.Apply(ctx, d.r.cfg.Projects, id, query.SetFields(set))
	if err != nil {
		return domain.Project{}, err
	}
	return storage.DecodeProject(doc)
}

// Find returns projects matching the predicates, sorted and truncated. A nil
// sort orders by creation time, newest first.
func (d Projects) Find(ctx context.Context, preds []query.Predicate, srt *query.Sort, limit int) ([]domain.Project, error) {
	clauses, err := d.r.compile(preds)
	if err != nil {
		return nil, err
	}
	docs, err := d.r.sel.Documents(ctx, d.r.cfg.Projects, query.Filter{Clauses: clauses}, defaultSort(srt), limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Project, 0, len(docs))
	for _, doc := range docs {
		p, err := storage.DecodeProject(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Delete removes the listed projects, reporting how many existed. Children
// are the service layer's responsibility.
func (d Projects) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return d.r.store.Delete(ctx, d.r.cfg.Projects, query.Filter{IDs: ids})
}
