package dao

import (
	"context"

	"github.com/google/uuid"

	"modeldb/internal/storage"
	"modeldb/pkg/domain"
	"modeldb/pkg/query"
)

// Experiments is the experiment DAO.
type Experiments struct {
	r *Registry
}

// Experiments returns the experiment DAO.
func (r *Registry) Experiments() Experiments { return Experiments{r: r} }

// Create validates the parent project, checks name uniqueness within it, and
// inserts a new experiment. The uniqueness check and the insert are separate
// operations; the race between them is accepted and documented.
func (d Experiments) Create(ctx context.Context, e domain.Experiment) (domain.Experiment, error) {
	if e.Name == "" {
		return domain.Experiment{}, domain.Errorf(domain.CodeInvalidArgument, "experiment name is required")
	}
	if e.ProjectID == "" {
		return domain.Experiment{}, domain.Errorf(domain.CodeInvalidArgument, "experiment requires a project id")
	}
	_, ok, err := d.r.store.Get(ctx, d.r.cfg.Projects, e.ProjectID)
	if err != nil {
		return domain.Experiment{}, err
	}
	if !ok {
		return domain.Experiment{}, domain.Errorf(domain.CodeNotFound, "project %s not found", e.ProjectID)
	}
	taken, err := d.r.nameTaken(ctx, d.r.cfg.Experiments, e.Name, query.Filter{ProjectID: e.ProjectID})
	if err != nil {
		return domain.Experiment{}, err
	}
	if taken {
		return domain.Experiment{}, domain.Errorf(domain.CodeAlreadyExists,
			"experiment named %q already exists in project %s", e.Name, e.ProjectID)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := d.r.opts.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Attributes == nil {
		e.Attributes = []domain.KeyValue{}
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	doc, err := storage.Encode(e)
	if err != nil {
		return domain.Experiment{}, err
	}
	if err := d.r.store.Insert(ctx, d.r.cfg.Experiments, doc); err != nil {
		return domain.Experiment{}, err
	}
	return e, nil
}

// Get reads one experiment by identifier.
func (d Experiments) Get(ctx context.Context, id string) (domain.Experiment, error) {
	doc, ok, err := d.r.store.Get(ctx, d.r.cfg.Experiments, id)
	if err != nil {
		return domain.Experiment{}, err
	}
	if !ok {
		return domain.Experiment{}, domain.Errorf(domain.CodeNotFound, "experiment %s not found", id)
	}
	return storage.DecodeExperiment(doc)
}

// UpdateNameDescription overwrites the non-nil fields. A rename re-checks
// name uniqueness within the owning project.
func (d Experiments) UpdateNameDescription(ctx context.Context, id string, name, description *string) (domain.Experiment, error) {
	set := map[string]any{storage.FieldUpdatedAt: timestamp(d.r.opts.Now())}
	if name != nil {
		if *name == "" {
			return domain.Experiment{}, domain.Errorf(domain.CodeInvalidArgument, "experiment name cannot be empty")
		}
		current, err := d.Get(ctx, id)
		if err != nil {
			return domain.Experiment{}, err
		}
		conflict, err := d.r.renameConflict(ctx, d.r.cfg.Experiments, id, *name,
			query.Filter{ProjectID: current.ProjectID})
		if err != nil {
			return domain.Experiment{}, err
		}
		if conflict {
			return domain.Experiment{}, domain.Errorf(domain.CodeAlreadyExists,
				"experiment named %q already exists in project %s", *name, current.ProjectID)
		}
		set[storage.FieldName] = *name
	}
	if description != nil {
		set[storage.FieldDescription] = *description
	}
	doc, err := d.r.exec.Apply(ctx, d.r.cfg.Experiments, id, query.SetFields(set))
	if err != nil {
		return domain.Experiment{}, err
	}
	return storage.DecodeExperiment(doc)
}

// Find returns experiments matching the predicates, optionally scoped to one
// project. A nil sort orders by creation time, newest first.
func (d Experiments) Find(ctx context.Context, projectID string, preds []query.Predicate, srt *query.Sort, limit int) ([]domain.Experiment, error) {
	clauses, err := d.r.compile(preds)
	if err != nil {
		return nil, err
	}
	f := query.Filter{ProjectID: projectID, Clauses: clauses}
	docs, err := d.r.sel.Documents(ctx, d.r.cfg.Experiments, f, defaultSort(srt), limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Experiment, 0, len(docs))
	for _, doc := range docs {
		e, err := storage.DecodeExperiment(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// IDsByProject lists the identifiers of every experiment under a project.
func (d Experiments) IDsByProject(ctx context.Context, projectID string) ([]string, error) {
	return d.r.sel.IDs(ctx, d.r.cfg.Experiments, query.Filter{ProjectID: projectID}, nil, 0)
}

// Delete removes the listed experiments, reporting how many existed.
func (d Experiments) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return d.r.store.Delete(ctx, d.r.cfg.Experiments, query.Filter{IDs: ids})
}

// DeleteByProject removes every experiment under a project.
func (d Experiments) DeleteByProject(ctx context.Context, projectID string) (int64, error) {
	return d.r.store.Delete(ctx, d.r.cfg.Experiments, query.Filter{ProjectID: projectID})
}
