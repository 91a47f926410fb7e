package dao

import (
	"context"
	"time"

	"github.com/google/uuid"

	"modeldb/internal/storage"
	"modeldb/pkg/domain"
	"modeldb/pkg/query"
)

// ExperimentRuns is the experiment-run DAO.
type ExperimentRuns struct {
	r *Registry
}

// ExperimentRuns returns the experiment-run DAO.
func (r *Registry) ExperimentRuns() ExperimentRuns { return ExperimentRuns{r: r} }

// RunFilter restricts a run query. All members are AND-combined.
type RunFilter struct {
	IDs          []string
	ProjectID    string
	ExperimentID string
	Predicates   []query.Predicate
}

func (d ExperimentRuns) filter(rf RunFilter) (query.Filter, error) {
	clauses, err := d.r.compile(rf.Predicates)
	if err != nil {
		return query.Filter{}, err
	}
	return query.Filter{
		IDs:          rf.IDs,
		ProjectID:    rf.ProjectID,
		ExperimentID: rf.ExperimentID,
		Clauses:      clauses,
	}, nil
}

// Create validates the parent experiment, inherits its project id, checks
// name uniqueness within the experiment, and inserts a new run. The
// uniqueness check and the insert are separate operations; the race between
// them is accepted and documented.
func (d ExperimentRuns) Create(ctx context.Context, run domain.ExperimentRun) (domain.ExperimentRun, error) {
	if run.Name == "" {
		return domain.ExperimentRun{}, domain.Errorf(domain.CodeInvalidArgument, "run name is required")
	}
	if run.ExperimentID == "" {
		return domain.ExperimentRun{}, domain.Errorf(domain.CodeInvalidArgument, "run requires an experiment id")
	}
	parent, ok, err := d.r.store.Get(ctx, d.r.cfg.Experiments, run.ExperimentID)
	if err != nil {
		return domain.ExperimentRun{}, err
	}
	if !ok {
		return domain.ExperimentRun{}, domain.Errorf(domain.CodeNotFound, "experiment %s not found", run.ExperimentID)
	}
	parentProject, _ := parent[storage.FieldProjectID].(string)
	if run.ProjectID == "" {
		run.ProjectID = parentProject
	} else if run.ProjectID != parentProject {
		return domain.ExperimentRun{}, domain.Errorf(domain.CodeInvalidArgument,
			"run project id %s does not match experiment's project %s", run.ProjectID, parentProject)
	}
	taken, err := d.r.nameTaken(ctx, d.r.cfg.ExperimentRuns, run.Name, query.Filter{ExperimentID: run.ExperimentID})
	if err != nil {
		return domain.ExperimentRun{}, err
	}
	if taken {
		return domain.ExperimentRun{}, domain.Errorf(domain.CodeAlreadyExists,
			"run named %q already exists in experiment %s", run.Name, run.ExperimentID)
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	now := d.r.opts.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	normalizeRunLists(&run)
	doc, err := storage.Encode(run)
	if err != nil {
		return domain.ExperimentRun{}, err
	}
	if err := d.r.store.Insert(ctx, d.r.cfg.ExperimentRuns, doc); err != nil {
		return domain.ExperimentRun{}, err
	}
	return run, nil
}

func normalizeRunLists(run *domain.ExperimentRun) {
	if run.Tags == nil {
		run.Tags = []string{}
	}
	if run.Attributes == nil {
		run.Attributes = []domain.KeyValue{}
	}
	if run.Hyperparameters == nil {
		run.Hyperparameters = []domain.KeyValue{}
	}
	if run.Metrics == nil {
		run.Metrics = []domain.KeyValue{}
	}
	if run.Artifacts == nil {
		run.Artifacts = []domain.Artifact{}
	}
	if run.Datasets == nil {
		run.Datasets = []domain.Artifact{}
	}
	if run.Observations == nil {
		run.Observations = []domain.Observation{}
	}
	if run.Features == nil {
		run.Features = []domain.Feature{}
	}
}

// Get reads one run by identifier.
func (d ExperimentRuns) Get(ctx context.Context, id string) (domain.ExperimentRun, error) {
	doc, ok, err := d.r.store.Get(ctx, d.r.cfg.ExperimentRuns, id)
	if err != nil {
		return domain.ExperimentRun{}, err
	}
	if !ok {
		return domain.ExperimentRun{}, domain.Errorf(domain.CodeNotFound, "run %s not found", id)
	}
	return storage.DecodeExperimentRun(doc)
}

// UpdateNameDescription overwrites the non-nil fields. Run names are not
// re-checked for uniqueness on rename.
func (d ExperimentRuns) UpdateNameDescription(ctx context.Context, id string, name, description *string) (domain.ExperimentRun, error) {
	set := map[string]any{storage.FieldUpdatedAt: timestamp(d.r.opts.Now())}
	if name != nil {
		if *name == "" {
			return domain.ExperimentRun{}, domain.Errorf(domain.CodeInvalidArgument, "run name cannot be empty")
		}
		set[storage.FieldName] = *name
	}
	if description != nil {
		set[storage.FieldDescription] = *description
	}
	doc, err := d.r.exec.Apply(ctx, d.r.cfg.ExperimentRuns, id, query.SetFields(set))
	if err != nil {
		return domain.ExperimentRun{}, err
	}
	return storage.DecodeExperimentRun(doc)
}

// SetTimes overwrites the non-nil start and end times.
func (d ExperimentRuns) SetTimes(ctx context.Context, id string, start, end *time.Time) (domain.ExperimentRun, error) {
	set := map[string]any{storage.FieldUpdatedAt: timestamp(d.r.opts.Now())}
	if start != nil {
		set[storage.FieldStartTime] = timestamp(*start)
	}
	if end != nil {
		set[storage.FieldEndTime] = timestamp(*end)
	}
	doc, err := d.r.exec.Apply(ctx, d.r.cfg.ExperimentRuns, id, query.SetFields(set))
	if err != nil {
		return domain.ExperimentRun{}, err
	}
	return storage.DecodeExperimentRun(doc)
}

// LogHyperparameters appends hyperparameter entries. Duplicate keys are
// permitted.
func (d ExperimentRuns) LogHyperparameters(ctx context.Context, id string, params []domain.KeyValue) error {
	return d.pushKeyValues(ctx, id, storage.FieldHyperparameters, params)
}

// LogMetrics appends metric entries. Duplicate keys are permitted, so a
// metric logged over time accumulates one entry per observation point.
func (d ExperimentRuns) LogMetrics(ctx context.Context, id string, metrics []domain.KeyValue) error {
	return d.pushKeyValues(ctx, id, storage.FieldMetrics, metrics)
}

func (d ExperimentRuns) pushKeyValues(ctx context.Context, id, field string, entries []domain.KeyValue) error {
	if len(entries) == 0 {
		return domain.Errorf(domain.CodeInvalidArgument, "no entries given for %s", field)
	}
	elems, err := elements(entries)
	if err != nil {
		return err
	}
	updates := make([]query.Update, len(elems))
	for i, e := range elems {
		updates[i] = query.Push(field, e)
	}
	_, err = d.r.exec.ApplyAll(ctx, d.r.cfg.ExperimentRuns, id, updates...)
	return err
}

// GetMetrics reads the metric entries of a run.
func (d ExperimentRuns) GetMetrics(ctx context.Context, id string) ([]domain.KeyValue, error) {
	run, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return run.Metrics, nil
}

// GetHyperparameters reads the hyperparameter entries of a run.
func (d ExperimentRuns) GetHyperparameters(ctx context.Context, id string) ([]domain.KeyValue, error) {
	run, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return run.Hyperparameters, nil
}

// LogArtifacts records artifact references. An artifact already recorded
// (same key, path, and type) is not duplicated; logging only duplicates
// fails with already-exists.
func (d ExperimentRuns) LogArtifacts(ctx context.Context, id string, artifacts []domain.Artifact) error {
	return d.addUniqueArtifacts(ctx, id, storage.FieldArtifacts, artifacts)
}

// LogDatasets records dataset references with the same de-duplication rule
// as artifacts.
func (d ExperimentRuns) LogDatasets(ctx context.Context, id string, datasets []domain.Artifact) error {
	return d.addUniqueArtifacts(ctx, id, storage.FieldDatasets, datasets)
}

func (d ExperimentRuns) addUniqueArtifacts(ctx context.Context, id, field string, artifacts []domain.Artifact) error {
	if len(artifacts) == 0 {
		return domain.Errorf(domain.CodeInvalidArgument, "no entries given for %s", field)
	}
	elems, err := elements(artifacts)
	if err != nil {
		return err
	}
	_, err = d.r.exec.Apply(ctx, d.r.cfg.ExperimentRuns, id, query.AddUnique(field, elems))
	return err
}

// GetArtifacts reads the artifact references of a run.
func (d ExperimentRuns) GetArtifacts(ctx context.Context, id string) ([]domain.Artifact, error) {
	run, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return run.Artifacts, nil
}

// DeleteArtifacts removes artifact references by key, or all of them when
// deleteAll is set.
func (d ExperimentRuns) DeleteArtifacts(ctx context.Context, id string, keys []string, deleteAll bool) error {
	return d.deleteKeyed(ctx, id, storage.FieldArtifacts, keys, deleteAll)
}

// DeleteDatasets removes dataset references by key, or all of them when
// deleteAll is set.
func (d ExperimentRuns) DeleteDatasets(ctx context.Context, id string, keys []string, deleteAll bool) error {
	return d.deleteKeyed(ctx, id, storage.FieldDatasets, keys, deleteAll)
}

// DeleteHyperparameters removes hyperparameter entries by key, or all of
// them when deleteAll is set. Every entry sharing a listed key is removed.
func (d ExperimentRuns) DeleteHyperparameters(ctx context.Context, id string, keys []string, deleteAll bool) error {
	return d.deleteKeyed(ctx, id, storage.FieldHyperparameters, keys, deleteAll)
}

// DeleteMetrics removes metric entries by key, or all of them when deleteAll
// is set. Every entry sharing a listed key is removed.
func (d ExperimentRuns) DeleteMetrics(ctx context.Context, id string, keys []string, deleteAll bool) error {
	return d.deleteKeyed(ctx, id, storage.FieldMetrics, keys, deleteAll)
}

func (d ExperimentRuns) deleteKeyed(ctx context.Context, id, field string, keys []string, deleteAll bool) error {
	if deleteAll {
		if len(keys) > 0 {
			return domain.Errorf(domain.CodeInvalidArgument, "delete-all cannot also list keys")
		}
		_, err := d.r.exec.Apply(ctx, d.r.cfg.ExperimentRuns, id, query.Clear(field))
		return err
	}
	if len(keys) == 0 {
		return domain.Errorf(domain.CodeInvalidArgument, "no keys given for %s", field)
	}
	_, err := d.r.exec.Apply(ctx, d.r.cfg.ExperimentRuns, id, query.PullKeys(field, keys))
	return err
}

// LogObservations appends timestamped observations. Each must carry exactly
// one of an attribute or an artifact payload.
func (d ExperimentRuns) LogObservations(ctx context.Context, id string, obs []domain.Observation) error {
	if len(obs) == 0 {
		return domain.Errorf(domain.CodeInvalidArgument, "no observations given")
	}
	now := d.r.opts.Now()
	for i := range obs {
		if (obs[i].Attribute == nil) == (obs[i].Artifact == nil) {
			return domain.Errorf(domain.CodeInvalidArgument,
				"observation must carry exactly one of attribute or artifact")
		}
		if obs[i].Timestamp.IsZero() {
			obs[i].Timestamp = now
		}
	}
	elems, err := elements(obs)
	if err != nil {
		return err
	}
	updates := make([]query.Update, len(elems))
	for i, e := range elems {
		updates[i] = query.Push(storage.FieldObservations, e)
	}
	_, err = d.r.exec.ApplyAll(ctx, d.r.cfg.ExperimentRuns, id, updates...)
	return err
}

// GetObservations reads observations, restricted to the given attribute or
// artifact key when key is non-empty.
func (d ExperimentRuns) GetObservations(ctx context.Context, id, key string) ([]domain.Observation, error) {
	run, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return run.Observations, nil
	}
	out := run.Observations[:0]
	for _, o := range run.Observations {
		switch {
		case o.Attribute != nil && o.Attribute.Key == key:
			out = append(out, o)
		case o.Artifact != nil && o.Artifact.Key == key:
			out = append(out, o)
		}
	}
	return out, nil
}

// LogFeatures records feature names, skipping those already present.
func (d ExperimentRuns) LogFeatures(ctx context.Context, id string, features []domain.Feature) error {
	if len(features) == 0 {
		return domain.Errorf(domain.CodeInvalidArgument, "no features given")
	}
	elems, err := elements(features)
	if err != nil {
		return err
	}
	_, err = d.r.exec.Apply(ctx, d.r.cfg.ExperimentRuns, id, query.AddUnique(storage.FieldFeatures, elems))
	return err
}

// Find returns runs matching the filter, sorted and truncated. A nil sort
// orders by creation time, newest first; a dotted sort key such as
// "metrics.value" runs the flatten pipeline.
func (d ExperimentRuns) Find(ctx context.Context, rf RunFilter, srt *query.Sort, limit int) ([]domain.ExperimentRun, error) {
	f, err := d.filter(rf)
	if err != nil {
		return nil, err
	}
	docs, err := d.r.sel.Documents(ctx, d.r.cfg.ExperimentRuns, f, defaultSort(srt), limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ExperimentRun, 0, len(docs))
	for _, doc := range docs {
		run, err := storage.DecodeExperimentRun(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// SortedIDs returns matching run identifiers in sort order without
// rehydrating the documents.
func (d ExperimentRuns) SortedIDs(ctx context.Context, rf RunFilter, srt query.Sort, limit int) ([]string, error) {
	f, err := d.filter(rf)
	if err != nil {
		return nil, err
	}
	return d.r.sel.IDs(ctx, d.r.cfg.ExperimentRuns, f, &srt, limit)
}

// TopK returns the k best runs by the given sort key and direction. Fewer
// than k candidates yield a shorter result, never an error.
func (d ExperimentRuns) TopK(ctx context.Context, rf RunFilter, sortKey string, ascending bool, k int) ([]domain.ExperimentRun, error) {
	if k <= 0 {
		return nil, domain.Errorf(domain.CodeInvalidArgument, "top-k requires k > 0, got %d", k)
	}
	if sortKey == "" {
		return nil, domain.Errorf(domain.CodeInvalidArgument, "top-k requires a sort key")
	}
	return d.Find(ctx, rf, &query.Sort{Key: sortKey, Ascending: ascending}, k)
}

// Delete removes the listed runs, reporting how many existed.
func (d ExperimentRuns) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return d.r.store.Delete(ctx, d.r.cfg.ExperimentRuns, query.Filter{IDs: ids})
}

// DeleteByExperiment removes every run under an experiment.
func (d ExperimentRuns) DeleteByExperiment(ctx context.Context, experimentID string) (int64, error) {
	return d.r.store.Delete(ctx, d.r.cfg.ExperimentRuns, query.Filter{ExperimentID: experimentID})
}

// DeleteByProject removes every run under a project.
func (d ExperimentRuns) DeleteByProject(ctx context.Context, projectID string) (int64, error) {
	return d.r.store.Delete(ctx, d.r.cfg.ExperimentRuns, query.Filter{ProjectID: projectID})
}
