// Package core composes the entity DAOs behind one service façade, owning
// the operations that span entities (cascading deletes, artifact uploads)
// and the observability hooks around every operation.
package core

import (
	"context"
	"io"
	"time"

	"modeldb/internal/blob"
	"modeldb/internal/dao"
	"modeldb/internal/storage"
	"modeldb/pkg/domain"
	"modeldb/pkg/query"
)

// Service is the metadata store façade.
type Service struct {
	registry  *dao.Registry
	artifacts blob.Store
	logger    Logger
	metrics   MetricsRecorder
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger installs a structured logger. Nil restores the noop logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l == nil {
			l = noopLogger{}
		}
		s.logger = l
	}
}

// WithMetrics installs a metrics recorder. Nil restores the noop recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) {
		if m == nil {
			m = noopMetrics{}
		}
		s.metrics = m
	}
}

// WithArtifactStore installs the blob store artifact uploads go to.
func WithArtifactStore(b blob.Store) Option {
	return func(s *Service) { s.artifacts = b }
}

// NewService constructs a service over one storage backend.
func NewService(store storage.Store, cfg storage.Config, daoOpts dao.Options, opts ...Option) *Service {
	s := &Service{
		registry: dao.NewRegistry(store, cfg, daoOpts),
		logger:   noopLogger{},
		metrics:  noopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the DAO registry for callers needing the full operation
// set directly.
func (s *Service) Registry() *dao.Registry { return s.registry }

// observe records one operation outcome on the metrics recorder and logger.
func (s *Service) observe(ctx context.Context, op string, start time.Time, err error) {
	d := time.Since(start)
	s.metrics.Observe(ctx, op, err == nil, d)
	if err != nil {
		s.logger.Error(op, "error", err, "duration_ms", d.Milliseconds())
		return
	}
	s.logger.Debug(op, "duration_ms", d.Milliseconds())
}

// CreateProject records a new project.
func (s *Service) CreateProject(ctx context.Context, p domain.Project) (created domain.Project, err error) {
	defer func(start time.Time) { s.observe(ctx, "create_project", start, err) }(time.Now())
	return s.registry.Projects().Create(ctx, p)
}

// GetProject reads one project by identifier.
func (s *Service) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return s.registry.Projects().Get(ctx, id)
}

// FindProjects answers a predicate query over projects.
func (s *Service) FindProjects(ctx context.Context, preds []query.Predicate, srt *query.Sort, limit int) (out []domain.Project, err error) {
	defer func(start time.Time) { s.observe(ctx, "find_projects", start, err) }(time.Now())
	return s.registry.Projects().Find(ctx, preds, srt, limit)
}

// DeleteProject removes a project and everything under it. The cascade runs
// child-before-parent and is not transactional: a failure part-way leaves
// orphan-free children deleted and the parent in place.
func (s *Service) DeleteProject(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.observe(ctx, "delete_project", start, err) }(time.Now())
	if _, err = s.registry.Projects().Get(ctx, id); err != nil {
		return err
	}
	runs, err := s.registry.ExperimentRuns().DeleteByProject(ctx, id)
	if err != nil {
		return err
	}
	experiments, err := s.registry.Experiments().DeleteByProject(ctx, id)
	if err != nil {
		return err
	}
	if _, err = s.registry.Projects().Delete(ctx, []string{id}); err != nil {
		return err
	}
	s.logger.Info("project deleted", "project_id", id, "experiments", experiments, "runs", runs)
	return nil
}

// CreateExperiment records a new experiment under its project.
func (s *Service) CreateExperiment(ctx context.Context, e domain.Experiment) (created domain.Experiment, err error) {
	defer func(start time.Time) { s.observe(ctx, "create_experiment", start, err) }(time.Now())
	return s.registry.Experiments().Create(ctx, e)
}

// GetExperiment reads one experiment by identifier.
func (s *Service) GetExperiment(ctx context.Context, id string) (domain.Experiment, error) {
	return s.registry.Experiments().Get(ctx, id)
}

// FindExperiments answers a predicate query over experiments, optionally
// scoped to one project.
func (s *Service) FindExperiments(ctx context.Context, projectID string, preds []query.Predicate, srt *query.Sort, limit int) (out []domain.Experiment, err error) {
	defer func(start time.Time) { s.observe(ctx, "find_experiments", start, err) }(time.Now())
	return s.registry.Experiments().Find(ctx, projectID, preds, srt, limit)
}

// DeleteExperiment removes an experiment and its runs, child first,
// non-transactionally.
func (s *Service) DeleteExperiment(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.observe(ctx, "delete_experiment", start, err) }(time.Now())
	if _, err = s.registry.Experiments().Get(ctx, id); err != nil {
		return err
	}
	runs, err := s.registry.ExperimentRuns().DeleteByExperiment(ctx, id)
	if err != nil {
		return err
	}
	if _, err = s.registry.Experiments().Delete(ctx, []string{id}); err != nil {
		return err
	}
	s.logger.Info("experiment deleted", "experiment_id", id, "runs", runs)
	return nil
}

// CreateExperimentRun records a new run under its experiment.
func (s *Service) CreateExperimentRun(ctx context.Context, run domain.ExperimentRun) (created domain.ExperimentRun, err error) {
	defer func(start time.Time) { s.observe(ctx, "create_experiment_run", start, err) }(time.Now())
	return s.registry.ExperimentRuns().Create(ctx, run)
}

// GetExperimentRun reads one run by identifier.
func (s *Service) GetExperimentRun(ctx context.Context, id string) (domain.ExperimentRun, error) {
	return s.registry.ExperimentRuns().Get(ctx, id)
}

// DeleteExperimentRun removes one run.
func (s *Service) DeleteExperimentRun(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.observe(ctx, "delete_experiment_run", start, err) }(time.Now())
	removed, err := s.registry.ExperimentRuns().Delete(ctx, []string{id})
	if err != nil {
		return err
	}
	if removed == 0 {
		return domain.Errorf(domain.CodeNotFound, "run %s not found", id)
	}
	return nil
}

// FindExperimentRuns answers a predicate query over runs.
func (s *Service) FindExperimentRuns(ctx context.Context, rf dao.RunFilter, srt *query.Sort, limit int) (out []domain.ExperimentRun, err error) {
	defer func(start time.Time) { s.observe(ctx, "find_experiment_runs", start, err) }(time.Now())
	return s.registry.ExperimentRuns().Find(ctx, rf, srt, limit)
}

// TopExperimentRuns returns the k best runs by the sort key and direction.
func (s *Service) TopExperimentRuns(ctx context.Context, rf dao.RunFilter, sortKey string, ascending bool, k int) (out []domain.ExperimentRun, err error) {
	defer func(start time.Time) { s.observe(ctx, "top_experiment_runs", start, err) }(time.Now())
	return s.registry.ExperimentRuns().TopK(ctx, rf, sortKey, ascending, k)
}

// LogMetrics appends metric entries to a run.
func (s *Service) LogMetrics(ctx context.Context, runID string, metrics []domain.KeyValue) (err error) {
	defer func(start time.Time) { s.observe(ctx, "log_metrics", start, err) }(time.Now())
	return s.registry.ExperimentRuns().LogMetrics(ctx, runID, metrics)
}

// LogHyperparameters appends hyperparameter entries to a run.
func (s *Service) LogHyperparameters(ctx context.Context, runID string, params []domain.KeyValue) (err error) {
	defer func(start time.Time) { s.observe(ctx, "log_hyperparameters", start, err) }(time.Now())
	return s.registry.ExperimentRuns().LogHyperparameters(ctx, runID, params)
}

// LogObservations appends timestamped observations to a run.
func (s *Service) LogObservations(ctx context.Context, runID string, obs []domain.Observation) (err error) {
	defer func(start time.Time) { s.observe(ctx, "log_observations", start, err) }(time.Now())
	return s.registry.ExperimentRuns().LogObservations(ctx, runID, obs)
}

// UploadArtifact streams the payload into the blob store under the
// artifact's path, then records the artifact entry on the run. The blob
// write and the metadata write are not atomic together; a failure after the
// upload leaves an unreferenced blob behind.
func (s *Service) UploadArtifact(ctx context.Context, runID string, art domain.Artifact, r io.Reader, opts blob.PutOptions) (info blob.Info, err error) {
	defer func(start time.Time) { s.observe(ctx, "upload_artifact", start, err) }(time.Now())
	if s.artifacts == nil {
		return blob.Info{}, domain.Errorf(domain.CodeUnimplemented, "no artifact store configured")
	}
	if art.Key == "" || art.Path == "" {
		return blob.Info{}, domain.Errorf(domain.CodeInvalidArgument, "artifact key and path are required")
	}
	if _, err = s.registry.ExperimentRuns().Get(ctx, runID); err != nil {
		return blob.Info{}, err
	}
	info, err = s.artifacts.Put(ctx, art.Path, r, opts)
	if err != nil {
		return blob.Info{}, domain.WrapInternal("upload artifact payload", err)
	}
	if err = s.registry.ExperimentRuns().LogArtifacts(ctx, runID, []domain.Artifact{art}); err != nil {
		return blob.Info{}, err
	}
	return info, nil
}

// ArtifactURL returns a pre-signed GET URL for a recorded artifact.
func (s *Service) ArtifactURL(ctx context.Context, runID, key string, expiry time.Duration) (u string, err error) {
	defer func(start time.Time) { s.observe(ctx, "artifact_url", start, err) }(time.Now())
	if s.artifacts == nil {
		return "", domain.Errorf(domain.CodeUnimplemented, "no artifact store configured")
	}
	arts, err := s.registry.ExperimentRuns().GetArtifacts(ctx, runID)
	if err != nil {
		return "", err
	}
	for _, art := range arts {
		if art.Key != key {
			continue
		}
		u, err = s.artifacts.PresignURL(ctx, art.Path, blob.SignedURLOptions{Expiry: expiry})
		if err != nil {
			return "", domain.WrapInternal("presign artifact url", err)
		}
		return u, nil
	}
	return "", domain.Errorf(domain.CodeNotFound, "artifact %q not recorded on run %s", key, runID)
}

// Close releases the storage backend.
func (s *Service) Close() error {
	return s.registry.Store().Close()
}
