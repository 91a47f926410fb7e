// Package storage defines the narrow collection-scoped capability the query
// and mutation engine is written against. Two backend families implement it:
// a schemaless document store (docstore) and a schema-mapped relational store
// (relstore). Core logic works unmodified against either; a backend that does
// not support a query shape must fail with an unimplemented error rather than
// return a silent default.
package storage

import (
	"context"

	"modeldb/pkg/query"
)

// Document is the JSON-shaped form every backend accepts and returns. Field
// names follow the domain entities' JSON tags.
type Document = map[string]any

// Canonical document field names shared by DAOs and backends.
const (
	FieldID           = "id"
	FieldName         = "name"
	FieldDescription  = "description"
	FieldCreatedAt    = "created_at"
	FieldUpdatedAt    = "updated_at"
	FieldProjectID    = "project_id"
	FieldExperimentID = "experiment_id"
	FieldStartTime    = "start_time"
	FieldEndTime      = "end_time"
	FieldCodeVersion  = "code_version"
	FieldJobID        = "job_id"

	FieldTags            = "tags"
	FieldAttributes      = "attributes"
	FieldHyperparameters = "hyperparameters"
	FieldMetrics         = "metrics"
	FieldArtifacts       = "artifacts"
	FieldDatasets        = "datasets"
	FieldObservations    = "observations"
	FieldFeatures        = "features"
)

// FindOptions orders and truncates a Find. A nil Sort leaves the backend's
// natural order; Limit 0 means unlimited.
type FindOptions struct {
	Sort  *query.Sort
	Limit int
}

// Store is the storage capability. Every operation is scoped to one named
// collection and is individually atomic; no multi-document transaction is
// offered beyond what a single call performs.
type Store interface {
	// Insert adds a document. The document must carry a non-empty "id".
	Insert(ctx context.Context, collection string, doc Document) error
	// Get reads one document by identifier. ok is false when absent.
	Get(ctx context.Context, collection, id string) (doc Document, ok bool, err error)
	// Find returns documents matching the filter, ordered and truncated per opts.
	Find(ctx context.Context, collection string, f query.Filter, opts FindOptions) ([]Document, error)
	// Count reports how many documents match the filter.
	Count(ctx context.Context, collection string, f query.Filter) (int64, error)
	// Update applies one declarative mutation to the document addressed by id
	// and reports how many stored documents the write changed (0 or 1 for the
	// document itself; element-level operations report 0 when nothing changed).
	Update(ctx context.Context, collection, id string, u query.Update) (affected int64, err error)
	// Delete removes every document matching the filter.
	Delete(ctx context.Context, collection string, f query.Filter) (removed int64, err error)
	// SortedIDs executes the flatten pipeline and returns owner identifiers in
	// sorted order, deduplicated, truncated to the pipeline limit.
	SortedIDs(ctx context.Context, collection string, p query.Pipeline) ([]string, error)
	// Close releases backend resources.
	Close() error
}

// Config carries the collection names a deployment uses. It is passed
// explicitly at construction time; there is no process-global lookup.
type Config struct {
	Projects       string
	Experiments    string
	ExperimentRuns string
}

// DefaultConfig returns the conventional collection names.
func DefaultConfig() Config {
	return Config{
		Projects:       "projects",
		Experiments:    "experiments",
		ExperimentRuns: "experiment_runs",
	}
}
