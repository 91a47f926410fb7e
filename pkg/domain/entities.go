// Package domain defines the persistent entities, tagged value types, and
// error taxonomy used by the experiment metadata store.
package domain

import "time"

// EntityType identifies the type of record stored in the metadata store.
type EntityType string

// Supported entity type identifiers used for parent references and storage collections.
const (
	// EntityProject identifies a project record.
	EntityProject EntityType = "project"
	// EntityExperiment identifies an experiment record.
	EntityExperiment EntityType = "experiment"
	// EntityExperimentRun identifies an experiment run record.
	EntityExperimentRun EntityType = "experiment_run"
)

// ArtifactType tags the role of a stored artifact reference.
type ArtifactType string

// Canonical artifact type tags carried on artifact and dataset entries.
const (
	ArtifactTypeModel ArtifactType = "model"
	ArtifactTypeImage ArtifactType = "image"
	ArtifactTypeData  ArtifactType = "data"
	ArtifactTypeBlob  ArtifactType = "blob"
)

// Base contains common fields for all stored records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KeyValue is a typed key/value entry used for attributes, hyperparameters,
// and metrics. Duplicate keys are permitted; the store enforces no uniqueness.
type KeyValue struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
}

// Artifact references a stored blob by key, storage path, and role tag.
// Datasets share this shape.
type Artifact struct {
	Key  string       `json:"key"`
	Path string       `json:"path"`
	Type ArtifactType `json:"artifact_type"`
}

// Observation carries exactly one of an artifact or an attribute payload,
// stamped with the moment it was recorded.
type Observation struct {
	Attribute *KeyValue `json:"attribute,omitempty"`
	Artifact  *Artifact `json:"artifact,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Feature names an input feature associated with an experiment run.
type Feature struct {
	Name string `json:"name"`
}

// ParentRef identifies the owning entity of a child record explicitly, so that
// callers never rely on runtime type inspection to pick the parent field.
type ParentRef struct {
	Kind EntityType `json:"kind"`
	ID   string     `json:"id"`
}

// Project is the top of the ownership hierarchy. Project names are unique
// across live projects; deleting a project cascades to its experiments and runs.
type Project struct {
	Base
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Attributes  []KeyValue `json:"attributes"`
	Tags        []string   `json:"tags"`
}

// Experiment groups runs under a project.
type Experiment struct {
	Base
	ProjectID   string     `json:"project_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Attributes  []KeyValue `json:"attributes"`
	Tags        []string   `json:"tags"`
}

// ExperimentRun records a single execution with its configuration and results.
type ExperimentRun struct {
	Base
	ProjectID       string        `json:"project_id"`
	ExperimentID    string        `json:"experiment_id"`
	Name            string        `json:"name"`
	Description     string        `json:"description"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	CodeVersion     string        `json:"code_version"`
	JobID           string        `json:"job_id"`
	Tags            []string      `json:"tags"`
	Attributes      []KeyValue    `json:"attributes"`
	Hyperparameters []KeyValue    `json:"hyperparameters"`
	Artifacts       []Artifact    `json:"artifacts"`
	Datasets        []Artifact    `json:"datasets"`
	Metrics         []KeyValue    `json:"metrics"`
	Observations    []Observation `json:"observations"`
	Features        []Feature     `json:"features"`
}
