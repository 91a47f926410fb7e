package storage

import (
	"encoding/json"

	"modeldb/pkg/domain"
)

// Encode converts an entity into its document form via its JSON shape.
func Encode(entity any) (Document, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, domain.WrapInternal("encode entity", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, domain.WrapInternal("decode entity document", err)
	}
	return doc, nil
}

// Decode converts a document back into the typed entity pointed to by out.
func Decode(doc Document, out any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return domain.WrapInternal("encode document", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.WrapInternal("decode document into entity", err)
	}
	return nil
}

// DecodeProject decodes a project document.
func DecodeProject(doc Document) (domain.Project, error) {
	var p domain.Project
	err := Decode(doc, &p)
	return p, err
}

// DecodeExperiment decodes an experiment document.
func DecodeExperiment(doc Document) (domain.Experiment, error) {
	var e domain.Experiment
	err := Decode(doc, &e)
	return e, err
}

// DecodeExperimentRun decodes an experiment run document.
func DecodeExperimentRun(doc Document) (domain.ExperimentRun, error) {
	var r domain.ExperimentRun
	err := Decode(doc, &r)
	return r, err
}
