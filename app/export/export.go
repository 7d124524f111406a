// Package export implements the YAML snapshot format for a user's records:
// marshaling the collection out, parsing it back with validation, and a JSON
// schema of the document for external tooling.
package export

import (
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/umputun/jobtrack/app/store"
)

// FormatVersion is the current snapshot document version
const FormatVersion = 1

// Document is the top-level snapshot structure
type Document struct {
	Version    int                `yaml:"version" json:"version"`
	ExportedAt time.Time          `yaml:"exported_at" json:"exported_at"`
	Jobs       []store.JobRecord  `yaml:"jobs" json:"jobs"`
	Notes      []store.NoteRecord `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// Make builds a snapshot document from the given records
func Make(jobs []store.JobRecord, notes []store.NoteRecord, now time.Time) Document {
	return Document{
		Version:    FormatVersion,
		ExportedAt: now.UTC(),
		Jobs:       jobs,
		Notes:      notes,
	}
}

// Marshal serializes the document to YAML
func Marshal(doc Document) ([]byte, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// Parse deserializes and validates a snapshot document. Record-level
// validation matches the store's add pipeline so a parsed document can be
// imported without surprises.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to parse snapshot YAML: %w", err)
	}
	if doc.Version != FormatVersion {
		return Document{}, fmt.Errorf("unsupported snapshot version %d, want %d", doc.Version, FormatVersion)
	}

	for i := range doc.Jobs {
		if err := doc.Jobs[i].Validate(); err != nil {
			return Document{}, fmt.Errorf("invalid job %d in snapshot: %w", i, err)
		}
	}
	for i := range doc.Notes {
		if err := doc.Notes[i].Validate(); err != nil {
			return Document{}, fmt.Errorf("invalid note %d in snapshot: %w", i, err)
		}
	}
	return doc, nil
}

// Schema returns the JSON schema of the snapshot document
func Schema() (*jsonschema.Schema, error) {
	return jsonschema.Reflect(&Document{}), nil
}
