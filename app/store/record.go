// Package store implements the per-user job collection: the in-memory list of
// tracked applications, the selection set for bulk actions, the mutation
// pipeline synchronizing both with a persistence collaborator, and pure
// aggregate metrics derived from the collection.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrValidation marks errors caught before any remote call is made
var ErrValidation = errors.New("validation failed")

// ErrNotFound indicates the record is not in the current collection
var ErrNotFound = errors.New("record not found")

// ErrNoUser indicates no authenticated user is set on the store
var ErrNoUser = errors.New("no current user")

// excitement rating bounds, 0 means unrated
const (
	ExcitementMin = 0
	ExcitementMax = 5
)

// JobRecord represents one tracked job application. ID and DateSaved are
// assigned by the persistence backend on creation and never change afterwards.
type JobRecord struct {
	ID          string    `json:"id" yaml:"id"`
	UserID      string    `json:"-" yaml:"-"`
	Title       string    `json:"title" yaml:"title"`
	Company     string    `json:"company" yaml:"company"`
	Location    string    `json:"location" yaml:"location"`
	Salary      string    `json:"salary,omitempty" yaml:"salary,omitempty"`
	JobURL      string    `json:"job_url,omitempty" yaml:"job_url,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Notes       string    `json:"notes,omitempty" yaml:"notes,omitempty"`
	Status      Status    `json:"status" yaml:"status"`
	Excitement  int       `json:"excitement" yaml:"excitement,omitempty"`
	DateSaved   time.Time `json:"date_saved" yaml:"date_saved,omitempty"`
	DateApplied time.Time `json:"date_applied,omitzero" yaml:"date_applied,omitempty"`
	Deadline    time.Time `json:"deadline,omitzero" yaml:"deadline,omitempty"`
}

// Validate checks the fields required before the record can be dispatched to
// the persistence backend. It never touches server-assigned fields.
func (j *JobRecord) Validate() error {
	if strings.TrimSpace(j.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(j.Company) == "" {
		return fmt.Errorf("%w: company is required", ErrValidation)
	}
	if strings.TrimSpace(j.Location) == "" {
		return fmt.Errorf("%w: location is required", ErrValidation)
	}
	if _, ok := statusNames[j.Status]; !ok {
		return fmt.Errorf("%w: invalid status value %d", ErrValidation, int(j.Status))
	}
	if j.Excitement < ExcitementMin || j.Excitement > ExcitementMax {
		return fmt.Errorf("%w: excitement %d out of range %d..%d", ErrValidation, j.Excitement, ExcitementMin, ExcitementMax)
	}
	return nil
}

// NoteRecord is a free-text annotation, optionally attached to a single job.
// Deleting a job does not cascade, a note may end up referencing a job that
// no longer exists.
type NoteRecord struct {
	ID        string    `json:"id" yaml:"id"`
	UserID    string    `json:"-" yaml:"-"`
	JobID     string    `json:"job_id,omitempty" yaml:"job_id,omitempty"` // empty when not attached to a job
	Text      string    `json:"text" yaml:"text"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

// Validate checks note fields before dispatch
func (n *NoteRecord) Validate() error {
	if strings.TrimSpace(n.Text) == "" {
		return fmt.Errorf("%w: note text is required", ErrValidation)
	}
	return nil
}
