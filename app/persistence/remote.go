package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/jobtrack/app/store"
)

// Remote implements persistence against a hosted PostgREST-compatible backend.
// Every call is a single request, failures are returned to the caller as-is
// with no retry or backoff.
type Remote struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRemote creates a client for the backend at baseURL. The api key is sent
// as both apikey header and bearer token.
func NewRemote(baseURL, apiKey string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Remote{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// remoteJob adds the user scoping column to the wire representation
type remoteJob struct {
	store.JobRecord
	UserID string `json:"user_id"`
}

// remoteNote adds the user scoping column to the wire representation
type remoteNote struct {
	store.NoteRecord
	UserID string `json:"user_id"`
}

// ListJobs returns the user's jobs ordered by creation time descending
func (r *Remote) ListJobs(ctx context.Context, userID string) ([]store.JobRecord, error) {
	q := url.Values{}
	q.Set("user_id", "eq."+userID)
	q.Set("order", "date_saved.desc")

	var rows []remoteJob
	if err := r.do(ctx, http.MethodGet, "/jobs", q, nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	res := make([]store.JobRecord, 0, len(rows))
	for _, row := range rows {
		rec := row.JobRecord
		rec.UserID = row.UserID
		res = append(res, rec)
	}
	return res, nil
}

// InsertJob creates a row and returns the canonical record as the backend
// stored it, including server-assigned id and date saved
func (r *Remote) InsertJob(ctx context.Context, userID string, rec store.JobRecord) (store.JobRecord, error) {
	// id and date_saved are backend-assigned, an explicit value in the POST
	// body would override the column defaults
	payload, err := insertPayload(remoteJob{JobRecord: rec, UserID: userID}, "id", "date_saved")
	if err != nil {
		return store.JobRecord{}, fmt.Errorf("failed to insert job: %w", err)
	}

	var rows []remoteJob
	if err := r.do(ctx, http.MethodPost, "/jobs", nil, payload, &rows); err != nil {
		return store.JobRecord{}, fmt.Errorf("failed to insert job: %w", err)
	}
	if len(rows) == 0 {
		return store.JobRecord{}, fmt.Errorf("backend returned no representation for inserted job")
	}
	created := rows[0].JobRecord
	created.UserID = rows[0].UserID
	return created, nil
}

// UpdateJob overwrites the row by id, full replace semantics
func (r *Remote) UpdateJob(ctx context.Context, id string, rec store.JobRecord) error {
	q := url.Values{}
	q.Set("id", "eq."+id)

	var rows []remoteJob
	if err := r.do(ctx, http.MethodPatch, "/jobs", q, remoteJob{JobRecord: rec, UserID: rec.UserID}, &rows); err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteJob removes the row by id
func (r *Remote) DeleteJob(ctx context.Context, id string) error {
	q := url.Values{}
	q.Set("id", "eq."+id)

	var rows []remoteJob
	if err := r.do(ctx, http.MethodDelete, "/jobs", q, nil, &rows); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListNotes returns the user's notes, newest first
func (r *Remote) ListNotes(ctx context.Context, userID string) ([]store.NoteRecord, error) {
	q := url.Values{}
	q.Set("user_id", "eq."+userID)
	q.Set("order", "created_at.desc")

	var rows []remoteNote
	if err := r.do(ctx, http.MethodGet, "/notes", q, nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}

	res := make([]store.NoteRecord, 0, len(rows))
	for _, row := range rows {
		rec := row.NoteRecord
		rec.UserID = row.UserID
		res = append(res, rec)
	}
	return res, nil
}

// InsertNote creates a note row and returns the canonical record
func (r *Remote) InsertNote(ctx context.Context, userID string, note store.NoteRecord) (store.NoteRecord, error) {
	payload, err := insertPayload(remoteNote{NoteRecord: note, UserID: userID}, "id", "created_at", "updated_at")
	if err != nil {
		return store.NoteRecord{}, fmt.Errorf("failed to insert note: %w", err)
	}

	var rows []remoteNote
	if err := r.do(ctx, http.MethodPost, "/notes", nil, payload, &rows); err != nil {
		return store.NoteRecord{}, fmt.Errorf("failed to insert note: %w", err)
	}
	if len(rows) == 0 {
		return store.NoteRecord{}, fmt.Errorf("backend returned no representation for inserted note")
	}
	created := rows[0].NoteRecord
	created.UserID = rows[0].UserID
	return created, nil
}

// UpdateNote overwrites the note row by id
func (r *Remote) UpdateNote(ctx context.Context, id string, note store.NoteRecord) error {
	q := url.Values{}
	q.Set("id", "eq."+id)

	var rows []remoteNote
	if err := r.do(ctx, http.MethodPatch, "/notes", q, remoteNote{NoteRecord: note, UserID: note.UserID}, &rows); err != nil {
		return fmt.Errorf("failed to update note %s: %w", id, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteNote removes the note row by id
func (r *Remote) DeleteNote(ctx context.Context, id string) error {
	q := url.Values{}
	q.Set("id", "eq."+id)

	var rows []remoteNote
	if err := r.do(ctx, http.MethodDelete, "/notes", q, nil, &rows); err != nil {
		return fmt.Errorf("failed to delete note %s: %w", id, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	return nil
}

// insertPayload converts the wire struct to a map with the server-assigned
// keys removed, so the backend fills them from column defaults
func insertPayload(v any, serverAssigned ...string) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to remap payload: %w", err)
	}
	for _, key := range serverAssigned {
		delete(m, key)
	}
	return m, nil
}

// do executes a single request and decodes the JSON response into out.
// Mutating requests ask the backend to return the affected representation so
// the caller can distinguish a no-op from a hit.
func (r *Remote) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	reqURL := r.baseURL + path
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	var reqBody io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if r.apiKey != "" {
		req.Header.Set("apikey", r.apiKey)
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Printf("[WARN] failed to close response body: %v", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024)) // 10MB limit
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(bytes.TrimSpace(data)))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse response JSON: %w", err)
		}
	}
	return nil
}
