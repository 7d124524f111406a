package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
)

// Persistence defines the remote backend operations the store depends on.
// The backend is the sole authority on whether a mutation is durable.
type Persistence interface {
	ListJobs(ctx context.Context, userID string) ([]JobRecord, error)
	InsertJob(ctx context.Context, userID string, rec JobRecord) (JobRecord, error)
	UpdateJob(ctx context.Context, id string, rec JobRecord) error
	DeleteJob(ctx context.Context, id string) error

	ListNotes(ctx context.Context, userID string) ([]NoteRecord, error)
	InsertNote(ctx context.Context, userID string, note NoteRecord) (NoteRecord, error)
	UpdateNote(ctx context.Context, id string, note NoteRecord) error
	DeleteNote(ctx context.Context, id string) error
}

// Store is the single source of truth for one user's job collection. It keeps
// the ordered list of records, the selection set for bulk actions and the
// loading flag, and synchronizes all of them with the persistence backend.
// Mutations are pessimistic: the remote call completes first, local state is
// reconciled only on success.
type Store struct {
	persistence Persistence

	mu       sync.RWMutex
	userID   string
	jobs     []JobRecord // descending creation time, most recent first
	notes    []NoteRecord
	selected map[string]struct{}
	loading  bool
	loadGen  int64 // bumped on every identity change, stale load results are discarded

	nowFn func() time.Time
}

// New creates a store bound to the given persistence backend. The store is
// empty until SetUser provides an identity.
func New(p Persistence) *Store {
	return &Store{
		persistence: p,
		selected:    make(map[string]struct{}),
		nowFn:       time.Now,
	}
}

// SetUser switches the store to the given user and loads the collection.
// Empty userID means sign-out: the collection and selection are cleared
// without any remote call. Each call bumps a generation counter, a load
// superseded by a newer identity change leaves the collection untouched.
func (s *Store) SetUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	s.userID = userID
	s.loadGen++
	gen := s.loadGen

	if userID == "" {
		s.jobs, s.notes = nil, nil
		s.selected = make(map[string]struct{})
		s.loading = false
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	s.mu.Unlock()

	jobs, err := s.persistence.ListJobs(ctx, userID)
	var notes []NoteRecord
	if err == nil {
		if notes, err = s.persistence.ListNotes(ctx, userID); err != nil {
			// notes are secondary, a failed notes load doesn't fail the session
			log.Printf("[WARN] failed to load notes for user %s: %v", userID, err)
			notes, err = nil, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.loadGen {
		return nil // superseded by a newer identity change
	}
	s.loading = false
	if err != nil {
		return fmt.Errorf("failed to load jobs for user %s: %w", userID, err)
	}

	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].DateSaved.After(jobs[j].DateSaved) })
	s.jobs = jobs
	s.notes = notes
	s.selected = make(map[string]struct{})
	return nil
}

// UserID returns the current user identity, empty when signed out
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// IsLoading reports whether an initial load is in flight
func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Jobs returns a snapshot of the collection, most recent first
func (s *Store) Jobs() []JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]JobRecord, len(s.jobs))
	copy(res, s.jobs)
	return res
}

// Job returns a single record by id
func (s *Store) Job(id string) (JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := s.indexOf(id); idx >= 0 {
		return s.jobs[idx], nil
	}
	return JobRecord{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
}

// Add validates the candidate, inserts it remotely and prepends the canonical
// record returned by the backend to the collection. On any failure local
// state is unchanged and the operation is not retried.
func (s *Store) Add(ctx context.Context, candidate JobRecord) (JobRecord, error) {
	if err := candidate.Validate(); err != nil {
		return JobRecord{}, err
	}

	s.mu.RLock()
	userID := s.userID
	s.mu.RUnlock()
	if userID == "" {
		return JobRecord{}, ErrNoUser
	}

	created, err := s.persistence.InsertJob(ctx, userID, candidate)
	if err != nil {
		return JobRecord{}, fmt.Errorf("failed to insert job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID != userID {
		return created, nil // identity changed while the insert was in flight
	}
	s.jobs = append([]JobRecord{created}, s.jobs...)
	return created, nil
}

// Update replaces the remote row and the matching in-memory entry with rec.
// This is a full replace, not a patch, every field is overwritten except the
// write-once DateSaved which is always taken from the stored record. List
// position is preserved. On failure local state is unchanged.
func (s *Store) Update(ctx context.Context, rec JobRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: id is required for update", ErrValidation)
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	idx := s.indexOf(rec.ID)
	if idx < 0 {
		s.mu.RUnlock()
		return fmt.Errorf("job %s: %w", rec.ID, ErrNotFound)
	}
	rec.DateSaved = s.jobs[idx].DateSaved // write-once, never overwritten by updates
	rec.UserID = s.jobs[idx].UserID
	s.mu.RUnlock()

	if err := s.persistence.UpdateJob(ctx, rec.ID, rec); err != nil {
		return fmt.Errorf("failed to update job %s: %w", rec.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(rec.ID); idx >= 0 {
		s.jobs[idx] = rec
	}
	return nil
}

// Delete removes the record remotely, then drops it from the collection and
// the selection set under the same lock, so a removed record is never left
// selectable. On remote failure both are unchanged.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.RLock()
	idx := s.indexOf(id)
	s.mu.RUnlock()
	if idx < 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}

	if err := s.persistence.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(id); idx >= 0 {
		s.jobs = append(s.jobs[:idx], s.jobs[idx+1:]...)
	}
	delete(s.selected, id)
	return nil
}

// MarkApplied sets DateApplied to the current date and moves the record to
// the applied stage in a single combined update, regardless of prior status
func (s *Store) MarkApplied(ctx context.Context, id string) error {
	rec, err := s.Job(id)
	if err != nil {
		return err
	}
	rec.DateApplied = dateOnly(s.nowFn())
	rec.Status = StatusApplied
	return s.Update(ctx, rec)
}

// SetStatus moves the record to another pipeline stage, DateApplied and all
// other fields are untouched
func (s *Store) SetStatus(ctx context.Context, id string, status Status) error {
	rec, err := s.Job(id)
	if err != nil {
		return err
	}
	rec.Status = status
	return s.Update(ctx, rec)
}

// SetExcitement changes only the excitement rating
func (s *Store) SetExcitement(ctx context.Context, id string, rating int) error {
	if rating < ExcitementMin || rating > ExcitementMax {
		return fmt.Errorf("%w: excitement %d out of range %d..%d", ErrValidation, rating, ExcitementMin, ExcitementMax)
	}
	rec, err := s.Job(id)
	if err != nil {
		return err
	}
	rec.Excitement = rating
	return s.Update(ctx, rec)
}

// ToggleSelect flips selection membership for the id. An id not present in
// the collection never enters the selection, toggling it has no visible
// effect, so the selection is a subset of collection ids at all times.
func (s *Store) ToggleSelect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.selected[id]; ok {
		delete(s.selected, id)
		return
	}
	if s.indexOf(id) < 0 {
		return
	}
	s.selected[id] = struct{}{}
}

// SelectAll with true sets the selection to a snapshot of the current id set,
// records added later are not auto-selected. With false it clears the set.
func (s *Store) SelectAll(flag bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = make(map[string]struct{}, len(s.jobs))
	if !flag {
		return
	}
	for _, j := range s.jobs {
		s.selected[j.ID] = struct{}{}
	}
}

// Selected returns the selected ids, sorted for deterministic output
func (s *Store) Selected() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]string, 0, len(s.selected))
	for id := range s.selected {
		res = append(res, id)
	}
	sort.Strings(res)
	return res
}

// IsSelected reports selection membership for the id
func (s *Store) IsSelected(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.selected[id]
	return ok
}

// indexOf returns the position of id in the collection, -1 if absent.
// Callers must hold the lock.
func (s *Store) indexOf(id string) int {
	for i, j := range s.jobs {
		if j.ID == id {
			return i
		}
	}
	return -1
}

// dateOnly truncates a timestamp to midnight UTC
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
