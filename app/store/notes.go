package store

import (
	"context"
	"fmt"
)

// Notes returns a snapshot of the user's notes
func (s *Store) Notes() []NoteRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]NoteRecord, len(s.notes))
	copy(res, s.notes)
	return res
}

// AddNote validates and inserts a note. A note referencing a job must point
// to a record currently in the collection; orphans appear only later, when
// the referenced job is deleted.
func (s *Store) AddNote(ctx context.Context, note NoteRecord) (NoteRecord, error) {
	if err := note.Validate(); err != nil {
		return NoteRecord{}, err
	}

	s.mu.RLock()
	userID := s.userID
	jobMissing := note.JobID != "" && s.indexOf(note.JobID) < 0
	s.mu.RUnlock()

	if userID == "" {
		return NoteRecord{}, ErrNoUser
	}
	if jobMissing {
		return NoteRecord{}, fmt.Errorf("%w: note references unknown job %s", ErrValidation, note.JobID)
	}

	created, err := s.persistence.InsertNote(ctx, userID, note)
	if err != nil {
		return NoteRecord{}, fmt.Errorf("failed to insert note: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID != userID {
		return created, nil
	}
	s.notes = append([]NoteRecord{created}, s.notes...)
	return created, nil
}

// UpdateNote replaces the note remotely and in memory, full replace semantics
// matching job updates
func (s *Store) UpdateNote(ctx context.Context, note NoteRecord) error {
	if note.ID == "" {
		return fmt.Errorf("%w: id is required for note update", ErrValidation)
	}
	if err := note.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	idx := s.noteIndexOf(note.ID)
	if idx < 0 {
		s.mu.RUnlock()
		return fmt.Errorf("note %s: %w", note.ID, ErrNotFound)
	}
	note.CreatedAt = s.notes[idx].CreatedAt // write-once
	note.UserID = s.notes[idx].UserID
	s.mu.RUnlock()

	if err := s.persistence.UpdateNote(ctx, note.ID, note); err != nil {
		return fmt.Errorf("failed to update note %s: %w", note.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.noteIndexOf(note.ID); idx >= 0 {
		s.notes[idx] = note
	}
	return nil
}

// DeleteNote removes the note remotely and from memory
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	s.mu.RLock()
	idx := s.noteIndexOf(id)
	s.mu.RUnlock()
	if idx < 0 {
		return fmt.Errorf("note %s: %w", id, ErrNotFound)
	}

	if err := s.persistence.DeleteNote(ctx, id); err != nil {
		return fmt.Errorf("failed to delete note %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.noteIndexOf(id); idx >= 0 {
		s.notes = append(s.notes[:idx], s.notes[idx+1:]...)
	}
	return nil
}

// noteIndexOf returns the position of a note id, -1 if absent.
// Callers must hold the lock.
func (s *Store) noteIndexOf(id string) int {
	for i, n := range s.notes {
		if n.ID == id {
			return i
		}
	}
	return -1
}
