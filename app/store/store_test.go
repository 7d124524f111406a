package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPersistence implements Persistence with overridable func fields
type mockPersistence struct {
	listJobs   func(ctx context.Context, userID string) ([]JobRecord, error)
	insertJob  func(ctx context.Context, userID string, rec JobRecord) (JobRecord, error)
	updateJob  func(ctx context.Context, id string, rec JobRecord) error
	deleteJob  func(ctx context.Context, id string) error
	listNotes  func(ctx context.Context, userID string) ([]NoteRecord, error)
	insertNote func(ctx context.Context, userID string, note NoteRecord) (NoteRecord, error)
	updateNote func(ctx context.Context, id string, note NoteRecord) error
	deleteNote func(ctx context.Context, id string) error
}

func (m *mockPersistence) ListJobs(ctx context.Context, userID string) ([]JobRecord, error) {
	if m.listJobs != nil {
		return m.listJobs(ctx, userID)
	}
	return nil, nil
}

func (m *mockPersistence) InsertJob(ctx context.Context, userID string, rec JobRecord) (JobRecord, error) {
	if m.insertJob != nil {
		return m.insertJob(ctx, userID, rec)
	}
	rec.UserID = userID
	rec.ID = "generated-id"
	rec.DateSaved = time.Now()
	return rec, nil
}

func (m *mockPersistence) UpdateJob(ctx context.Context, id string, rec JobRecord) error {
	if m.updateJob != nil {
		return m.updateJob(ctx, id, rec)
	}
	return nil
}

func (m *mockPersistence) DeleteJob(ctx context.Context, id string) error {
	if m.deleteJob != nil {
		return m.deleteJob(ctx, id)
	}
	return nil
}

func (m *mockPersistence) ListNotes(ctx context.Context, userID string) ([]NoteRecord, error) {
	if m.listNotes != nil {
		return m.listNotes(ctx, userID)
	}
	return nil, nil
}

func (m *mockPersistence) InsertNote(ctx context.Context, userID string, note NoteRecord) (NoteRecord, error) {
	if m.insertNote != nil {
		return m.insertNote(ctx, userID, note)
	}
	note.UserID = userID
	note.ID = "generated-note-id"
	note.CreatedAt = time.Now()
	return note, nil
}

func (m *mockPersistence) UpdateNote(ctx context.Context, id string, note NoteRecord) error {
	if m.updateNote != nil {
		return m.updateNote(ctx, id, note)
	}
	return nil
}

func (m *mockPersistence) DeleteNote(ctx context.Context, id string) error {
	if m.deleteNote != nil {
		return m.deleteNote(ctx, id)
	}
	return nil
}

func validJob(id string) JobRecord {
	return JobRecord{
		ID:        id,
		Title:     "Engineer",
		Company:   "Acme",
		Location:  "Remote",
		Status:    StatusBookmarked,
		DateSaved: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func loadedStore(t *testing.T, jobs []JobRecord, mock *mockPersistence) *Store {
	t.Helper()
	if mock.listJobs == nil {
		mock.listJobs = func(_ context.Context, _ string) ([]JobRecord, error) { return jobs, nil }
	}
	s := New(mock)
	require.NoError(t, s.SetUser(context.Background(), "user-1"))
	return s
}

func TestStore_SetUser(t *testing.T) {
	t.Run("load replaces collection ordered by date saved", func(t *testing.T) {
		older := validJob("j1")
		older.DateSaved = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		newer := validJob("j2")
		newer.DateSaved = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

		s := loadedStore(t, []JobRecord{older, newer}, &mockPersistence{})
		jobs := s.Jobs()
		require.Len(t, jobs, 2)
		assert.Equal(t, "j2", jobs[0].ID, "most recent first")
		assert.Equal(t, "j1", jobs[1].ID)
		assert.False(t, s.IsLoading())
	})

	t.Run("load failure keeps previous collection", func(t *testing.T) {
		calls := 0
		mock := &mockPersistence{listJobs: func(_ context.Context, _ string) ([]JobRecord, error) {
			calls++
			if calls > 1 {
				return nil, fmt.Errorf("remote rejected")
			}
			return []JobRecord{validJob("j1")}, nil
		}}
		s := New(mock)
		require.NoError(t, s.SetUser(context.Background(), "user-1"))
		require.Len(t, s.Jobs(), 1)

		err := s.SetUser(context.Background(), "user-2")
		require.Error(t, err)
		assert.Len(t, s.Jobs(), 1, "collection unchanged on load failure")
		assert.False(t, s.IsLoading(), "loading flag cleared on failure")
	})

	t.Run("sign-out clears collection and selection without remote call", func(t *testing.T) {
		s := loadedStore(t, []JobRecord{validJob("j1")}, &mockPersistence{})
		s.ToggleSelect("j1")

		require.NoError(t, s.SetUser(context.Background(), ""))
		assert.Empty(t, s.Jobs())
		assert.Empty(t, s.Selected())
		assert.Empty(t, s.UserID())
	})

	t.Run("superseded load is discarded", func(t *testing.T) {
		firstStarted := make(chan struct{})
		release := make(chan struct{})
		mock := &mockPersistence{listJobs: func(_ context.Context, userID string) ([]JobRecord, error) {
			if userID == "slow-user" {
				close(firstStarted)
				<-release
				return []JobRecord{validJob("stale")}, nil
			}
			return []JobRecord{validJob("fresh")}, nil
		}}
		s := New(mock)

		done := make(chan error)
		go func() { done <- s.SetUser(context.Background(), "slow-user") }()
		<-firstStarted

		require.NoError(t, s.SetUser(context.Background(), "fast-user"))
		close(release)
		require.NoError(t, <-done)

		jobs := s.Jobs()
		require.Len(t, jobs, 1)
		assert.Equal(t, "fresh", jobs[0].ID, "stale load result must not overwrite the newer one")
	})
}

func TestStore_Add(t *testing.T) {
	t.Run("canonical fields merged and record prepended", func(t *testing.T) {
		saved := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
		mock := &mockPersistence{
			insertJob: func(_ context.Context, userID string, rec JobRecord) (JobRecord, error) {
				rec.ID = "server-id"
				rec.UserID = userID
				rec.DateSaved = saved
				return rec, nil
			},
		}
		s := loadedStore(t, []JobRecord{validJob("existing")}, mock)

		created, err := s.Add(context.Background(), JobRecord{Title: "Engineer", Company: "Acme", Location: "Remote"})
		require.NoError(t, err)
		assert.Equal(t, "server-id", created.ID)
		assert.Equal(t, saved, created.DateSaved)
		assert.Equal(t, StatusBookmarked, created.Status, "status defaults to bookmarked")

		jobs := s.Jobs()
		require.Len(t, jobs, 2)
		assert.Equal(t, "server-id", jobs[0].ID, "new record prepended")
	})

	t.Run("validation failure never reaches the backend", func(t *testing.T) {
		inserted := false
		mock := &mockPersistence{insertJob: func(_ context.Context, _ string, rec JobRecord) (JobRecord, error) {
			inserted = true
			return rec, nil
		}}
		s := loadedStore(t, nil, mock)

		tbl := []struct {
			name string
			rec  JobRecord
		}{
			{"missing title", JobRecord{Company: "Acme", Location: "Remote"}},
			{"missing company", JobRecord{Title: "Engineer", Location: "Remote"}},
			{"missing location", JobRecord{Title: "Engineer", Company: "Acme"}},
			{"excitement out of range", JobRecord{Title: "Engineer", Company: "Acme", Location: "Remote", Excitement: 6}},
			{"status out of closed set", JobRecord{Title: "Engineer", Company: "Acme", Location: "Remote", Status: Status(42)}},
		}
		for _, tc := range tbl {
			t.Run(tc.name, func(t *testing.T) {
				_, err := s.Add(context.Background(), tc.rec)
				require.ErrorIs(t, err, ErrValidation)
				assert.False(t, inserted, "backend must not be called")
				assert.Empty(t, s.Jobs())
			})
		}
	})

	t.Run("insert failure leaves collection unchanged", func(t *testing.T) {
		mock := &mockPersistence{insertJob: func(_ context.Context, _ string, _ JobRecord) (JobRecord, error) {
			return JobRecord{}, fmt.Errorf("remote rejected")
		}}
		s := loadedStore(t, nil, mock)
		_, err := s.Add(context.Background(), JobRecord{Title: "Engineer", Company: "Acme", Location: "Remote"})
		require.Error(t, err)
		assert.Empty(t, s.Jobs())
	})

	t.Run("add without user rejected", func(t *testing.T) {
		s := New(&mockPersistence{})
		_, err := s.Add(context.Background(), JobRecord{Title: "Engineer", Company: "Acme", Location: "Remote"})
		require.ErrorIs(t, err, ErrNoUser)
	})
}

func TestStore_Update(t *testing.T) {
	t.Run("replaces in place preserving position and date saved", func(t *testing.T) {
		var sent JobRecord
		mock := &mockPersistence{updateJob: func(_ context.Context, _ string, rec JobRecord) error {
			sent = rec
			return nil
		}}
		first := validJob("j1")
		second := validJob("j2")
		s := loadedStore(t, []JobRecord{first, second}, mock)

		changed := second
		changed.Title = "Senior Engineer"
		changed.DateSaved = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) // must be ignored
		require.NoError(t, s.Update(context.Background(), changed))

		jobs := s.Jobs()
		require.Len(t, jobs, 2)
		assert.Equal(t, "j2", jobs[1].ID, "position preserved")
		assert.Equal(t, "Senior Engineer", jobs[1].Title)
		assert.Equal(t, second.DateSaved, jobs[1].DateSaved, "date saved is write-once")
		assert.Equal(t, second.DateSaved, sent.DateSaved, "stored date saved sent to backend")
	})

	t.Run("remote failure leaves record unchanged", func(t *testing.T) {
		mock := &mockPersistence{updateJob: func(_ context.Context, _ string, _ JobRecord) error {
			return fmt.Errorf("remote rejected")
		}}
		s := loadedStore(t, []JobRecord{validJob("j1")}, mock)

		changed := validJob("j1")
		changed.Title = "Changed"
		require.Error(t, s.Update(context.Background(), changed))
		assert.Equal(t, "Engineer", s.Jobs()[0].Title)
	})

	t.Run("unknown id rejected before remote call", func(t *testing.T) {
		called := false
		mock := &mockPersistence{updateJob: func(_ context.Context, _ string, _ JobRecord) error {
			called = true
			return nil
		}}
		s := loadedStore(t, nil, mock)
		err := s.Update(context.Background(), validJob("missing"))
		require.ErrorIs(t, err, ErrNotFound)
		assert.False(t, called)
	})
}

func TestStore_Delete(t *testing.T) {
	t.Run("removes from collection and selection atomically", func(t *testing.T) {
		s := loadedStore(t, []JobRecord{validJob("j1"), validJob("j2")}, &mockPersistence{})
		s.ToggleSelect("j1")
		s.ToggleSelect("j2")

		require.NoError(t, s.Delete(context.Background(), "j1"))
		assert.Len(t, s.Jobs(), 1)
		assert.Equal(t, []string{"j2"}, s.Selected())

		// select-all after delete must not resurrect the removed id
		s.SelectAll(true)
		assert.Equal(t, []string{"j2"}, s.Selected())
	})

	t.Run("remote failure leaves both collections unchanged", func(t *testing.T) {
		mock := &mockPersistence{deleteJob: func(_ context.Context, _ string) error {
			return fmt.Errorf("remote rejected")
		}}
		s := loadedStore(t, []JobRecord{validJob("j1")}, mock)
		s.ToggleSelect("j1")

		require.Error(t, s.Delete(context.Background(), "j1"))
		assert.Len(t, s.Jobs(), 1)
		assert.Equal(t, []string{"j1"}, s.Selected())
	})

	t.Run("selection invariant holds across mutation sequences", func(t *testing.T) {
		s := loadedStore(t, []JobRecord{validJob("j1"), validJob("j2"), validJob("j3")}, &mockPersistence{})
		s.SelectAll(true)

		require.NoError(t, s.Delete(context.Background(), "j2"))
		_, err := s.Add(context.Background(), JobRecord{Title: "Engineer", Company: "Acme", Location: "Remote"})
		require.NoError(t, err)
		require.NoError(t, s.Delete(context.Background(), "j1"))

		ids := make(map[string]struct{})
		for _, j := range s.Jobs() {
			ids[j.ID] = struct{}{}
		}
		for _, sel := range s.Selected() {
			_, ok := ids[sel]
			assert.True(t, ok, "selected id %s must be in the collection", sel)
		}
	})
}

func TestStore_Selection(t *testing.T) {
	t.Run("toggle flips membership", func(t *testing.T) {
		s := loadedStore(t, []JobRecord{validJob("j1")}, &mockPersistence{})
		s.ToggleSelect("j1")
		assert.True(t, s.IsSelected("j1"))
		s.ToggleSelect("j1")
		assert.False(t, s.IsSelected("j1"))
	})

	t.Run("toggle of unknown id has no visible effect", func(t *testing.T) {
		s := loadedStore(t, []JobRecord{validJob("j1")}, &mockPersistence{})
		s.ToggleSelect("ghost")
		assert.False(t, s.IsSelected("ghost"))
		assert.Empty(t, s.Selected(), "unknown id never enters the selection")

		s.ToggleSelect("j1")
		s.ToggleSelect("ghost")
		assert.Equal(t, []string{"j1"}, s.Selected(), "selection stays a subset of collection ids")

		require.NoError(t, s.Delete(context.Background(), "j1"))
		assert.Empty(t, s.Selected())
	})

	t.Run("select all is a snapshot, later adds not auto-selected", func(t *testing.T) {
		s := loadedStore(t, []JobRecord{validJob("j1")}, &mockPersistence{})
		s.SelectAll(true)
		require.Equal(t, []string{"j1"}, s.Selected())

		_, err := s.Add(context.Background(), JobRecord{Title: "Engineer", Company: "Acme", Location: "Remote"})
		require.NoError(t, err)
		assert.Equal(t, []string{"j1"}, s.Selected())
	})

	t.Run("clear is idempotent", func(t *testing.T) {
		s := loadedStore(t, []JobRecord{validJob("j1")}, &mockPersistence{})
		s.SelectAll(true)
		s.SelectAll(false)
		first := s.Selected()
		s.SelectAll(false)
		assert.Equal(t, first, s.Selected())
		assert.Empty(t, s.Selected())
	})
}

func TestStore_QuickTransitions(t *testing.T) {
	t.Run("mark applied sets date and status in one update", func(t *testing.T) {
		var updates []JobRecord
		mock := &mockPersistence{updateJob: func(_ context.Context, _ string, rec JobRecord) error {
			updates = append(updates, rec)
			return nil
		}}
		s := loadedStore(t, []JobRecord{validJob("j1")}, mock)
		s.nowFn = func() time.Time { return time.Date(2024, 6, 15, 13, 45, 0, 0, time.UTC) }

		require.NoError(t, s.MarkApplied(context.Background(), "j1"))
		require.Len(t, updates, 1, "exactly one combined update call")
		assert.Equal(t, StatusApplied, updates[0].Status)
		assert.Equal(t, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), updates[0].DateApplied)

		got, err := s.Job("j1")
		require.NoError(t, err)
		assert.Equal(t, StatusApplied, got.Status)
	})

	t.Run("status move leaves date applied untouched", func(t *testing.T) {
		rec := validJob("j1")
		rec.DateApplied = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		s := loadedStore(t, []JobRecord{rec}, &mockPersistence{})

		require.NoError(t, s.SetStatus(context.Background(), "j1", StatusInterviewing))
		got, err := s.Job("j1")
		require.NoError(t, err)
		assert.Equal(t, StatusInterviewing, got.Status)
		assert.Equal(t, rec.DateApplied, got.DateApplied)
	})

	t.Run("excitement change leaves everything else unchanged", func(t *testing.T) {
		rec := validJob("j1")
		rec.Status = StatusApplying
		rec.DateApplied = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		s := loadedStore(t, []JobRecord{rec}, &mockPersistence{})

		require.NoError(t, s.SetExcitement(context.Background(), "j1", 4))
		got, err := s.Job("j1")
		require.NoError(t, err)
		assert.Equal(t, 4, got.Excitement)
		assert.Equal(t, StatusApplying, got.Status)
		assert.Equal(t, rec.DateApplied, got.DateApplied)
		assert.Equal(t, rec.DateSaved, got.DateSaved)
	})

	t.Run("excitement out of range rejected", func(t *testing.T) {
		s := loadedStore(t, []JobRecord{validJob("j1")}, &mockPersistence{})
		require.ErrorIs(t, s.SetExcitement(context.Background(), "j1", 6), ErrValidation)
		require.ErrorIs(t, s.SetExcitement(context.Background(), "j1", -1), ErrValidation)
	})
}

func TestStore_AddThenReloadRoundTrip(t *testing.T) {
	// backend keeping state across calls, add followed by a reload must yield
	// the exact fields plus server-assigned id and date saved
	var rows []JobRecord
	saved := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	mock := &mockPersistence{
		listJobs: func(_ context.Context, _ string) ([]JobRecord, error) { return rows, nil },
		insertJob: func(_ context.Context, userID string, rec JobRecord) (JobRecord, error) {
			rec.ID = "assigned-1"
			rec.UserID = userID
			rec.DateSaved = saved
			rows = append(rows, rec)
			return rec, nil
		},
	}
	s := New(mock)
	require.NoError(t, s.SetUser(context.Background(), "user-1"))

	_, err := s.Add(context.Background(), JobRecord{Title: "Engineer", Company: "Acme", Location: "Remote", Status: StatusBookmarked})
	require.NoError(t, err)

	require.NoError(t, s.SetUser(context.Background(), "user-1"))
	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "Engineer", jobs[0].Title)
	assert.Equal(t, "Acme", jobs[0].Company)
	assert.Equal(t, "Remote", jobs[0].Location)
	assert.Equal(t, StatusBookmarked, jobs[0].Status)
	assert.NotEmpty(t, jobs[0].ID)
	assert.Equal(t, saved, jobs[0].DateSaved)
}
