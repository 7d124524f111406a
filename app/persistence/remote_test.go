package persistence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/jobtrack/app/store"
)

func TestRemote_ListJobs(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/jobs", r.URL.Path)
		assert.Equal(t, "eq.user-1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "date_saved.desc", r.URL.Query().Get("order"))
		assert.Equal(t, "secret", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, err := w.Write([]byte(`[
			{"id":"j2","user_id":"user-1","title":"Analyst","company":"Globex","location":"NYC","status":"applying","date_saved":"2024-06-02T00:00:00Z"},
			{"id":"j1","user_id":"user-1","title":"Engineer","company":"Acme","location":"Remote","status":"bookmarked","date_saved":"2024-06-01T00:00:00Z"}
		]`))
		require.NoError(t, err)
	}))
	defer ts.Close()

	r := NewRemote(ts.URL, "secret", time.Second)
	jobs, err := r.ListJobs(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "j2", jobs[0].ID)
	assert.Equal(t, "user-1", jobs[0].UserID)
	assert.Equal(t, store.StatusApplying, jobs[0].Status)
}

func TestRemote_InsertJob(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user-1", body["user_id"])
		assert.Equal(t, "Engineer", body["title"])
		_, hasID := body["id"]
		assert.False(t, hasID, "id must be left to the backend")
		_, hasSaved := body["date_saved"]
		assert.False(t, hasSaved, "date_saved must be left to the backend")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, err := w.Write([]byte(`[{"id":"assigned","user_id":"user-1","title":"Engineer","company":"Acme","location":"Remote","status":"bookmarked","date_saved":"2024-06-01T00:00:00Z"}]`))
		require.NoError(t, err)
	}))
	defer ts.Close()

	r := NewRemote(ts.URL, "", time.Second)
	created, err := r.InsertJob(context.Background(), "user-1", store.JobRecord{Title: "Engineer", Company: "Acme", Location: "Remote"})
	require.NoError(t, err)
	assert.Equal(t, "assigned", created.ID)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), created.DateSaved)
}

func TestRemote_UpdateJob(t *testing.T) {
	t.Run("hit", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPatch, r.Method)
			assert.Equal(t, "eq.j1", r.URL.Query().Get("id"))
			_, err := w.Write([]byte(`[{"id":"j1","title":"Engineer","company":"Acme","location":"Remote","status":"applied","date_saved":"2024-06-01T00:00:00Z"}]`))
			require.NoError(t, err)
		}))
		defer ts.Close()

		r := NewRemote(ts.URL, "", time.Second)
		rec := store.JobRecord{ID: "j1", Title: "Engineer", Company: "Acme", Location: "Remote", Status: store.StatusApplied}
		require.NoError(t, r.UpdateJob(context.Background(), "j1", rec))
	})

	t.Run("miss maps to not found", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, err := w.Write([]byte(`[]`))
			require.NoError(t, err)
		}))
		defer ts.Close()

		r := NewRemote(ts.URL, "", time.Second)
		err := r.UpdateJob(context.Background(), "ghost", store.JobRecord{ID: "ghost"})
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRemote_DeleteJob(t *testing.T) {
	t.Run("hit", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			assert.Equal(t, "eq.j1", r.URL.Query().Get("id"))
			_, err := w.Write([]byte(`[{"id":"j1","title":"Engineer","company":"Acme","location":"Remote","status":"bookmarked","date_saved":"2024-06-01T00:00:00Z"}]`))
			require.NoError(t, err)
		}))
		defer ts.Close()

		r := NewRemote(ts.URL, "", time.Second)
		require.NoError(t, r.DeleteJob(context.Background(), "j1"))
	})

	t.Run("miss maps to not found", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, err := w.Write([]byte(`[]`))
			require.NoError(t, err)
		}))
		defer ts.Close()

		r := NewRemote(ts.URL, "", time.Second)
		require.ErrorIs(t, r.DeleteJob(context.Background(), "ghost"), ErrNotFound)
	})
}

func TestRemote_Notes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/notes", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			_, err := w.Write([]byte(`[{"id":"n1","user_id":"user-1","text":"hello","created_at":"2024-06-01T00:00:00Z","updated_at":"2024-06-01T00:00:00Z"}]`))
			require.NoError(t, err)
		case http.MethodPost:
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			for _, key := range []string{"id", "created_at", "updated_at"} {
				_, present := body[key]
				assert.False(t, present, "%s must be left to the backend", key)
			}
			_, err := w.Write([]byte(`[{"id":"n2","user_id":"user-1","text":"new","created_at":"2024-06-02T00:00:00Z","updated_at":"2024-06-02T00:00:00Z"}]`))
			require.NoError(t, err)
		default:
			_, err := w.Write([]byte(`[{"id":"n1","text":"x","created_at":"2024-06-01T00:00:00Z","updated_at":"2024-06-01T00:00:00Z"}]`))
			require.NoError(t, err)
		}
	}))
	defer ts.Close()

	r := NewRemote(ts.URL, "", time.Second)
	ctx := context.Background()

	notes, err := r.ListNotes(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "user-1", notes[0].UserID)

	created, err := r.InsertNote(ctx, "user-1", store.NoteRecord{Text: "new"})
	require.NoError(t, err)
	assert.Equal(t, "n2", created.ID)

	require.NoError(t, r.UpdateNote(ctx, "n1", store.NoteRecord{ID: "n1", Text: "x"}))
	require.NoError(t, r.DeleteNote(ctx, "n1"))
}

func TestRemote_ErrorResponses(t *testing.T) {
	t.Run("server error surfaced with body", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "row level security violation", http.StatusForbidden)
		}))
		defer ts.Close()

		r := NewRemote(ts.URL, "", time.Second)
		_, err := r.ListJobs(context.Background(), "user-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "403")
		assert.Contains(t, err.Error(), "row level security")
	})

	t.Run("404 maps to not found", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer ts.Close()

		r := NewRemote(ts.URL, "", time.Second)
		_, err := r.ListJobs(context.Background(), "user-1")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("garbage JSON rejected", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, err := w.Write([]byte(`{{{not json`))
			require.NoError(t, err)
		}))
		defer ts.Close()

		r := NewRemote(ts.URL, "", time.Second)
		_, err := r.ListJobs(context.Background(), "user-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse")
	})
}
