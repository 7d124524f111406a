package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/umputun/jobtrack/app/export"
	"github.com/umputun/jobtrack/app/persistence"
	"github.com/umputun/jobtrack/app/store"
)

// JobsResponse is the JSON response for the collection listing
type JobsResponse struct {
	Jobs        []store.JobRecord `json:"jobs"`
	Loading     bool              `json:"loading"`
	SelectedIDs []string          `json:"selected_ids"`
}

// StatusResponse is the JSON response for /api/v1/status
type StatusResponse struct {
	Version   string     `json:"version"`
	Uptime    string     `json:"uptime"`
	Timestamp time.Time  `json:"timestamp"`
	System    SystemInfo `json:"system"`
}

// SystemInfo holds host metrics for the status endpoint
type SystemInfo struct {
	LoadAvg1   float64 `json:"load_avg_1,omitempty"`
	MemUsedPct float64 `json:"mem_used_pct,omitempty"`
	MemTotalMB uint64  `json:"mem_total_mb,omitempty"`
}

// ImportResponse reports the outcome of a snapshot import
type ImportResponse struct {
	Jobs  int `json:"jobs"`
	Notes int `json:"notes"`
}

// sessionStore resolves the authenticated user's store or writes an error
func (s *Server) sessionStore(w http.ResponseWriter, r *http.Request) (*store.Store, bool) {
	uid := userID(r)
	if uid == "" {
		s.writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	st, err := s.storeFor(r.Context(), uid)
	if err != nil {
		log.Printf("[ERROR] %v", err)
		s.writeJSONError(w, http.StatusBadGateway, "failed to load records")
		return nil, false
	}
	return st, true
}

// handleListJobs returns the collection snapshot with selection state
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sessionStore(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, JobsResponse{
		Jobs:        st.Jobs(),
		Loading:     st.IsLoading(),
		SelectedIDs: st.Selected(),
	})
}

// handleAddJob validates and creates a record
func (s *Server) handleAddJob(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sessionStore(w, r)
	if !ok {
		return
	}

	var rec store.JobRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := st.Add(r.Context(), rec)
	if err != nil {
		s.writeStoreError(w, err, "failed to add job")
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

// handleUpdateJob replaces a record, full record semantics
func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sessionStore(w, r)
	if !ok {
		return
	}

	var rec store.JobRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec.ID = r.PathValue("id")

	if err := st.Update(r.Context(), rec); err != nil {
		s.writeStoreError(w, err, "failed to update job")
		return
	}
	updated, err := st.Job(rec.ID)
	if err != nil {
		s.writeStoreError(w, err, "failed to read back job")
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

// handleDeleteJob removes a record and its selection entry
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sessionStore(w, r)
	if !ok {
		return
	}
	if err := st.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err, "failed to delete job")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleMarkApplied sets the applied date to today and moves the record to
// applied in one update
func (s *Server) handleMarkApplied(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sessionStore(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := st.MarkApplied(r.Context(), id); err != nil {
		s.writeStoreError(w, err, "failed to mark job applied")
		return
	}
	s.writeUpdatedJob(w, st, id)
}

// handleSetStatus moves a record to another pipeline stage
func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sessionStore(w, r)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status, err := store.ParseStatus(req.Status)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := r.PathValue("id")
	if err := st.SetStatus(r.Context(), id, status); err != nil {
		s.writeStoreError(w, err, "failed to change job status")
		return
	}
	s.writeUpdatedJob(w, st, id)
}

// handleSetExcitement changes the star rating only
func (s *Server) handleSetExcitement(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sessionStore(w, r)
	if !ok {
		return
	}

	var req struct {
		Excitement int `json:"excitement"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := r.PathValue("id")
	if err := st.SetExcitement(r.Context(), id, req.Excitement); err != nil {
		s.writeStoreError(w, err, "failed to change excitement")
		return
	}
	s.writeUpdatedJob(w, st, id)
}

// handleToggleSelect flips one id in the selection set
func (s *Server) handleToggleSelect(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sessionStore(w, r)
	if !ok {
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "id is required")
		return
	}

	st.ToggleSelect(req.ID)
	s.writeJSON(w, http.StatusOK, map[string]any{"selected_ids": st.Selected()})
}

// handleSelectAll snapshots or clears the selection
func (s *Server) handleSelectAll(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sessionStore(w, r)
	if !ok {
		return
	}

	var req struct {
		Selected bool `json:"selected"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	st.SelectAll(req.Selected)
	s.writeJSON(w, http.StatusOK, map[string]any{"selected_ids": st.Selected()})
}

// handleListNotes returns the user's notes
func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sessionStore(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"notes": st.Notes()})
}

// handleAddNote creates a note, optionally attached to a job
func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sessionStore(w, r)
	if !ok {
		return
	}

	var note store.NoteRecord
	if err := json.NewDecoder(r.Body).Decode(&note); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := st.AddNote(r.Context(), note)
	if err != nil {
		s.writeStoreError(w, err, "failed to add note")
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

// handleUpdateNote replaces a note
func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sessionStore(w, r)
	if !ok {
		return
	}

	var note store.NoteRecord
	if err := json.NewDecoder(r.Body).Decode(&note); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	note.ID = r.PathValue("id")

	if err := st.UpdateNote(r.Context(), note); err != nil {
		s.writeStoreError(w, err, "failed to update note")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleDeleteNote removes a note
func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sessionStore(w, r)
	if !ok {
		return
	}
	if err := st.DeleteNote(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err, "failed to delete note")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleStats computes derived metrics over an optional date window.
// Metrics are recomputed on every request, nothing is cached.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sessionStore(w, r)
	if !ok {
		return
	}

	from, err := parseDateParam(r, "from")
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseDateParam(r, "to")
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !to.IsZero() {
		to = to.Add(24*time.Hour - time.Second) // inclusive end of day
	}

	filtered := store.FilterByRange(st.Jobs(), from, to)
	s.writeJSON(w, http.StatusOK, store.CalcMetrics(filtered, time.Now()))
}

// handleStatus returns app and host info
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
	}

	if la, err := load.Avg(); err == nil {
		resp.System.LoadAvg1 = la.Load1
	} else {
		log.Printf("[WARN] failed to get load average: %v", err)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.System.MemUsedPct = vm.UsedPercent
		resp.System.MemTotalMB = vm.Total / 1024 / 1024
	} else {
		log.Printf("[WARN] failed to get memory info: %v", err)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleReload re-runs the initial load for the current user
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sessionStore(w, r)
	if !ok {
		return
	}
	if err := st.SetUser(r.Context(), userID(r)); err != nil {
		log.Printf("[ERROR] reload failed: %v", err)
		s.writeJSONError(w, http.StatusBadGateway, "failed to reload records")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// handleExport streams the user's records as a YAML snapshot
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sessionStore(w, r)
	if !ok {
		return
	}

	doc := export.Make(st.Jobs(), st.Notes(), time.Now())
	data, err := export.Marshal(doc)
	if err != nil {
		log.Printf("[ERROR] failed to marshal export: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="jobtrack-export.yml"`)
	if _, err := w.Write(data); err != nil {
		log.Printf("[WARN] failed to write export response: %v", err)
	}
}

// handleExportSchema returns the JSON schema of the snapshot format
func (s *Server) handleExportSchema(w http.ResponseWriter, _ *http.Request) {
	schema, err := export.Schema()
	if err != nil {
		log.Printf("[ERROR] failed to generate schema: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "schema generation failed")
		return
	}
	s.writeJSON(w, http.StatusOK, schema)
}

// handleImport parses a YAML snapshot and feeds every record through the
// store's add pipeline. Job ids are reassigned by the backend, note
// references are remapped to the new ids; references to jobs outside the
// snapshot are cleared.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sessionStore(w, r)
	if !ok {
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	doc, err := export.Parse(data)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := ImportResponse{}
	idMap := make(map[string]string, len(doc.Jobs))
	for _, job := range doc.Jobs {
		oldID := job.ID
		job.ID = ""
		created, err := st.Add(r.Context(), job)
		if err != nil {
			s.writeStoreError(w, fmt.Errorf("import stopped after %d jobs: %w", res.Jobs, err), "import failed")
			return
		}
		if oldID != "" {
			idMap[oldID] = created.ID
		}
		res.Jobs++
	}
	for _, note := range doc.Notes {
		note.ID = ""
		note.JobID = idMap[note.JobID] // unknown references become standalone notes
		if _, err := st.AddNote(r.Context(), note); err != nil {
			s.writeStoreError(w, fmt.Errorf("import stopped after %d notes: %w", res.Notes, err), "import failed")
			return
		}
		res.Notes++
	}

	log.Printf("[INFO] imported %d jobs and %d notes for user %s", res.Jobs, res.Notes, userID(r))
	s.writeJSON(w, http.StatusOK, res)
}

// writeUpdatedJob responds with the current in-memory version of the record
func (s *Server) writeUpdatedJob(w http.ResponseWriter, st *store.Store, id string) {
	rec, err := st.Job(id)
	if err != nil {
		s.writeStoreError(w, err, "failed to read back job")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// writeStoreError maps store errors to HTTP status codes
func (s *Server) writeStoreError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, store.ErrValidation):
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, persistence.ErrNotFound):
		s.writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrNoUser):
		s.writeJSONError(w, http.StatusUnauthorized, "no active session")
	default:
		log.Printf("[ERROR] %s: %v", msg, err)
		s.writeJSONError(w, http.StatusBadGateway, msg)
	}
}

// parseDateParam reads an optional YYYY-MM-DD query parameter
func parseDateParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s date %q, want YYYY-MM-DD", name, v)
	}
	return t, nil
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[WARN] failed to encode JSON error response: %v", err)
	}
}
