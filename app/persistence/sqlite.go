// Package persistence provides storage backends for the job collection: an
// embedded SQLite database and a remote REST backend. Both implement the
// store.Persistence contract; SQLite additionally owns user accounts.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/umputun/jobtrack/app/store"
)

// ErrNotFound indicates the requested row does not exist
var ErrNotFound = errors.New("not found")

// SQLite implements persistence using an embedded SQLite database
type SQLite struct {
	db    *sqlx.DB
	nowFn func() time.Time
}

// NewSQLite opens (or creates) the database at dbPath and initializes the schema
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to set WAL mode: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	res := &SQLite{db: db, nowFn: time.Now}
	if err := res.initialize(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return res, nil
}

// initialize creates the database schema. Notes deliberately carry no foreign
// key to jobs, deleting a job leaves its notes orphaned.
func (s *SQLite) initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			company TEXT NOT NULL,
			location TEXT NOT NULL,
			salary TEXT NOT NULL DEFAULT '',
			job_url TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'bookmarked',
			excitement INTEGER NOT NULL DEFAULT 0,
			date_saved INTEGER NOT NULL,
			date_applied INTEGER,
			deadline INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_user_saved ON jobs(user_id, date_saved DESC)`,
		`CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			job_id TEXT,
			text TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_user ON notes(user_id)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// jobRow is the sqlite representation of a job record, timestamps as unix seconds
type jobRow struct {
	ID          string        `db:"id"`
	UserID      string        `db:"user_id"`
	Title       string        `db:"title"`
	Company     string        `db:"company"`
	Location    string        `db:"location"`
	Salary      string        `db:"salary"`
	JobURL      string        `db:"job_url"`
	Description string        `db:"description"`
	Notes       string        `db:"notes"`
	Status      string        `db:"status"`
	Excitement  int           `db:"excitement"`
	DateSaved   int64         `db:"date_saved"`
	DateApplied sql.NullInt64 `db:"date_applied"`
	Deadline    sql.NullInt64 `db:"deadline"`
}

func (r jobRow) toRecord() store.JobRecord {
	rec := store.JobRecord{
		ID:          r.ID,
		UserID:      r.UserID,
		Title:       r.Title,
		Company:     r.Company,
		Location:    r.Location,
		Salary:      r.Salary,
		JobURL:      r.JobURL,
		Description: r.Description,
		Notes:       r.Notes,
		Excitement:  r.Excitement,
		DateSaved:   time.Unix(r.DateSaved, 0).UTC(),
	}
	if r.DateApplied.Valid && r.DateApplied.Int64 > 0 {
		rec.DateApplied = time.Unix(r.DateApplied.Int64, 0).UTC()
	}
	if r.Deadline.Valid && r.Deadline.Int64 > 0 {
		rec.Deadline = time.Unix(r.Deadline.Int64, 0).UTC()
	}

	status, err := store.ParseStatus(r.Status)
	if err != nil {
		log.Printf("[WARN] invalid status %q for job %s: %v", r.Status, r.ID, err)
		status = store.StatusBookmarked
	}
	rec.Status = status
	return rec
}

func toJobRow(rec store.JobRecord) jobRow {
	row := jobRow{
		ID:          rec.ID,
		UserID:      rec.UserID,
		Title:       rec.Title,
		Company:     rec.Company,
		Location:    rec.Location,
		Salary:      rec.Salary,
		JobURL:      rec.JobURL,
		Description: rec.Description,
		Notes:       rec.Notes,
		Status:      rec.Status.String(),
		Excitement:  rec.Excitement,
		DateSaved:   rec.DateSaved.Unix(),
	}
	if !rec.DateApplied.IsZero() {
		row.DateApplied = sql.NullInt64{Int64: rec.DateApplied.Unix(), Valid: true}
	}
	if !rec.Deadline.IsZero() {
		row.Deadline = sql.NullInt64{Int64: rec.Deadline.Unix(), Valid: true}
	}
	return row
}

// ListJobs returns all jobs for the user, most recently saved first
func (s *SQLite) ListJobs(ctx context.Context, userID string) ([]store.JobRecord, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM jobs WHERE user_id = ? ORDER BY date_saved DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	res := make([]store.JobRecord, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.toRecord())
	}
	return res, nil
}

// InsertJob stores a new job for the user and returns the canonical record
// with server-assigned id and date saved
func (s *SQLite) InsertJob(ctx context.Context, userID string, rec store.JobRecord) (store.JobRecord, error) {
	rec.ID = uuid.New().String()
	rec.UserID = userID
	rec.DateSaved = s.nowFn().UTC().Truncate(time.Second)

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO jobs (id, user_id, title, company, location, salary, job_url, description, notes,
			status, excitement, date_saved, date_applied, deadline)
		VALUES (:id, :user_id, :title, :company, :location, :salary, :job_url, :description, :notes,
			:status, :excitement, :date_saved, :date_applied, :deadline)`, toJobRow(rec))
	if err != nil {
		return store.JobRecord{}, fmt.Errorf("failed to insert job: %w", err)
	}
	return rec, nil
}

// UpdateJob overwrites every mutable field of the row, full replace semantics
func (s *SQLite) UpdateJob(ctx context.Context, id string, rec store.JobRecord) error {
	rec.ID = id
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE jobs SET title = :title, company = :company, location = :location, salary = :salary,
			job_url = :job_url, description = :description, notes = :notes, status = :status,
			excitement = :excitement, date_applied = :date_applied, deadline = :deadline
		WHERE id = :id`, toJobRow(rec))
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteJob removes the row by id
func (s *SQLite) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// noteRow is the sqlite representation of a note record
type noteRow struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	JobID     sql.NullString `db:"job_id"`
	Text      string         `db:"text"`
	CreatedAt int64          `db:"created_at"`
	UpdatedAt int64          `db:"updated_at"`
}

func (r noteRow) toRecord() store.NoteRecord {
	rec := store.NoteRecord{
		ID:        r.ID,
		UserID:    r.UserID,
		Text:      r.Text,
		CreatedAt: time.Unix(r.CreatedAt, 0).UTC(),
		UpdatedAt: time.Unix(r.UpdatedAt, 0).UTC(),
	}
	if r.JobID.Valid {
		rec.JobID = r.JobID.String
	}
	return rec
}

func toNoteRow(rec store.NoteRecord) noteRow {
	row := noteRow{
		ID:        rec.ID,
		UserID:    rec.UserID,
		Text:      rec.Text,
		CreatedAt: rec.CreatedAt.Unix(),
		UpdatedAt: rec.UpdatedAt.Unix(),
	}
	if rec.JobID != "" {
		row.JobID = sql.NullString{String: rec.JobID, Valid: true}
	}
	return row
}

// ListNotes returns all notes for the user, most recently created first
func (s *SQLite) ListNotes(ctx context.Context, userID string) ([]store.NoteRecord, error) {
	var rows []noteRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM notes WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}

	res := make([]store.NoteRecord, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.toRecord())
	}
	return res, nil
}

// InsertNote stores a new note and returns the canonical record
func (s *SQLite) InsertNote(ctx context.Context, userID string, note store.NoteRecord) (store.NoteRecord, error) {
	note.ID = uuid.New().String()
	note.UserID = userID
	note.CreatedAt = s.nowFn().UTC().Truncate(time.Second)
	note.UpdatedAt = note.CreatedAt

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO notes (id, user_id, job_id, text, created_at, updated_at)
		VALUES (:id, :user_id, :job_id, :text, :created_at, :updated_at)`, toNoteRow(note))
	if err != nil {
		return store.NoteRecord{}, fmt.Errorf("failed to insert note: %w", err)
	}
	return note, nil
}

// UpdateNote overwrites the note's mutable fields
func (s *SQLite) UpdateNote(ctx context.Context, id string, note store.NoteRecord) error {
	note.ID = id
	note.UpdatedAt = s.nowFn().UTC().Truncate(time.Second)

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE notes SET job_id = :job_id, text = :text, updated_at = :updated_at WHERE id = :id`, toNoteRow(note))
	if err != nil {
		return fmt.Errorf("failed to update note %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteNote removes the note by id
func (s *SQLite) DeleteNote(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete note %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	return nil
}

// Close closes the database connection
func (s *SQLite) Close() error {
	return s.db.Close()
}
