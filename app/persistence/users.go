package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is an account record backing the identity layer
type User struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"-"`
}

type userRow struct {
	ID           string `db:"id"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
	CreatedAt    int64  `db:"created_at"`
}

func (r userRow) toUser() User {
	return User{ID: r.ID, Email: r.Email, PasswordHash: r.PasswordHash, CreatedAt: time.Unix(r.CreatedAt, 0).UTC()}
}

// CreateUser registers a new account with a pre-computed bcrypt hash
func (s *SQLite) CreateUser(ctx context.Context, email, passwordHash string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return User{}, fmt.Errorf("email is required")
	}

	row := userRow{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    s.nowFn().Unix(),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES (:id, :email, :password_hash, :created_at)`, row)
	if err != nil {
		return User{}, fmt.Errorf("failed to create user %s: %w", email, err)
	}
	return row.toUser(), nil
}

// GetUserByEmail returns the account for the email, ErrNotFound if absent
func (s *SQLite) GetUserByEmail(ctx context.Context, email string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM users WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to query user %s: %w", email, err)
	}
	return row.toUser(), nil
}

// ListUsers returns all registered accounts, used by the reminder sweep
func (s *SQLite) ListUsers(ctx context.Context) ([]User, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM users ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	res := make([]User, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.toUser())
	}
	return res, nil
}
