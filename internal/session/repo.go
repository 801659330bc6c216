package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

const sessionColumns = `
	s.id, s.class_id, s.starts_at, s.ends_at, s.status, s.created_at,
	c.name, c.teacher_id, u.full_name`

const sessionJoin = `
	FROM sessions s
	JOIN classes c ON c.id = s.class_id
	JOIN users u ON u.id = c.teacher_id`

// Repository persists sessions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.ClassID, &s.StartsAt, &s.EndsAt, &s.Status, &s.CreatedAt,
		&s.ClassName, &s.TeacherID, &s.TeacherName)
	return s, err
}

// GetByID returns a session with its class and teacher joined.
func (r *Repository) GetByID(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+sessionColumns+sessionJoin+` WHERE s.id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return s, err
}

// Create schedules a new session for a class.
func (r *Repository) Create(ctx context.Context, classID string, startsAt, endsAt time.Time) (Session, error) {
	if !startsAt.Before(endsAt) {
		return Session{}, ErrInvalidTimes
	}
	if startsAt.Before(time.Now()) {
		return Session{}, ErrPastStart
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM classes WHERE id = $1)`, classID).Scan(&exists); err != nil {
		return Session{}, err
	}
	if !exists {
		return Session{}, ErrClassNotFound
	}

	id := uuid.NewString()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, class_id, starts_at, ends_at, status)
		VALUES ($1, $2, $3, $4, $5)
	`, id, classID, startsAt, endsAt, StatusScheduled); err != nil {
		return Session{}, err
	}
	return r.GetByID(ctx, id)
}

// List returns sessions, optionally filtered by class, ordered by start time.
func (r *Repository) List(ctx context.Context, classID string) ([]Session, error) {
	query := `SELECT` + sessionColumns + sessionJoin
	args := []any{}
	if classID != "" {
		query += ` WHERE s.class_id = $1`
		args = append(args, classID)
	}
	query += ` ORDER BY s.starts_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// Start transitions a session to ACTIVE. Only the teacher owning the class or
// an admin may start it. Starting an already-active session is a no-op.
func (r *Repository) Start(ctx context.Context, id, requesterID string, isAdmin bool) (Session, error) {
	s, err := r.GetByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !isAdmin && s.TeacherID != requesterID {
		return Session{}, ErrForbidden
	}
	if terminal(s.Status) {
		return Session{}, ErrTerminalStatus
	}
	if s.Status == StatusActive {
		return s, nil
	}
	if _, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET status = $2 WHERE id = $1`, id, StatusActive); err != nil {
		return Session{}, err
	}
	s.Status = StatusActive
	return s, nil
}

// UpdateStatus sets an explicit lifecycle status. Transitions out of a
// terminal state are rejected.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status) (Session, error) {
	if !ValidStatus(status) {
		return Session{}, ErrInvalidStatus
	}
	s, err := r.GetByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if terminal(s.Status) && status != s.Status {
		return Session{}, ErrTerminalStatus
	}
	if _, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET status = $2 WHERE id = $1`, id, status); err != nil {
		return Session{}, err
	}
	s.Status = status
	return s, nil
}

// Delete removes a session that has no attendance records.
func (r *Repository) Delete(ctx context.Context, id string) error {
	var attended int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attendance WHERE session_id = $1`, id).Scan(&attended)
	if err != nil {
		return err
	}
	if attended > 0 {
		return ErrHasAttendance
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
