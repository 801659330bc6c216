package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Attendance statuses. PRESENT is what a QR check-in records; the rest exist
// for administrative corrections.
const (
	StatusPresent = "PRESENT"
	StatusLate    = "LATE"
	StatusAbsent  = "ABSENT"
	StatusExcused = "EXCUSED"
)

// ValidStatus reports whether s is a known attendance status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent, StatusExcused:
		return true
	}
	return false
}

// ErrRecordNotFound is returned by the correction path when no attendance row
// exists for the target. Check-in never returns it: check-in upserts.
var ErrRecordNotFound = errors.New("attendance record not found")

// Record is a student's presence at one session.
type Record struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	StudentID    string    `json:"studentId"`
	StudentName  string    `json:"studentName"`
	StudentEmail string    `json:"studentEmail"`
	ClassID      string    `json:"classId"`
	ClassName    string    `json:"className"`
	Status       string    `json:"status"`
	CheckedInAt  time.Time `json:"checkedInAt"`
}

const recordColumns = `
	a.id, a.session_id, a.student_id, u.full_name, u.email,
	s.class_id, c.name, a.status, a.checked_in_at`

const recordJoin = `
	FROM attendance a
	JOIN users u ON u.id = a.student_id
	JOIN sessions s ON s.id = a.session_id
	JOIN classes c ON c.id = s.class_id`

// Repository is the attendance ledger: the idempotent store mapping
// (session, student) to a status and check-in timestamp.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertCheckIn records a check-in. The unique (session_id, student_id)
// constraint plus ON CONFLICT makes the write atomic: concurrent first-time
// check-ins for the same pair cannot create two rows, and a re-scan refreshes
// status and timestamp instead of duplicating.
func (r *Repository) UpsertCheckIn(ctx context.Context, sessionID, studentID, status string) (Record, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance (id, session_id, student_id, status, checked_in_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (session_id, student_id) DO UPDATE SET
			status = EXCLUDED.status,
			checked_in_at = NOW()
		RETURNING id
	`, uuid.NewString(), sessionID, studentID, status).Scan(&id)
	if err != nil {
		return Record{}, err
	}
	return r.getByID(ctx, id)
}

func (r *Repository) getByID(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+recordColumns+recordJoin+` WHERE a.id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	return rec, err
}

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.StudentName, &rec.StudentEmail,
		&rec.ClassID, &rec.ClassName, &rec.Status, &rec.CheckedInAt)
	return rec, err
}

func (r *Repository) list(ctx context.Context, where string, arg any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT`+recordColumns+recordJoin+` WHERE `+where+` ORDER BY a.checked_in_at DESC`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// ListBySession returns a session's attendance, newest check-in first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	return r.list(ctx, `a.session_id = $1`, sessionID)
}

// ListByClass returns attendance across all of a class's sessions.
func (r *Repository) ListByClass(ctx context.Context, classID string) ([]Record, error) {
	return r.list(ctx, `s.class_id = $1`, classID)
}

// ListByStudent returns a student's attendance history.
func (r *Repository) ListByStudent(ctx context.Context, studentID string) ([]Record, error) {
	return r.list(ctx, `a.student_id = $1`, studentID)
}

// Correct overwrites the status of an existing record identified by its
// (session, student) pair. Unlike check-in it fails when no record exists.
func (r *Repository) Correct(ctx context.Context, sessionID, studentID, status string) (Record, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		UPDATE attendance SET status = $3
		WHERE session_id = $1 AND student_id = $2
		RETURNING id
	`, sessionID, studentID, status).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return r.getByID(ctx, id)
}

// CorrectByID overwrites the status of an existing record by row id.
func (r *Repository) CorrectByID(ctx context.Context, id, status string) (Record, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE attendance SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return Record{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Record{}, ErrRecordNotFound
	}
	return r.getByID(ctx, id)
}
