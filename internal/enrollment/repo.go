// Package enrollment answers whether a student may attend a class's sessions.
// Enrollment creation and deletion live elsewhere; this is read-only.
package enrollment

import (
	"context"
	"database/sql"
	"time"
)

// Enrollment is a standing student-to-class membership.
type Enrollment struct {
	StudentID   string    `json:"studentId"`
	StudentName string    `json:"studentName"`
	ClassID     string    `json:"classId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Repository reads enrollments from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// IsEnrolled reports whether the (student, class) pair has an enrollment row.
func (r *Repository) IsEnrolled(ctx context.Context, studentID, classID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM enrollments WHERE student_id = $1 AND class_id = $2
		)
	`, studentID, classID).Scan(&exists)
	return exists, err
}

// ListByClass returns the roster for a class, oldest enrollment first.
func (r *Repository) ListByClass(ctx context.Context, classID string) ([]Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.student_id, u.full_name, e.class_id, e.created_at
		FROM enrollments e
		JOIN users u ON u.id = e.student_id
		WHERE e.class_id = $1
		ORDER BY e.created_at ASC
	`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Enrollment
	for rows.Next() {
		var e Enrollment
		if err := rows.Scan(&e.StudentID, &e.StudentName, &e.ClassID, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
