// Package rollup maintains cheap per-class attendance aggregates for the
// admin dashboard, refreshed asynchronously by the worker.
package rollup

import (
	"context"
	"database/sql"
	"log"
	"time"

	"fitpass/internal/queue"
)

// Rollup is one class's aggregate.
type Rollup struct {
	ClassID      string    `json:"classId"`
	PresentCount int64     `json:"presentCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Repository persists rollups in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Refresh recomputes a class's present count from the ledger. Recomputing
// instead of incrementing keeps the rollup correct under idempotent re-scans
// and administrative corrections.
func (r *Repository) Refresh(ctx context.Context, classID string) (Rollup, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_rollups (class_id, present_count, updated_at)
		SELECT $1, COUNT(*), NOW()
		FROM attendance a
		JOIN sessions s ON s.id = a.session_id
		WHERE s.class_id = $1 AND a.status = 'PRESENT'
		ON CONFLICT (class_id) DO UPDATE SET
			present_count = EXCLUDED.present_count,
			updated_at = NOW()
		RETURNING class_id, present_count, updated_at
	`, classID)
	var ru Rollup
	err := row.Scan(&ru.ClassID, &ru.PresentCount, &ru.UpdatedAt)
	return ru, err
}

// Get returns a class's rollup, zero-valued when none exists yet.
func (r *Repository) Get(ctx context.Context, classID string) (Rollup, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT class_id, present_count, updated_at
		FROM attendance_rollups WHERE class_id = $1
	`, classID)
	var ru Rollup
	if err := row.Scan(&ru.ClassID, &ru.PresentCount, &ru.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Rollup{ClassID: classID}, nil
		}
		return Rollup{}, err
	}
	return ru, nil
}

// Run consumes check-in messages and refreshes the affected class rollups
// until the context is cancelled.
func Run(ctx context.Context, q queue.Queue, repo *Repository) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		if msg.Type != "checkin" {
			continue
		}
		classID := string(msg.Body)
		if classID == "" {
			continue
		}
		if _, err := repo.Refresh(ctx, classID); err != nil {
			log.Printf("rollup refresh failed for class %s: %v", classID, err)
		}
	}
	return nil
}
