package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"fitpass/internal/auth"
	"fitpass/internal/qrtoken"
	"fitpass/internal/queue"
	"fitpass/internal/replay"
	"fitpass/internal/session"
)

// Reason classifies why a check-in attempt was rejected.
type Reason string

const (
	ReasonTokenExpired     Reason = "token_expired"
	ReasonTokenMalformed   Reason = "token_malformed"
	ReasonSessionNotFound  Reason = "session_not_found"
	ReasonSessionNotActive Reason = "session_not_active"
	ReasonNotEnrolled      Reason = "not_enrolled"
	ReasonAlreadyUsedNonce Reason = "nonce_already_used"
	ReasonNotAuthenticated Reason = "not_authenticated"
	ReasonWrongRole        Reason = "wrong_role"
)

// Rejection is a terminal validation failure of one check-in attempt. It is a
// normal outcome returned to the caller, never logged as a server fault.
type Rejection struct {
	Reason  Reason
	Message string
}

func (r *Rejection) Error() string { return r.Message }

// HTTPStatus maps the rejection to its response code.
func (r *Rejection) HTTPStatus() int {
	switch r.Reason {
	case ReasonSessionNotFound:
		return http.StatusNotFound
	case ReasonNotEnrolled, ReasonWrongRole:
		return http.StatusForbidden
	case ReasonNotAuthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

func reject(reason Reason, msg string) *Rejection {
	return &Rejection{Reason: reason, Message: msg}
}

// Narrow views of the collaborating stores, satisfied by the concrete repos.
type (
	// Ledger is the attendance upsert store.
	Ledger interface {
		UpsertCheckIn(ctx context.Context, sessionID, studentID, status string) (Record, error)
	}
	// Sessions looks up session state.
	Sessions interface {
		GetByID(ctx context.Context, id string) (session.Session, error)
	}
	// Enrollments answers membership questions.
	Enrollments interface {
		IsEnrolled(ctx context.Context, studentID, classID string) (bool, error)
	}
	// Publisher fans an event out to live observers of a session.
	Publisher interface {
		Publish(sessionID string, payload any)
	}
)

// Event is the real-time payload delivered to session observers.
type Event struct {
	StudentID   string    `json:"studentId"`
	StudentName string    `json:"studentName"`
	SessionID   string    `json:"sessionId"`
	Status      string    `json:"status"`
	CheckedInAt time.Time `json:"checkedInAt"`
	Type        string    `json:"type"`
}

// Result is returned to the student on a successful check-in.
type Result struct {
	SessionID   string    `json:"sessionId"`
	StudentID   string    `json:"studentId"`
	StudentName string    `json:"studentName"`
	ClassName   string    `json:"class"`
	Status      string    `json:"status"`
	CheckedInAt time.Time `json:"checkedInAt"`
}

// Service drives the QR check-in protocol: decode the token, gate on session
// state, role and enrollment, consume the nonce, write the ledger and notify
// observers.
type Service struct {
	codec       *qrtoken.Codec
	guard       replay.Guard
	sessions    Sessions
	enrollments Enrollments
	ledger      Ledger
	notifier    Publisher
	jobs        queue.Queue
	nonceTTL    time.Duration
}

// NewService wires the orchestrator. notifier and jobs may be nil; both side
// channels are best-effort.
func NewService(codec *qrtoken.Codec, guard replay.Guard, sessions Sessions,
	enrollments Enrollments, ledger Ledger, notifier Publisher, jobs queue.Queue,
	nonceTTL time.Duration) *Service {
	if nonceTTL <= 0 {
		nonceTTL = replay.DefaultTTL
	}
	return &Service{
		codec:       codec,
		guard:       guard,
		sessions:    sessions,
		enrollments: enrollments,
		ledger:      ledger,
		notifier:    notifier,
		jobs:        jobs,
		nonceTTL:    nonceTTL,
	}
}

// CheckIn runs one check-in attempt for the authenticated caller. Validation
// failures come back as *Rejection; any other error is a storage fault.
//
// Order matters: the cheap, side-effect-free checks run first, and the nonce
// is consumed only after every business check has passed, immediately before
// the ledger write. A rejection before that point leaves the token intact so
// the student can retry.
func (s *Service) CheckIn(ctx context.Context, caller auth.Claims, token string) (Result, error) {
	payload, err := s.codec.Verify(token)
	if err != nil {
		if errors.Is(err, qrtoken.ErrExpired) {
			return Result{}, reject(ReasonTokenExpired, "qr code has expired")
		}
		return Result{}, reject(ReasonTokenMalformed, "invalid qr code")
	}

	// Cheap replay pre-check before touching persistent storage. The
	// authoritative consume happens below.
	if payload.Nonce != "" {
		used, err := s.guard.IsUsed(ctx, payload.Nonce)
		if err != nil {
			return Result{}, fmt.Errorf("replay guard: %w", err)
		}
		if used {
			return Result{}, reject(ReasonAlreadyUsedNonce, "qr code already used")
		}
	}

	sess, err := s.sessions.GetByID(ctx, payload.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Result{}, reject(ReasonSessionNotFound, "session not found")
		}
		return Result{}, fmt.Errorf("load session: %w", err)
	}
	if !session.CheckInEligible(sess) {
		return Result{}, reject(ReasonSessionNotActive, "session is not active")
	}

	if caller.UserID == "" {
		return Result{}, reject(ReasonNotAuthenticated, "not authenticated")
	}
	if !caller.IsStudent() {
		return Result{}, reject(ReasonWrongRole, "only students can check in")
	}

	enrolled, err := s.enrollments.IsEnrolled(ctx, caller.UserID, sess.ClassID)
	if err != nil {
		return Result{}, fmt.Errorf("check enrollment: %w", err)
	}
	if !enrolled {
		return Result{}, reject(ReasonNotEnrolled, "you are not enrolled in this class")
	}

	// All business checks passed; now consume the nonce atomically. Exactly
	// one of N concurrent attempts with the same nonce gets past this point.
	if payload.Nonce != "" {
		fresh, err := s.guard.Consume(ctx, payload.Nonce, s.nonceTTL)
		if err != nil {
			return Result{}, fmt.Errorf("replay guard: %w", err)
		}
		if !fresh {
			return Result{}, reject(ReasonAlreadyUsedNonce, "qr code already used")
		}
	}

	rec, err := s.ledger.UpsertCheckIn(ctx, sess.ID, caller.UserID, StatusPresent)
	if err != nil {
		// The nonce is burned at this point; tokens rotate fast enough that
		// the student scans a fresh one on retry.
		return Result{}, fmt.Errorf("record check-in: %w", err)
	}

	if s.notifier != nil {
		s.notifier.Publish(sess.ID, Event{
			StudentID:   rec.StudentID,
			StudentName: rec.StudentName,
			SessionID:   sess.ID,
			Status:      rec.Status,
			CheckedInAt: rec.CheckedInAt,
			Type:        "qr_checkin",
		})
	}
	if s.jobs != nil {
		if err := s.jobs.Publish(ctx, queue.CheckInMessage(sess.ClassID)); err != nil {
			log.Printf("rollup enqueue failed for class %s: %v", sess.ClassID, err)
		}
	}

	return Result{
		SessionID:   sess.ID,
		StudentID:   rec.StudentID,
		StudentName: rec.StudentName,
		ClassName:   sess.ClassName,
		Status:      rec.Status,
		CheckedInAt: rec.CheckedInAt,
	}, nil
}
