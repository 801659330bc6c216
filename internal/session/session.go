// Package session is the source of truth for a class session's lifecycle and
// gates whether check-in is permitted.
package session

import (
	"errors"
	"time"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusActive    Status = "ACTIVE"
	StatusFinished  Status = "FINISHED"
	StatusCancelled Status = "CANCELLED"
)

// ValidStatus reports whether s is part of the lifecycle vocabulary.
func ValidStatus(s Status) bool {
	switch s {
	case StatusScheduled, StatusActive, StatusFinished, StatusCancelled:
		return true
	}
	return false
}

// terminal reports whether no further transitions are allowed from s.
func terminal(s Status) bool {
	return s == StatusFinished || s == StatusCancelled
}

var (
	ErrNotFound       = errors.New("session not found")
	ErrClassNotFound  = errors.New("class not found")
	ErrForbidden      = errors.New("not authorized for this session")
	ErrInvalidStatus  = errors.New("invalid session status")
	ErrInvalidTimes   = errors.New("start time must be before end time")
	ErrPastStart      = errors.New("start time must be in the future")
	ErrHasAttendance  = errors.New("cannot delete session with attendance records")
	ErrTerminalStatus = errors.New("session is in a terminal state")
)

// Session is one scheduled occurrence of a class, joined with the owning
// class for display and authorization.
type Session struct {
	ID          string    `json:"id"`
	ClassID     string    `json:"classId"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt"`
	Status      Status    `json:"status"`
	ClassName   string    `json:"className"`
	TeacherID   string    `json:"teacherId"`
	TeacherName string    `json:"teacherName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CheckInEligible reports whether students may check in to s. Only an ACTIVE
// session accepts check-ins: starting the session is what mints the QR, so a
// SCHEDULED session never has a live token.
func CheckInEligible(s Session) bool {
	return s.Status == StatusActive
}
