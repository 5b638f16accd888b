package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the in-memory lifecycle state of a live session.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// Session represents one live classroom instance.
type Session struct {
	ID              uuid.UUID  `json:"id"`
	Code            string     `json:"code"`
	Title           string     `json:"title"`
	TeacherID       string     `json:"teacher_id"`
	IsActive        bool       `json:"is_active"`
	MaxParticipants int        `json:"max_participants"`
	StartAt         *time.Time `json:"start_at,omitempty"`
	EndAt           *time.Time `json:"end_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Status derives the lifecycle state from the persisted record.
func (s *Session) Status() SessionStatus {
	switch {
	case !s.IsActive:
		return SessionClosed
	case s.StartAt != nil:
		return SessionActive
	default:
		return SessionOpen
	}
}
