package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant is one attendee (or the teacher) of a session. A rejoin reactivates
// the same row instead of inserting a second one.
type Participant struct {
	ID          uuid.UUID  `json:"id"`
	SessionCode string     `json:"session_code"`
	Identity    string     `json:"identity"`
	DisplayName string     `json:"display_name"`
	Role        Role       `json:"role"`
	JoinedAt    time.Time  `json:"joined_at"`
	LeftAt      *time.Time `json:"left_at,omitempty"`
	IsActive    bool       `json:"is_active"`
}
