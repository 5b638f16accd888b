package models

import (
	"time"

	"github.com/google/uuid"
)

// Poll represents a multiple-choice question scoped to a session.
type Poll struct {
	ID          uuid.UUID    `json:"id"`
	SessionCode string       `json:"session_code"`
	Question    string       `json:"question"`
	Options     []PollOption `json:"options"`
	IsActive    bool         `json:"is_active"`
	CreatedAt   time.Time    `json:"created_at"`
	ClosedAt    *time.Time   `json:"closed_at,omitempty"`
}

// PollOption is one choice within a Poll; Position is the option index.
type PollOption struct {
	Position int    `json:"position"`
	Text     string `json:"text"`
	Votes    int    `json:"votes"`
}

// Counts returns the tally in option order.
func (p *Poll) Counts() []int {
	out := make([]int, len(p.Options))
	for i, o := range p.Options {
		out[i] = o.Votes
	}
	return out
}

// OptionTexts returns the option labels in order.
func (p *Poll) OptionTexts() []string {
	out := make([]string, len(p.Options))
	for i, o := range p.Options {
		out[i] = o.Text
	}
	return out
}

// Clone returns a deep copy so callers can't alias engine state.
func (p *Poll) Clone() *Poll {
	if p == nil {
		return nil
	}
	c := *p
	c.Options = append([]PollOption(nil), p.Options...)
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}
