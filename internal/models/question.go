package models

import (
	"time"

	"github.com/google/uuid"
)

// AnonymousLabel replaces the author name of anonymous questions.
const AnonymousLabel = "Anonymous"

// Question represents a Q&A submission in a session.
type Question struct {
	ID          uuid.UUID `json:"id"`
	SessionCode string    `json:"session_code"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	IsAnonymous bool      `json:"is_anonymous"`
	Text        string    `json:"text"`
	UpvoteCount int       `json:"upvote_count"`
	IsAnswered  bool      `json:"is_answered"`
	IsDeleted   bool      `json:"is_deleted"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Upvote is one participant's vote on one question; unique per pair.
type Upvote struct {
	QuestionID    uuid.UUID `json:"question_id"`
	ParticipantID string    `json:"participant_id"`
	CreatedAt     time.Time `json:"created_at"`
}
