// Package sessions persists classroom sessions and their participant records.
package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/pkg/apperror"
	"github.com/aura-classroom/engagement/pkg/database"
)

// Repository handles session and participant persistence.
type Repository struct {
	pool database.DB
}

// NewRepository creates a sessions repository.
func NewRepository(pool database.DB) *Repository {
	return &Repository{pool: pool}
}

// CreateSession inserts a session; its code must not have been issued before.
func (r *Repository) CreateSession(ctx context.Context, s *models.Session) error {
	const q = `INSERT INTO sessions (code, title, teacher_id, is_active, max_participants)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, q, s.Code, s.Title, s.TeacherID, s.IsActive, s.MaxParticipants).
		Scan(&s.ID, &s.CreatedAt)
	if database.IsUniqueViolation(err, "") {
		return apperror.Conflict("session code already issued")
	}
	return err
}

// GetSessionByCode returns a session by its join code.
func (r *Repository) GetSessionByCode(ctx context.Context, code string) (*models.Session, error) {
	const q = `SELECT id, code, title, teacher_id, is_active, max_participants, start_at, end_at, created_at
		FROM sessions WHERE code = $1`
	var s models.Session
	err := r.pool.QueryRow(ctx, q, code).
		Scan(&s.ID, &s.Code, &s.Title, &s.TeacherID, &s.IsActive, &s.MaxParticipants, &s.StartAt, &s.EndAt, &s.CreatedAt)
	if database.IsNoRows(err) {
		return nil, apperror.NotFound("session not found")
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// MarkSessionStarted records the first join.
func (r *Repository) MarkSessionStarted(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE sessions SET start_at = COALESCE(start_at, $2) WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("session not found")
	}
	return nil
}

// CloseSession flips is_active to false; a second close reports SessionClosed.
func (r *Repository) CloseSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE sessions SET is_active = FALSE, end_at = $2 WHERE id = $1 AND is_active`
	tag, err := r.pool.Exec(ctx, q, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.Clone(apperror.ErrSessionClosed, "")
	}
	return nil
}

// JoinParticipant creates the identity's participant record or reactivates it.
func (r *Repository) JoinParticipant(ctx context.Context, p *models.Participant) error {
	const q = `INSERT INTO participants (session_code, identity, display_name, role, joined_at, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (session_code, identity) DO UPDATE
			SET display_name = EXCLUDED.display_name, role = EXCLUDED.role,
				joined_at = EXCLUDED.joined_at, left_at = NULL, is_active = TRUE
		RETURNING id, is_active`
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	p.LeftAt = nil
	return r.pool.QueryRow(ctx, q, p.SessionCode, p.Identity, p.DisplayName, p.Role, p.JoinedAt).
		Scan(&p.ID, &p.IsActive)
}

// LeaveParticipant soft-closes the identity's record.
func (r *Repository) LeaveParticipant(ctx context.Context, code, identity string, at time.Time) error {
	const q = `UPDATE participants SET is_active = FALSE, left_at = $3
		WHERE session_code = $1 AND identity = $2 AND is_active`
	_, err := r.pool.Exec(ctx, q, code, identity, at)
	return err
}

// CloseParticipants soft-closes every active participant of a session.
func (r *Repository) CloseParticipants(ctx context.Context, code string, at time.Time) error {
	const q = `UPDATE participants SET is_active = FALSE, left_at = $2 WHERE session_code = $1 AND is_active`
	_, err := r.pool.Exec(ctx, q, code, at)
	return err
}
