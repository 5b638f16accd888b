package polls

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/pkg/apperror"
	"github.com/aura-classroom/engagement/pkg/database"
)

// Repository handles poll persistence.
type Repository struct {
	pool database.DB
}

// NewRepository creates a polls repository.
func NewRepository(pool database.DB) *Repository {
	return &Repository{pool: pool}
}

// CreatePoll inserts the poll and its options with zeroed counts. The partial
// unique index on active polls turns a concurrent second create into Conflict.
func (r *Repository) CreatePoll(ctx context.Context, p *models.Poll) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const insertPoll = `INSERT INTO polls (session_code, question, is_active)
		VALUES ($1, $2, TRUE)
		RETURNING id, created_at`
	if err := tx.QueryRow(ctx, insertPoll, p.SessionCode, p.Question).Scan(&p.ID, &p.CreatedAt); err != nil {
		if database.IsUniqueViolation(err, "polls_one_active_per_session") {
			return apperror.Conflict("a poll is already active for this session")
		}
		return err
	}

	const insertOption = `INSERT INTO poll_options (poll_id, position, text, votes) VALUES ($1, $2, $3, 0)`
	batch := &pgx.Batch{}
	for i := range p.Options {
		p.Options[i].Position = i
		p.Options[i].Votes = 0
		batch.Queue(insertOption, p.ID, i, p.Options[i].Text)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	p.IsActive = true
	return tx.Commit(ctx)
}

// GetActivePoll returns the session's active poll with stored counts.
func (r *Repository) GetActivePoll(ctx context.Context, sessionCode string) (*models.Poll, error) {
	const query = `SELECT id, session_code, question, is_active, created_at, closed_at
		FROM polls WHERE session_code = $1 AND is_active`
	var p models.Poll
	err := r.pool.QueryRow(ctx, query, sessionCode).
		Scan(&p.ID, &p.SessionCode, &p.Question, &p.IsActive, &p.CreatedAt, &p.ClosedAt)
	if database.IsNoRows(err) {
		return nil, apperror.NotFound("no active poll")
	}
	if err != nil {
		return nil, err
	}
	if p.Options, err = r.options(ctx, p.ID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) options(ctx context.Context, pollID uuid.UUID) ([]models.PollOption, error) {
	const query = `SELECT position, text, votes FROM poll_options WHERE poll_id = $1 ORDER BY position`
	rows, err := r.pool.Query(ctx, query, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.PollOption
	for rows.Next() {
		var o models.PollOption
		if err := rows.Scan(&o.Position, &o.Text, &o.Votes); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListVotes returns participant -> option position for a poll.
func (r *Repository) ListVotes(ctx context.Context, pollID uuid.UUID) (map[string]int, error) {
	const query = `SELECT participant_id, position FROM poll_votes WHERE poll_id = $1`
	rows, err := r.pool.Query(ctx, query, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var pid string
		var pos int
		if err := rows.Scan(&pid, &pos); err != nil {
			return nil, err
		}
		out[pid] = pos
	}
	return out, rows.Err()
}

// RecordVote upserts the participant's choice and moves one count from `from`
// to `to` in one transaction. Decrements are clamped at zero.
func (r *Repository) RecordVote(ctx context.Context, pollID uuid.UUID, participantID string, from, to int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var active bool
	if err := tx.QueryRow(ctx, `SELECT is_active FROM polls WHERE id = $1 FOR UPDATE`, pollID).Scan(&active); err != nil {
		if database.IsNoRows(err) {
			return apperror.NotFound("poll not found")
		}
		return err
	}
	if !active {
		return apperror.NotFound("poll not found")
	}

	const upsertVote = `INSERT INTO poll_votes (poll_id, participant_id, position) VALUES ($1, $2, $3)
		ON CONFLICT (poll_id, participant_id) DO UPDATE SET position = EXCLUDED.position, voted_at = NOW()`
	if _, err := tx.Exec(ctx, upsertVote, pollID, participantID, to); err != nil {
		return err
	}
	if from != NoVote {
		const dec = `UPDATE poll_options SET votes = GREATEST(votes - 1, 0) WHERE poll_id = $1 AND position = $2`
		if _, err := tx.Exec(ctx, dec, pollID, from); err != nil {
			return err
		}
	}
	const inc = `UPDATE poll_options SET votes = votes + 1 WHERE poll_id = $1 AND position = $2`
	tag, err := tx.Exec(ctx, inc, pollID, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.InvalidArgument("option index out of range")
	}
	return tx.Commit(ctx)
}

// ClosePoll marks a poll inactive.
func (r *Repository) ClosePoll(ctx context.Context, pollID uuid.UUID, closedAt time.Time) error {
	const query = `UPDATE polls SET is_active = FALSE, closed_at = $2 WHERE id = $1 AND is_active`
	tag, err := r.pool.Exec(ctx, query, pollID, closedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("poll not found")
	}
	return nil
}

// ListPolls returns every poll of the session, newest first.
func (r *Repository) ListPolls(ctx context.Context, sessionCode string) ([]models.Poll, error) {
	const query = `SELECT p.id, p.session_code, p.question, p.is_active, p.created_at, p.closed_at,
			o.position, o.text, o.votes
		FROM polls p
		JOIN poll_options o ON o.poll_id = p.id
		WHERE p.session_code = $1
		ORDER BY p.created_at DESC, p.id, o.position`
	rows, err := r.pool.Query(ctx, query, sessionCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Poll
	for rows.Next() {
		var p models.Poll
		var o models.PollOption
		if err := rows.Scan(&p.ID, &p.SessionCode, &p.Question, &p.IsActive, &p.CreatedAt, &p.ClosedAt,
			&o.Position, &o.Text, &o.Votes); err != nil {
			return nil, err
		}
		if n := len(out); n > 0 && out[n-1].ID == p.ID {
			out[n-1].Options = append(out[n-1].Options, o)
			continue
		}
		p.Options = []models.PollOption{o}
		out = append(out, p)
	}
	return out, rows.Err()
}
