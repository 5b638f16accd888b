package questions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/pkg/apperror"
	"github.com/aura-classroom/engagement/pkg/database"
)

// Repository handles question and upvote persistence.
type Repository struct {
	pool database.DB
}

// NewRepository creates a questions repository.
func NewRepository(pool database.DB) *Repository {
	return &Repository{pool: pool}
}

const questionColumns = `id, session_code, author_id, author_name, is_anonymous, text,
	upvote_count, is_answered, is_deleted, created_at, updated_at`

func scanQuestion(row interface{ Scan(...interface{}) error }, q *models.Question) error {
	return row.Scan(&q.ID, &q.SessionCode, &q.AuthorID, &q.AuthorName, &q.IsAnonymous, &q.Text,
		&q.UpvoteCount, &q.IsAnswered, &q.IsDeleted, &q.CreatedAt, &q.UpdatedAt)
}

// CreateQuestion inserts a new question with zero upvotes.
func (r *Repository) CreateQuestion(ctx context.Context, q *models.Question) error {
	const query = `INSERT INTO questions (session_code, author_id, author_name, is_anonymous, text)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, upvote_count, is_answered, is_deleted, created_at, updated_at`
	return r.pool.QueryRow(ctx, query, q.SessionCode, q.AuthorID, q.AuthorName, q.IsAnonymous, q.Text).
		Scan(&q.ID, &q.UpvoteCount, &q.IsAnswered, &q.IsDeleted, &q.CreatedAt, &q.UpdatedAt)
}

// GetQuestion returns a question by ID, including soft-deleted ones.
func (r *Repository) GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE id = $1`
	var q models.Question
	err := scanQuestion(r.pool.QueryRow(ctx, query, id), &q)
	if database.IsNoRows(err) {
		return nil, apperror.NotFound("question not found")
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// UpdateQuestionText replaces the text of a live question.
func (r *Repository) UpdateQuestionText(ctx context.Context, id uuid.UUID, text string, at time.Time) error {
	const query = `UPDATE questions SET text = $2, updated_at = $3 WHERE id = $1 AND NOT is_deleted`
	tag, err := r.pool.Exec(ctx, query, id, text, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("question not found")
	}
	return nil
}

// SoftDeleteQuestion sets the tombstone; the row is retained.
func (r *Repository) SoftDeleteQuestion(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE questions SET is_deleted = TRUE, updated_at = NOW() WHERE id = $1 AND NOT is_deleted`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("question not found")
	}
	return nil
}

// MarkAnswered sets is_answered; it is never cleared.
func (r *Repository) MarkAnswered(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE questions SET is_answered = TRUE, updated_at = NOW() WHERE id = $1 AND NOT is_deleted`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("question not found")
	}
	return nil
}

// ToggleUpvote inserts the upvote row; if the (question, participant) key is
// already taken the row is deleted instead. The primary key on question_upvotes
// is the serialization point and the count moves in the same transaction.
func (r *Repository) ToggleUpvote(ctx context.Context, questionID uuid.UUID, participantID string) (bool, int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var deleted bool
	err = tx.QueryRow(ctx, `SELECT is_deleted FROM questions WHERE id = $1 FOR UPDATE`, questionID).Scan(&deleted)
	if database.IsNoRows(err) || (err == nil && deleted) {
		return false, 0, apperror.NotFound("question not found")
	}
	if err != nil {
		return false, 0, err
	}

	const insert = `INSERT INTO question_upvotes (question_id, participant_id) VALUES ($1, $2)
		ON CONFLICT (question_id, participant_id) DO NOTHING`
	tag, err := tx.Exec(ctx, insert, questionID, participantID)
	if err != nil {
		return false, 0, err
	}
	added := tag.RowsAffected() == 1

	if !added {
		const remove = `DELETE FROM question_upvotes WHERE question_id = $1 AND participant_id = $2`
		if _, err := tx.Exec(ctx, remove, questionID, participantID); err != nil {
			return false, 0, err
		}
	}

	update := `UPDATE questions SET upvote_count = upvote_count + 1 WHERE id = $1 RETURNING upvote_count`
	if !added {
		update = `UPDATE questions SET upvote_count = GREATEST(upvote_count - 1, 0) WHERE id = $1 RETURNING upvote_count`
	}
	var count int
	if err := tx.QueryRow(ctx, update, questionID).Scan(&count); err != nil {
		return false, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, 0, err
	}
	return added, count, nil
}

// ListQuestions returns the session's questions by upvotes desc, then newest first.
func (r *Repository) ListQuestions(ctx context.Context, sessionCode string, includeDeleted bool) ([]models.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions
		WHERE session_code = $1 AND ($2 OR NOT is_deleted)
		ORDER BY upvote_count DESC, created_at DESC`
	rows, err := r.pool.Query(ctx, query, sessionCode, includeDeleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Question
	for rows.Next() {
		var q models.Question
		if err := scanQuestion(rows, &q); err != nil {
			return nil, err
		}
		list = append(list, q)
	}
	return list, rows.Err()
}
