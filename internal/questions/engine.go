package questions

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/pkg/apperror"
	"github.com/aura-classroom/engagement/pkg/keymutex"
	"github.com/aura-classroom/engagement/pkg/metrics"
)

// Room events published by the Q&A engine.
const (
	EventCreated  = "qna:question:created"
	EventUpdated  = "qna:question:updated"
	EventDeleted  = "qna:question:deleted"
	EventUpvoted  = "qna:question:upvoted"
	EventAnswered = "qna:question:answered"
)

// Upvote toggle outcomes.
const (
	UpvoteAdded   = "added"
	UpvoteRemoved = "removed"
)

const DefaultMaxTextLength = 1000

// Store is the slice of the directory store the Q&A engine needs.
type Store interface {
	CreateQuestion(ctx context.Context, q *models.Question) error
	GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error)
	UpdateQuestionText(ctx context.Context, id uuid.UUID, text string, at time.Time) error
	SoftDeleteQuestion(ctx context.Context, id uuid.UUID) error
	MarkAnswered(ctx context.Context, id uuid.UUID) error
	// ToggleUpvote inserts the (question, participant) upvote or removes it if
	// present, adjusting upvote_count in the same transaction.
	ToggleUpvote(ctx context.Context, questionID uuid.UUID, participantID string) (added bool, count int, err error)
	ListQuestions(ctx context.Context, sessionCode string, includeDeleted bool) ([]models.Question, error)
}

// Publisher fans room events out, optionally shaped per viewer role.
type Publisher interface {
	Publish(code, event string, payload interface{})
	PublishShaped(code, event string, shape func(viewer models.Role) interface{})
}

// DeletedPayload is the body of qna:question:deleted.
type DeletedPayload struct {
	QuestionID uuid.UUID `json:"questionId"`
}

// UpvotedPayload is the body of qna:question:upvoted.
type UpvotedPayload struct {
	QuestionID  uuid.UUID `json:"questionId"`
	Delta       int       `json:"delta"`
	UpvoteCount int       `json:"upvoteCount"`
}

// UpvoteResult is returned to the caller of ToggleUpvote.
type UpvoteResult struct {
	QuestionID  uuid.UUID `json:"questionId"`
	State       string    `json:"state"`
	UpvoteCount int       `json:"upvoteCount"`
}

// Config tunes the engine.
type Config struct {
	MaxTextLength int
	StoreTimeout  time.Duration
}

// Engine manages the question lifecycle of every session. Mutations of one
// session are serialized; sessions never share a lock.
type Engine struct {
	store     Store
	publisher Publisher
	cfg       Config
	locks     keymutex.KeyMutex
	now       func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewEngine creates a Q&A engine.
func NewEngine(store Store, publisher Publisher, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = DefaultMaxTextLength
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
		metrics:   m,
	}
}

// CreateQuestion persists a new question and announces it to the room.
func (e *Engine) CreateQuestion(ctx context.Context, sessionCode string, author models.Identity, text string, anonymous bool) (*models.Question, error) {
	text, err := e.validText(text)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(sessionCode)
	defer unlock()

	q := &models.Question{
		SessionCode: sessionCode,
		AuthorID:    author.ParticipantID,
		AuthorName:  author.Name,
		IsAnonymous: anonymous,
		Text:        text,
	}
	if err := e.withStore(ctx, "create_question", func(ctx context.Context) error {
		return e.store.CreateQuestion(ctx, q)
	}); err != nil {
		return nil, err
	}
	e.publishView(sessionCode, EventCreated, *q)
	return q, nil
}

// EditQuestion replaces the text of an unanswered question. Only its author may edit.
func (e *Engine) EditQuestion(ctx context.Context, sessionCode string, id uuid.UUID, editor models.Identity, text string) (*models.Question, error) {
	text, err := e.validText(text)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(sessionCode)
	defer unlock()

	q, err := e.live(ctx, sessionCode, id)
	if err != nil {
		return nil, err
	}
	if q.AuthorID != editor.ParticipantID {
		return nil, apperror.PermissionDenied("only the author may edit a question")
	}
	if q.IsAnswered {
		return nil, apperror.Conflict("answered questions cannot be edited")
	}

	at := e.now().UTC()
	if err := e.withStore(ctx, "update_question", func(ctx context.Context) error {
		return e.store.UpdateQuestionText(ctx, id, text, at)
	}); err != nil {
		return nil, err
	}
	q.Text = text
	q.UpdatedAt = at
	e.publishView(sessionCode, EventUpdated, *q)
	return q, nil
}

// DeleteQuestion soft-deletes a question. Staff may delete any question; an
// author may delete their own until it is answered.
func (e *Engine) DeleteQuestion(ctx context.Context, sessionCode string, id uuid.UUID, actor models.Identity) error {
	unlock := e.locks.Lock(sessionCode)
	defer unlock()

	q, err := e.live(ctx, sessionCode, id)
	if err != nil {
		return err
	}
	if !actor.Role.IsStaff() {
		if q.AuthorID != actor.ParticipantID {
			return apperror.PermissionDenied("only the author or staff may delete a question")
		}
		if q.IsAnswered {
			return apperror.PermissionDenied("answered questions can only be deleted by staff")
		}
	}

	if err := e.withStore(ctx, "delete_question", func(ctx context.Context) error {
		return e.store.SoftDeleteQuestion(ctx, id)
	}); err != nil {
		return err
	}
	e.publisher.Publish(sessionCode, EventDeleted, DeletedPayload{QuestionID: id})
	return nil
}

// ToggleUpvote adds the voter's upvote if absent and removes it if present.
// Staff may not upvote.
func (e *Engine) ToggleUpvote(ctx context.Context, sessionCode string, id uuid.UUID, voter models.Identity) (*UpvoteResult, error) {
	if voter.Role.IsStaff() {
		return nil, apperror.PermissionDenied("teachers and admins cannot upvote questions")
	}

	unlock := e.locks.Lock(sessionCode)
	defer unlock()

	if _, err := e.live(ctx, sessionCode, id); err != nil {
		return nil, err
	}

	var added bool
	var count int
	if err := e.withStore(ctx, "toggle_upvote", func(ctx context.Context) error {
		var err error
		added, count, err = e.store.ToggleUpvote(ctx, id, voter.ParticipantID)
		return err
	}); err != nil {
		return nil, err
	}

	res := &UpvoteResult{QuestionID: id, State: UpvoteRemoved, UpvoteCount: count}
	delta := -1
	if added {
		res.State = UpvoteAdded
		delta = 1
	}
	e.metrics.UpvoteToggled(res.State)
	e.publisher.Publish(sessionCode, EventUpvoted, UpvotedPayload{QuestionID: id, Delta: delta, UpvoteCount: count})
	return res, nil
}

// MarkAnswered flags a question as answered. Marking an answered question again
// is a no-op.
func (e *Engine) MarkAnswered(ctx context.Context, sessionCode string, id uuid.UUID, actor models.Identity) (*models.Question, error) {
	if !actor.Role.IsStaff() {
		return nil, apperror.PermissionDenied("only teachers and admins may mark questions answered")
	}

	unlock := e.locks.Lock(sessionCode)
	defer unlock()

	q, err := e.live(ctx, sessionCode, id)
	if err != nil {
		return nil, err
	}
	if q.IsAnswered {
		return q, nil
	}
	if err := e.withStore(ctx, "mark_answered", func(ctx context.Context) error {
		return e.store.MarkAnswered(ctx, id)
	}); err != nil {
		return nil, err
	}
	q.IsAnswered = true
	e.publishView(sessionCode, EventAnswered, *q)
	return q, nil
}

// ListQuestions returns the session's questions ranked by upvotes, newest first on ties.
func (e *Engine) ListQuestions(ctx context.Context, sessionCode string, includeDeleted bool) ([]models.Question, error) {
	var list []models.Question
	if err := e.withStore(ctx, "list_questions", func(ctx context.Context) error {
		var err error
		list, err = e.store.ListQuestions(ctx, sessionCode, includeDeleted)
		return err
	}); err != nil {
		return nil, err
	}
	return list, nil
}

// Forget drops the session's lock after it is closed.
func (e *Engine) Forget(sessionCode string) {
	e.locks.Forget(sessionCode)
}

// live loads a question of the session that is not soft-deleted.
func (e *Engine) live(ctx context.Context, sessionCode string, id uuid.UUID) (*models.Question, error) {
	var q *models.Question
	if err := e.withStore(ctx, "get_question", func(ctx context.Context) error {
		var err error
		q, err = e.store.GetQuestion(ctx, id)
		return err
	}); err != nil {
		return nil, err
	}
	if q.SessionCode != sessionCode || q.IsDeleted {
		return nil, apperror.NotFound("question not found")
	}
	return q, nil
}

func (e *Engine) validText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperror.InvalidArgument("question text is required")
	}
	if utf8.RuneCountInString(text) > e.cfg.MaxTextLength {
		return "", apperror.InvalidArgument(fmt.Sprintf("question text exceeds %d characters", e.cfg.MaxTextLength))
	}
	return text, nil
}

func (e *Engine) publishView(sessionCode, event string, q models.Question) {
	e.publisher.PublishShaped(sessionCode, event, func(viewer models.Role) interface{} {
		return ViewFor(q, viewer)
	})
}

func (e *Engine) withStore(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	err := apperror.FromStore(fn(ctx))
	if err != nil && apperror.Is(err, apperror.ErrUnavailable) {
		e.metrics.StoreError(op)
		e.logger.Warn("directory store failure", zap.String("op", op), zap.Error(err))
	}
	return err
}
