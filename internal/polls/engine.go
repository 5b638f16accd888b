package polls

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/pkg/apperror"
	"github.com/aura-classroom/engagement/pkg/metrics"
)

// Room events published by the poll engine.
const (
	EventCreated = "poll:created"
	EventUpdate  = "poll:update"
	EventClosed  = "poll:closed"
)

const (
	MinOptions        = 2
	DefaultMaxOptions = 6
	NoVote            = -1
)

// Store is the slice of the directory store the poll engine needs.
type Store interface {
	CreatePoll(ctx context.Context, p *models.Poll) error
	GetActivePoll(ctx context.Context, sessionCode string) (*models.Poll, error)
	ListVotes(ctx context.Context, pollID uuid.UUID) (map[string]int, error)
	// RecordVote stores participantID's choice and moves one vote from option
	// `from` (NoVote if none) to option `to` in a single transaction.
	RecordVote(ctx context.Context, pollID uuid.UUID, participantID string, from, to int) error
	ClosePoll(ctx context.Context, pollID uuid.UUID, closedAt time.Time) error
	ListPolls(ctx context.Context, sessionCode string) ([]models.Poll, error)
}

// Publisher fans room events out.
type Publisher interface {
	Publish(code, event string, payload interface{})
}

// CreatedPayload is the body of poll:created.
type CreatedPayload struct {
	PollID   uuid.UUID `json:"pollId"`
	Question string    `json:"question"`
	Options  []string  `json:"options"`
}

// UpdatePayload is the body of poll:update.
type UpdatePayload struct {
	PollID uuid.UUID `json:"pollId"`
	Counts []int     `json:"counts"`
}

// ClosedPayload is the body of poll:closed.
type ClosedPayload struct {
	PollID      uuid.UUID `json:"pollId"`
	FinalCounts []int     `json:"finalCounts"`
}

// Tally is a read snapshot of a poll and its current counts.
type Tally struct {
	PollID    uuid.UUID  `json:"pollId"`
	Question  string     `json:"question"`
	Options   []string   `json:"options"`
	Counts    []int      `json:"counts"`
	Voters    int        `json:"voters"`
	IsActive  bool       `json:"isActive"`
	CreatedAt time.Time  `json:"createdAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

// Config tunes the engine.
type Config struct {
	MaxOptions   int
	StoreTimeout time.Duration
}

type activePoll struct {
	poll    *models.Poll
	counts  []int
	choices map[string]int // participantID -> option index
}

// slot is the per-session active-poll slot. Its mutex is the counter-update
// critical section for every poll of the session.
type slot struct {
	mu     sync.Mutex
	loaded bool
	active *activePoll
}

// Engine enforces at most one active poll per session and owns vote tallying.
type Engine struct {
	store     Store
	publisher Publisher
	cfg       Config
	slots     sync.Map // session code -> *slot
	now       func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewEngine creates a poll engine.
func NewEngine(store Store, publisher Publisher, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if cfg.MaxOptions < MinOptions {
		cfg.MaxOptions = DefaultMaxOptions
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

// CreatePoll opens a new poll for the session. Fails with Conflict while
// another poll is active.
func (e *Engine) CreatePoll(ctx context.Context, sessionCode, question string, options []string) (*models.Poll, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperror.InvalidArgument("question is required")
	}
	opts, err := e.normalizeOptions(options)
	if err != nil {
		return nil, err
	}

	s := e.slot(sessionCode)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := e.hydrate(ctx, sessionCode, s); err != nil {
		return nil, err
	}
	if s.active != nil {
		return nil, apperror.Conflict("a poll is already active for this session")
	}

	p := &models.Poll{
		SessionCode: sessionCode,
		Question:    question,
		IsActive:    true,
		Options:     make([]models.PollOption, len(opts)),
	}
	for i, text := range opts {
		p.Options[i] = models.PollOption{Position: i, Text: text}
	}
	if err := e.withStore(ctx, "create_poll", func(ctx context.Context) error {
		return e.store.CreatePoll(ctx, p)
	}); err != nil {
		return nil, err
	}

	s.active = &activePoll{poll: p.Clone(), counts: make([]int, len(opts)), choices: make(map[string]int)}
	e.publisher.Publish(sessionCode, EventCreated, CreatedPayload{PollID: p.ID, Question: p.Question, Options: p.OptionTexts()})
	e.logger.Info("poll created", zap.String("session_code", sessionCode), zap.String("poll_id", p.ID.String()))
	return p.Clone(), nil
}

// Vote records participantID's choice. A repeat vote replaces the previous one.
func (e *Engine) Vote(ctx context.Context, sessionCode string, pollID uuid.UUID, participantID string, optionIndex int) error {
	s := e.slot(sessionCode)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := e.hydrate(ctx, sessionCode, s); err != nil {
		return err
	}
	ap := s.active
	if ap == nil || ap.poll.ID != pollID {
		return apperror.NotFound("poll is not the active poll of this session")
	}
	if optionIndex < 0 || optionIndex >= len(ap.counts) {
		return apperror.InvalidArgument("option index out of range")
	}

	prev, voted := ap.choices[participantID]
	if !voted {
		prev = NoVote
	}
	if prev != optionIndex {
		// Persist first; memory only reflects what the store recorded.
		if err := e.withStore(ctx, "record_vote", func(ctx context.Context) error {
			return e.store.RecordVote(ctx, pollID, participantID, prev, optionIndex)
		}); err != nil {
			return err
		}
		if prev != NoVote && ap.counts[prev] > 0 {
			ap.counts[prev]--
		}
		ap.counts[optionIndex]++
		ap.choices[participantID] = optionIndex
		e.metrics.PollVote()
	}

	e.publisher.Publish(sessionCode, EventUpdate, UpdatePayload{PollID: pollID, Counts: copyInts(ap.counts)})
	return nil
}

// ClosePoll closes the active poll and frees the slot for a new one.
func (e *Engine) ClosePoll(ctx context.Context, sessionCode string, pollID uuid.UUID) error {
	s := e.slot(sessionCode)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := e.hydrate(ctx, sessionCode, s); err != nil {
		return err
	}
	if s.active == nil || s.active.poll.ID != pollID {
		return apperror.NotFound("poll is not the active poll of this session")
	}
	return e.closeLocked(ctx, sessionCode, s)
}

// ForceClose closes whatever poll is active for the session, if any.
func (e *Engine) ForceClose(ctx context.Context, sessionCode string) error {
	s := e.slot(sessionCode)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := e.hydrate(ctx, sessionCode, s); err != nil {
		return err
	}
	if s.active == nil {
		return nil
	}
	return e.closeLocked(ctx, sessionCode, s)
}

func (e *Engine) closeLocked(ctx context.Context, sessionCode string, s *slot) error {
	ap := s.active
	closedAt := e.now().UTC()
	if err := e.withStore(ctx, "close_poll", func(ctx context.Context) error {
		return e.store.ClosePoll(ctx, ap.poll.ID, closedAt)
	}); err != nil {
		return err
	}
	s.active = nil
	e.publisher.Publish(sessionCode, EventClosed, ClosedPayload{PollID: ap.poll.ID, FinalCounts: copyInts(ap.counts)})
	e.logger.Info("poll closed", zap.String("session_code", sessionCode), zap.String("poll_id", ap.poll.ID.String()), zap.Ints("final_counts", ap.counts))
	return nil
}

// ActivePoll returns the active poll's tally, or NotFound if none is active.
func (e *Engine) ActivePoll(ctx context.Context, sessionCode string) (*Tally, error) {
	s := e.slot(sessionCode)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := e.hydrate(ctx, sessionCode, s); err != nil {
		return nil, err
	}
	if s.active == nil {
		return nil, apperror.NotFound("no active poll")
	}
	ap := s.active
	return &Tally{
		PollID:    ap.poll.ID,
		Question:  ap.poll.Question,
		Options:   ap.poll.OptionTexts(),
		Counts:    copyInts(ap.counts),
		Voters:    len(ap.choices),
		IsActive:  true,
		CreatedAt: ap.poll.CreatedAt,
	}, nil
}

// ListPolls returns every poll of the session, newest first, with stored counts.
func (e *Engine) ListPolls(ctx context.Context, sessionCode string) ([]Tally, error) {
	var list []models.Poll
	if err := e.withStore(ctx, "list_polls", func(ctx context.Context) error {
		var err error
		list, err = e.store.ListPolls(ctx, sessionCode)
		return err
	}); err != nil {
		return nil, err
	}
	out := make([]Tally, 0, len(list))
	for i := range list {
		p := &list[i]
		out = append(out, Tally{
			PollID:    p.ID,
			Question:  p.Question,
			Options:   p.OptionTexts(),
			Counts:    p.Counts(),
			IsActive:  p.IsActive,
			CreatedAt: p.CreatedAt,
			ClosedAt:  p.ClosedAt,
		})
	}
	return out, nil
}

// Forget drops the in-memory slot of a session (after it is closed).
func (e *Engine) Forget(sessionCode string) {
	e.slots.Delete(sessionCode)
}

func (e *Engine) slot(code string) *slot {
	v, _ := e.slots.LoadOrStore(code, &slot{})
	return v.(*slot)
}

// hydrate loads the active poll of the session from the store on first use, so
// an engine restarted mid-poll continues from the durable tallies.
func (e *Engine) hydrate(ctx context.Context, sessionCode string, s *slot) error {
	if s.loaded {
		return nil
	}
	var p *models.Poll
	err := e.withStore(ctx, "get_active_poll", func(ctx context.Context) error {
		var err error
		p, err = e.store.GetActivePoll(ctx, sessionCode)
		return err
	})
	if apperror.Is(err, apperror.ErrNotFound) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return err
	}
	var choices map[string]int
	if err := e.withStore(ctx, "list_votes", func(ctx context.Context) error {
		var err error
		choices, err = e.store.ListVotes(ctx, p.ID)
		return err
	}); err != nil {
		return err
	}
	if choices == nil {
		choices = make(map[string]int)
	}
	s.active = &activePoll{poll: p.Clone(), counts: p.Counts(), choices: choices}
	s.loaded = true
	return nil
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

func (e *Engine) normalizeOptions(options []string) ([]string, error) {
	if len(options) < MinOptions || len(options) > e.cfg.MaxOptions {
		return nil, apperror.InvalidArgument(fmt.Sprintf("a poll needs between %d and %d options", MinOptions, e.cfg.MaxOptions))
	}
	out := make([]string, 0, len(options))
	for _, o := range options {
		o = strings.TrimSpace(o)
		if o == "" {
			return nil, apperror.InvalidArgument("option text is required")
		}
		for _, seen := range out {
			if strings.EqualFold(seen, o) {
				return nil, apperror.InvalidArgument("options must be distinct")
			}
		}
		out = append(out, o)
	}
	return out, nil
}

func copyInts(in []int) []int {
	return append([]int(nil), in...)
}
