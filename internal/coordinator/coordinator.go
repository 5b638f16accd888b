// Package coordinator is the façade of the engagement subsystem. It owns the
// per-session lifecycle (open, active, closed) and serializes every mutation of
// one session code through a single critical section before handing it to the
// poll and Q&A engines and the broadcast router.
package coordinator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/internal/polls"
	"github.com/aura-classroom/engagement/internal/questions"
	"github.com/aura-classroom/engagement/internal/realtime"
	"github.com/aura-classroom/engagement/pkg/apperror"
	"github.com/aura-classroom/engagement/pkg/metrics"
	"github.com/aura-classroom/engagement/pkg/queue"
)

// Room events owned by the coordinator.
const (
	EventParticipantsUpdate = "participants:update"
	EventBroadcastMessage   = "broadcast:message"
	EventSessionEnded       = "session:ended"
	EventSessionState       = "session:state"
)

const broadcastFrom = "teacher"

// SessionStore is the slice of the directory store the coordinator needs.
type SessionStore interface {
	GetSessionByCode(ctx context.Context, code string) (*models.Session, error)
	MarkSessionStarted(ctx context.Context, id uuid.UUID, at time.Time) error
	CloseSession(ctx context.Context, id uuid.UUID, at time.Time) error
	JoinParticipant(ctx context.Context, p *models.Participant) error
	LeaveParticipant(ctx context.Context, code, identity string, at time.Time) error
	CloseParticipants(ctx context.Context, code string, at time.Time) error
}

// Archiver queues the post-session archive job.
type Archiver interface {
	EnqueueSessionArchive(ctx context.Context, payload queue.SessionArchivePayload) error
}

// CountPayload is the body of participants:update.
type CountPayload struct {
	Count int `json:"count"`
}

// BroadcastPayload is the body of broadcast:message.
type BroadcastPayload struct {
	From    string    `json:"from"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// State is the snapshot a joining client receives and REST readers can fetch.
type State struct {
	Code       string               `json:"code"`
	Title      string               `json:"title"`
	Status     models.SessionStatus `json:"status"`
	Count      int                  `json:"count"`
	ActivePoll *polls.Tally         `json:"activePoll,omitempty"`
	Questions  []questions.View     `json:"questions"`
}

// Config tunes the coordinator.
type Config struct {
	StoreTimeout time.Duration
}

type sessionState struct {
	mu      sync.Mutex
	session *models.Session
}

// Coordinator routes client operations to the engines under a per-session lock.
type Coordinator struct {
	sessions  SessionStore
	polls     *polls.Engine
	questions *questions.Engine
	router    *realtime.Router
	registry  *realtime.Registry
	archiver  Archiver
	cfg       Config
	states    sync.Map // session code -> *sessionState
	now       func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// New creates a coordinator. archiver may be nil.
func New(sessions SessionStore, pollEngine *polls.Engine, questionEngine *questions.Engine, router *realtime.Router, archiver Archiver, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Coordinator {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		sessions:  sessions,
		polls:     pollEngine,
		questions: questionEngine,
		router:    router,
		registry:  router.Registry(),
		archiver:  archiver,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
		metrics:   m,
	}
}

// Join registers h under the session's room, evicting any previous handle of the
// same participant, and sends the joiner a state snapshot.
func (c *Coordinator) Join(ctx context.Context, code string, identity models.Identity, h realtime.Handle) (*State, error) {
	st, unlock, err := c.acquire(ctx, code)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess := st.session
	if !sess.IsActive {
		return nil, apperror.Clone(apperror.ErrSessionClosed, "")
	}
	if _, present := c.registry.Handle(code, identity.ParticipantID); !present &&
		sess.MaxParticipants > 0 && c.registry.Count(code) >= sess.MaxParticipants {
		return nil, apperror.Conflict("session is full")
	}

	now := c.now().UTC()
	p := &models.Participant{
		SessionCode: code,
		Identity:    identity.ParticipantID,
		DisplayName: identity.Name,
		Role:        identity.Role,
		JoinedAt:    now,
	}
	if err := c.withStore(ctx, "join_participant", func(ctx context.Context) error {
		return c.sessions.JoinParticipant(ctx, p)
	}); err != nil {
		return nil, err
	}
	if sess.StartAt == nil {
		if err := c.withStore(ctx, "mark_session_started", func(ctx context.Context) error {
			return c.sessions.MarkSessionStarted(ctx, sess.ID, now)
		}); err != nil {
			return nil, err
		}
		sess.StartAt = &now
	}

	if evicted := c.registry.Join(code, identity.ParticipantID, h); evicted != nil {
		evicted.Close()
	}
	c.router.Publish(code, EventParticipantsUpdate, CountPayload{Count: c.registry.Count(code)})

	state, err := c.snapshotLocked(ctx, sess, h.Role())
	if err != nil {
		// The join itself is durable; the client can still pull state over REST.
		c.logger.Warn("build session state", zap.String("session_code", code), zap.Error(err))
		return &State{Code: code, Title: sess.Title, Status: sess.Status(), Count: c.registry.Count(code)}, nil
	}
	c.router.SendTo(h, EventSessionState, "", state)
	c.logger.Info("participant joined",
		zap.String("session_code", code),
		zap.String("participant_id", identity.ParticipantID),
		zap.String("role", string(identity.Role)))
	return state, nil
}

// Leave removes the participant from the room. Leaving when not a member is a no-op.
func (c *Coordinator) Leave(ctx context.Context, code string, identity models.Identity) error {
	st := c.state(code)
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, present := c.registry.Handle(code, identity.ParticipantID); !present {
		return nil
	}
	if err := c.withStore(ctx, "leave_participant", func(ctx context.Context) error {
		return c.sessions.LeaveParticipant(ctx, code, identity.ParticipantID, c.now().UTC())
	}); err != nil {
		return err
	}
	c.registry.Leave(code, identity.ParticipantID)
	c.router.Publish(code, EventParticipantsUpdate, CountPayload{Count: c.registry.Count(code)})
	return nil
}

// Disconnect is the implicit leave of a dropped connection. Only h itself is
// removed, so a newer handle of the same participant survives.
func (c *Coordinator) Disconnect(ctx context.Context, code string, identity models.Identity, h realtime.Handle) {
	st := c.state(code)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !c.registry.LeaveHandle(code, identity.ParticipantID, h) {
		return
	}
	if err := c.withStore(ctx, "leave_participant", func(ctx context.Context) error {
		return c.sessions.LeaveParticipant(ctx, code, identity.ParticipantID, c.now().UTC())
	}); err != nil {
		c.logger.Warn("record disconnect", zap.String("session_code", code), zap.String("participant_id", identity.ParticipantID), zap.Error(err))
	}
	c.router.Publish(code, EventParticipantsUpdate, CountPayload{Count: c.registry.Count(code)})
}

// Broadcast relays a teacher announcement to the room.
func (c *Coordinator) Broadcast(ctx context.Context, code string, actor models.Identity, message string) (*BroadcastPayload, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperror.InvalidArgument("message is required")
	}
	st, unlock, err := c.acquireOpen(ctx, code)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if !canModerate(st.session, actor) {
		return nil, apperror.PermissionDenied("only the session teacher may broadcast")
	}
	payload := BroadcastPayload{From: broadcastFrom, Message: message, Time: c.now().UTC()}
	c.router.Publish(code, EventBroadcastMessage, payload)
	return &payload, nil
}

// CreatePoll opens a poll on behalf of the session teacher.
func (c *Coordinator) CreatePoll(ctx context.Context, code string, actor models.Identity, question string, options []string) (*models.Poll, error) {
	st, unlock, err := c.acquireOpen(ctx, code)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if !canModerate(st.session, actor) {
		return nil, apperror.PermissionDenied("only the session teacher may create polls")
	}
	return c.polls.CreatePoll(ctx, code, question, options)
}

// Vote records the actor's choice on the active poll.
func (c *Coordinator) Vote(ctx context.Context, code string, actor models.Identity, pollID uuid.UUID, optionIndex int) error {
	_, unlock, err := c.acquireOpen(ctx, code)
	if err != nil {
		return err
	}
	defer unlock()
	return c.polls.Vote(ctx, code, pollID, actor.ParticipantID, optionIndex)
}

// ClosePoll closes the active poll on behalf of the session teacher.
func (c *Coordinator) ClosePoll(ctx context.Context, code string, actor models.Identity, pollID uuid.UUID) error {
	st, unlock, err := c.acquireOpen(ctx, code)
	if err != nil {
		return err
	}
	defer unlock()
	if !canModerate(st.session, actor) {
		return apperror.PermissionDenied("only the session teacher may close polls")
	}
	return c.polls.ClosePoll(ctx, code, pollID)
}

// ActivePoll returns the active poll's tally.
func (c *Coordinator) ActivePoll(ctx context.Context, code string) (*polls.Tally, error) {
	if _, err := c.Session(ctx, code); err != nil {
		return nil, err
	}
	return c.polls.ActivePoll(ctx, code)
}

// ListPolls returns the session's poll history.
func (c *Coordinator) ListPolls(ctx context.Context, code string) ([]polls.Tally, error) {
	if _, err := c.Session(ctx, code); err != nil {
		return nil, err
	}
	return c.polls.ListPolls(ctx, code)
}

// AskQuestion submits a question to the session.
func (c *Coordinator) AskQuestion(ctx context.Context, code string, actor models.Identity, text string, anonymous bool) (*models.Question, error) {
	_, unlock, err := c.acquireOpen(ctx, code)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return c.questions.CreateQuestion(ctx, code, actor, text, anonymous)
}

// EditQuestion replaces the text of the actor's own question.
func (c *Coordinator) EditQuestion(ctx context.Context, code string, actor models.Identity, id uuid.UUID, text string) (*models.Question, error) {
	_, unlock, err := c.acquireOpen(ctx, code)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return c.questions.EditQuestion(ctx, code, id, actor, text)
}

// DeleteQuestion soft-deletes a question. Staff who do not run the session are
// held to the author rules.
func (c *Coordinator) DeleteQuestion(ctx context.Context, code string, actor models.Identity, id uuid.UUID) error {
	st, unlock, err := c.acquireOpen(ctx, code)
	if err != nil {
		return err
	}
	defer unlock()
	if actor.Role.IsStaff() && !canModerate(st.session, actor) {
		actor.Role = models.RoleStudent
	}
	return c.questions.DeleteQuestion(ctx, code, id, actor)
}

// ToggleUpvote adds or removes the actor's upvote.
func (c *Coordinator) ToggleUpvote(ctx context.Context, code string, actor models.Identity, id uuid.UUID) (*questions.UpvoteResult, error) {
	_, unlock, err := c.acquireOpen(ctx, code)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return c.questions.ToggleUpvote(ctx, code, id, actor)
}

// MarkAnswered flags a question as answered.
func (c *Coordinator) MarkAnswered(ctx context.Context, code string, actor models.Identity, id uuid.UUID) (*models.Question, error) {
	st, unlock, err := c.acquireOpen(ctx, code)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if !canModerate(st.session, actor) {
		return nil, apperror.PermissionDenied("only the session teacher may mark questions answered")
	}
	return c.questions.MarkAnswered(ctx, code, id, actor)
}

// ListQuestions returns the ranked questions shaped for the viewer. Deleted
// questions are only included for staff.
func (c *Coordinator) ListQuestions(ctx context.Context, code string, viewer models.Identity, includeDeleted bool) ([]questions.View, error) {
	if _, err := c.Session(ctx, code); err != nil {
		return nil, err
	}
	list, err := c.questions.ListQuestions(ctx, code, includeDeleted && viewer.Role.IsStaff())
	if err != nil {
		return nil, err
	}
	return questions.ViewsFor(list, viewer.Role), nil
}

// Presence returns the number of participants connected to the session.
func (c *Coordinator) Presence(ctx context.Context, code string) (int, error) {
	if _, err := c.Session(ctx, code); err != nil {
		return 0, err
	}
	return c.registry.Count(code), nil
}

// Snapshot returns the session state as the viewer would receive it on join.
func (c *Coordinator) Snapshot(ctx context.Context, code string, viewer models.Identity) (*State, error) {
	st, unlock, err := c.acquire(ctx, code)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return c.snapshotLocked(ctx, st.session, viewer.Role)
}

// Session returns a copy of the session record.
func (c *Coordinator) Session(ctx context.Context, code string) (*models.Session, error) {
	st, unlock, err := c.acquire(ctx, code)
	if err != nil {
		return nil, err
	}
	defer unlock()
	sess := *st.session
	return &sess, nil
}

// EndSession closes the session: the active poll is force-closed, session:ended
// is delivered, then every handle is evicted from the room.
func (c *Coordinator) EndSession(ctx context.Context, code string, actor models.Identity) error {
	st, unlock, err := c.acquireOpen(ctx, code)
	if err != nil {
		return err
	}
	defer unlock()
	sess := st.session
	if !canModerate(sess, actor) {
		return apperror.PermissionDenied("only the session teacher may end the session")
	}

	if err := c.polls.ForceClose(ctx, code); err != nil {
		return err
	}
	endedAt := c.now().UTC()
	if err := c.withStore(ctx, "close_session", func(ctx context.Context) error {
		return c.sessions.CloseSession(ctx, sess.ID, endedAt)
	}); err != nil {
		return err
	}
	sess.IsActive = false
	sess.EndAt = &endedAt

	if err := c.withStore(ctx, "close_participants", func(ctx context.Context) error {
		return c.sessions.CloseParticipants(ctx, code, endedAt)
	}); err != nil {
		c.logger.Warn("close participant records", zap.String("session_code", code), zap.Error(err))
	}

	c.router.Publish(code, EventSessionEnded, struct{}{})
	for _, h := range c.registry.EvictAll(code) {
		h.Close()
	}

	c.polls.Forget(code)
	c.questions.Forget(code)

	if c.archiver != nil {
		payload := queue.SessionArchivePayload{SessionCode: code, SessionID: sess.ID, EndedAt: endedAt}
		if err := c.withStore(ctx, "enqueue_archive", func(ctx context.Context) error {
			return c.archiver.EnqueueSessionArchive(ctx, payload)
		}); err != nil {
			c.logger.Warn("enqueue session archive", zap.String("session_code", code), zap.Error(err))
		}
	}
	c.logger.Info("session ended", zap.String("session_code", code), zap.String("ended_by", actor.ParticipantID))
	return nil
}

// IsMember reports whether h is the handle registered for its participant.
func (c *Coordinator) IsMember(code, participantID string, h realtime.Handle) bool {
	current, ok := c.registry.Handle(code, participantID)
	return ok && current == h
}

func (c *Coordinator) snapshotLocked(ctx context.Context, sess *models.Session, viewer models.Role) (*State, error) {
	state := &State{
		Code:   sess.Code,
		Title:  sess.Title,
		Status: sess.Status(),
		Count:  c.registry.Count(sess.Code),
	}
	tally, err := c.polls.ActivePoll(ctx, sess.Code)
	switch {
	case err == nil:
		state.ActivePoll = tally
	case !apperror.Is(err, apperror.ErrNotFound):
		return nil, err
	}
	list, err := c.questions.ListQuestions(ctx, sess.Code, false)
	if err != nil {
		return nil, err
	}
	state.Questions = questions.ViewsFor(list, viewer)
	return state, nil
}

func (c *Coordinator) state(code string) *sessionState {
	v, _ := c.states.LoadOrStore(code, &sessionState{})
	return v.(*sessionState)
}

// acquire locks the session and loads its record on first use. Entries for
// unknown codes are dropped again so lookups of random codes leave no state.
func (c *Coordinator) acquire(ctx context.Context, code string) (*sessionState, func(), error) {
	for {
		st := c.state(code)
		st.mu.Lock()
		if cur, ok := c.states.Load(code); !ok || cur != st {
			// dropped by a failed lookup while we waited
			st.mu.Unlock()
			continue
		}
		if st.session == nil {
			var sess *models.Session
			if err := c.withStore(ctx, "get_session", func(ctx context.Context) error {
				var err error
				sess, err = c.sessions.GetSessionByCode(ctx, code)
				return err
			}); err != nil {
				if apperror.Is(err, apperror.ErrNotFound) {
					c.states.CompareAndDelete(code, st)
				}
				st.mu.Unlock()
				return nil, nil, err
			}
			st.session = sess
		}
		return st, st.mu.Unlock, nil
	}
}

// acquireOpen is acquire for mutations: a closed session fails with SessionClosed.
func (c *Coordinator) acquireOpen(ctx context.Context, code string) (*sessionState, func(), error) {
	st, unlock, err := c.acquire(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if !st.session.IsActive {
		unlock()
		return nil, nil, apperror.Clone(apperror.ErrSessionClosed, "")
	}
	return st, unlock, nil
}

func (c *Coordinator) withStore(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()
	err := apperror.FromStore(fn(ctx))
	if err != nil && apperror.Is(err, apperror.ErrUnavailable) {
		c.metrics.StoreError(op)
		c.logger.Warn("directory store failure", zap.String("op", op), zap.Error(err))
	}
	return err
}

// canModerate reports whether actor runs the session: its teacher, or any admin.
func canModerate(sess *models.Session, actor models.Identity) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleTeacher:
		return actor.ParticipantID == sess.TeacherID
	}
	return false
}
