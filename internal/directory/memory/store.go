// Package memory is an in-process directory store. It backs the engines in tests
// and in DIRECTORY_DRIVER=memory deployments, and emulates the uniqueness
// constraints of the Postgres schema with maps.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/pkg/apperror"
)

type upvoteKey struct {
	questionID    uuid.UUID
	participantID string
}

type participantKey struct {
	code     string
	identity string
}

// Store keeps every directory entity in maps guarded by one mutex.
type Store struct {
	mu           sync.Mutex
	sessions     map[string]*models.Session // by code
	participants map[participantKey]*models.Participant
	polls        map[uuid.UUID]*models.Poll
	votes        map[uuid.UUID]map[string]int // poll -> participant -> option
	questions    map[uuid.UUID]*models.Question
	upvotes      map[upvoteKey]time.Time
	order        map[uuid.UUID]int // insertion sequence, breaks createdAt ties
	seq          int
	failWith     error
	now          func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		sessions:     make(map[string]*models.Session),
		participants: make(map[participantKey]*models.Participant),
		polls:        make(map[uuid.UUID]*models.Poll),
		votes:        make(map[uuid.UUID]map[string]int),
		questions:    make(map[uuid.UUID]*models.Question),
		upvotes:      make(map[upvoteKey]time.Time),
		order:        make(map[uuid.UUID]int),
		now:          time.Now,
	}
}

// FailWith makes every subsequent call return err (nil restores normal operation).
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}

func (s *Store) check(ctx context.Context) error {
	if s.failWith != nil {
		return s.failWith
	}
	return ctx.Err()
}

// CreateSession inserts a session; the code must be unique.
func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.sessions[sess.Code]; ok {
		return apperror.Conflict("session code already issued")
	}
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now().UTC()
	}
	c := *sess
	s.sessions[sess.Code] = &c
	return nil
}

// GetSessionByCode returns a copy of the session.
func (s *Store) GetSessionByCode(ctx context.Context, code string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	sess, ok := s.sessions[code]
	if !ok {
		return nil, apperror.NotFound("session not found")
	}
	c := *sess
	return &c, nil
}

func (s *Store) sessionByID(id uuid.UUID) *models.Session {
	for _, sess := range s.sessions {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

// MarkSessionStarted sets start_at if it is not set yet.
func (s *Store) MarkSessionStarted(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	sess := s.sessionByID(id)
	if sess == nil {
		return apperror.NotFound("session not found")
	}
	if sess.StartAt == nil {
		sess.StartAt = &at
	}
	return nil
}

// CloseSession flips is_active to false exactly once.
func (s *Store) CloseSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	sess := s.sessionByID(id)
	if sess == nil {
		return apperror.NotFound("session not found")
	}
	if !sess.IsActive {
		return apperror.Clone(apperror.ErrSessionClosed, "")
	}
	sess.IsActive = false
	sess.EndAt = &at
	return nil
}

// JoinParticipant creates or reactivates the participant record of an identity.
func (s *Store) JoinParticipant(ctx context.Context, p *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	key := participantKey{code: p.SessionCode, identity: p.Identity}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = s.now().UTC()
	}
	if existing, ok := s.participants[key]; ok {
		existing.IsActive = true
		existing.LeftAt = nil
		existing.JoinedAt = p.JoinedAt
		existing.DisplayName = p.DisplayName
		existing.Role = p.Role
		*p = *existing
		return nil
	}
	p.ID = uuid.New()
	p.IsActive = true
	p.LeftAt = nil
	c := *p
	s.participants[key] = &c
	return nil
}

// LeaveParticipant soft-closes the identity's record.
func (s *Store) LeaveParticipant(ctx context.Context, code, identity string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if p, ok := s.participants[participantKey{code: code, identity: identity}]; ok && p.IsActive {
		p.IsActive = false
		p.LeftAt = &at
	}
	return nil
}

// CloseParticipants soft-closes every active participant of a session.
func (s *Store) CloseParticipants(ctx context.Context, code string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	for k, p := range s.participants {
		if k.code == code && p.IsActive {
			p.IsActive = false
			t := at
			p.LeftAt = &t
		}
	}
	return nil
}

// Participant returns a copy of the identity's record.
func (s *Store) Participant(code, identity string) (models.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantKey{code: code, identity: identity}]
	if !ok {
		return models.Participant{}, false
	}
	return *p, true
}

// CreatePoll inserts a poll with zeroed counts; at most one active per session.
func (s *Store) CreatePoll(ctx context.Context, p *models.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.sessions[p.SessionCode]; !ok {
		return apperror.NotFound("session not found")
	}
	for _, existing := range s.polls {
		if existing.SessionCode == p.SessionCode && existing.IsActive {
			return apperror.Conflict("a poll is already active for this session")
		}
	}
	p.ID = uuid.New()
	p.IsActive = true
	p.CreatedAt = s.now().UTC()
	for i := range p.Options {
		p.Options[i].Votes = 0
	}
	s.polls[p.ID] = p.Clone()
	s.seq++
	s.order[p.ID] = s.seq
	s.votes[p.ID] = make(map[string]int)
	return nil
}

// GetActivePoll returns the session's active poll or NotFound.
func (s *Store) GetActivePoll(ctx context.Context, code string) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	for _, p := range s.polls {
		if p.SessionCode == code && p.IsActive {
			return p.Clone(), nil
		}
	}
	return nil, apperror.NotFound("no active poll")
}

// ListVotes returns participant -> option for a poll.
func (s *Store) ListVotes(ctx context.Context, pollID uuid.UUID) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(s.votes[pollID]))
	for k, v := range s.votes[pollID] {
		out[k] = v
	}
	return out, nil
}

// RecordVote moves one vote from `from` to `to` and stores the choice.
func (s *Store) RecordVote(ctx context.Context, pollID uuid.UUID, participantID string, from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	p, ok := s.polls[pollID]
	if !ok || !p.IsActive {
		return apperror.NotFound("poll not found")
	}
	if to < 0 || to >= len(p.Options) || from >= len(p.Options) {
		return apperror.InvalidArgument("option index out of range")
	}
	if from >= 0 && p.Options[from].Votes > 0 {
		p.Options[from].Votes--
	}
	p.Options[to].Votes++
	s.votes[pollID][participantID] = to
	return nil
}

// ClosePoll marks a poll inactive.
func (s *Store) ClosePoll(ctx context.Context, pollID uuid.UUID, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	p, ok := s.polls[pollID]
	if !ok {
		return apperror.NotFound("poll not found")
	}
	p.IsActive = false
	p.ClosedAt = &closedAt
	return nil
}

// ListPolls returns the session's polls, newest first.
func (s *Store) ListPolls(ctx context.Context, code string) ([]models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []models.Poll
	for _, p := range s.polls {
		if p.SessionCode == code {
			out = append(out, *p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.order[out[i].ID] > s.order[out[j].ID]
	})
	return out, nil
}

// CreateQuestion inserts a question with zero upvotes.
func (s *Store) CreateQuestion(ctx context.Context, q *models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.sessions[q.SessionCode]; !ok {
		return apperror.NotFound("session not found")
	}
	now := s.now().UTC()
	q.ID = uuid.New()
	q.UpvoteCount = 0
	q.IsAnswered = false
	q.IsDeleted = false
	q.CreatedAt = now
	q.UpdatedAt = now
	c := *q
	s.questions[q.ID] = &c
	s.seq++
	s.order[q.ID] = s.seq
	return nil
}

// GetQuestion returns a copy of the question, including soft-deleted ones.
func (s *Store) GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	q, ok := s.questions[id]
	if !ok {
		return nil, apperror.NotFound("question not found")
	}
	c := *q
	return &c, nil
}

// UpdateQuestionText replaces the text of a question.
func (s *Store) UpdateQuestionText(ctx context.Context, id uuid.UUID, text string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	q, ok := s.questions[id]
	if !ok || q.IsDeleted {
		return apperror.NotFound("question not found")
	}
	q.Text = text
	q.UpdatedAt = at
	return nil
}

// SoftDeleteQuestion sets the tombstone; the row is retained.
func (s *Store) SoftDeleteQuestion(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	q, ok := s.questions[id]
	if !ok || q.IsDeleted {
		return apperror.NotFound("question not found")
	}
	q.IsDeleted = true
	return nil
}

// MarkAnswered sets is_answered; it never goes back to false.
func (s *Store) MarkAnswered(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	q, ok := s.questions[id]
	if !ok || q.IsDeleted {
		return apperror.NotFound("question not found")
	}
	q.IsAnswered = true
	return nil
}

// ToggleUpvote inserts the (question, participant) upvote or, if it exists,
// removes it, adjusting the counter in the same critical section.
func (s *Store) ToggleUpvote(ctx context.Context, questionID uuid.UUID, participantID string) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, 0, err
	}
	q, ok := s.questions[questionID]
	if !ok || q.IsDeleted {
		return false, 0, apperror.NotFound("question not found")
	}
	key := upvoteKey{questionID: questionID, participantID: participantID}
	if _, exists := s.upvotes[key]; exists {
		delete(s.upvotes, key)
		if q.UpvoteCount > 0 {
			q.UpvoteCount--
		}
		return false, q.UpvoteCount, nil
	}
	s.upvotes[key] = s.now().UTC()
	q.UpvoteCount++
	return true, q.UpvoteCount, nil
}

// ListQuestions returns the session's questions ordered by upvotes desc, then newest first.
func (s *Store) ListQuestions(ctx context.Context, code string, includeDeleted bool) ([]models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []models.Question
	for _, q := range s.questions {
		if q.SessionCode != code || (q.IsDeleted && !includeDeleted) {
			continue
		}
		out = append(out, *q)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpvoteCount != out[j].UpvoteCount {
			return out[i].UpvoteCount > out[j].UpvoteCount
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.order[out[i].ID] > s.order[out[j].ID]
	})
	return out, nil
}
