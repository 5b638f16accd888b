package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/pkg/apperror"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	require.NoError(t, s.CreateSession(context.Background(), &models.Session{Code: "ABC123", TeacherID: "t", IsActive: true}))
	return s
}

func TestCreateSessionRejectsDuplicateCode(t *testing.T) {
	s := seeded(t)
	err := s.CreateSession(context.Background(), &models.Session{Code: "ABC123", TeacherID: "t2", IsActive: true})
	assert.True(t, apperror.Is(err, apperror.ErrConflict))
}

func TestCloseSessionOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	sess, err := s.GetSessionByCode(ctx, "ABC123")
	require.NoError(t, err)

	require.NoError(t, s.CloseSession(ctx, sess.ID, time.Now()))
	err = s.CloseSession(ctx, sess.ID, time.Now())
	assert.True(t, apperror.Is(err, apperror.ErrSessionClosed))

	got, err := s.GetSessionByCode(ctx, "ABC123")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.NotNil(t, got.EndAt)
}

func TestRejoinReactivatesParticipant(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	first := &models.Participant{SessionCode: "ABC123", Identity: "s1", DisplayName: "Ada", Role: models.RoleStudent}
	require.NoError(t, s.JoinParticipant(ctx, first))
	require.NoError(t, s.LeaveParticipant(ctx, "ABC123", "s1", time.Now()))

	p, ok := s.Participant("ABC123", "s1")
	require.True(t, ok)
	assert.False(t, p.IsActive)

	again := &models.Participant{SessionCode: "ABC123", Identity: "s1", DisplayName: "Ada L.", Role: models.RoleStudent}
	require.NoError(t, s.JoinParticipant(ctx, again))
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.IsActive)
	assert.Nil(t, again.LeftAt)
	assert.Equal(t, "Ada L.", again.DisplayName)
}

func TestOneActivePollPerSession(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	p := &models.Poll{SessionCode: "ABC123", Question: "Q?", Options: []models.PollOption{{Position: 0, Text: "a"}, {Position: 1, Text: "b"}}}
	require.NoError(t, s.CreatePoll(ctx, p))

	err := s.CreatePoll(ctx, &models.Poll{SessionCode: "ABC123", Question: "Again?", Options: p.Options})
	assert.True(t, apperror.Is(err, apperror.ErrConflict))

	require.NoError(t, s.ClosePoll(ctx, p.ID, time.Now()))
	second := &models.Poll{SessionCode: "ABC123", Question: "Again?", Options: []models.PollOption{{Text: "x"}, {Text: "y"}}}
	require.NoError(t, s.CreatePoll(ctx, second))

	list, err := s.ListPolls(ctx, "ABC123")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first when created at the same instant")
}

func TestRecordVoteMovesCount(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	p := &models.Poll{SessionCode: "ABC123", Question: "Q?", Options: []models.PollOption{{Text: "a"}, {Text: "b"}}}
	require.NoError(t, s.CreatePoll(ctx, p))

	require.NoError(t, s.RecordVote(ctx, p.ID, "s1", -1, 0))
	require.NoError(t, s.RecordVote(ctx, p.ID, "s1", 0, 1))

	active, err := s.GetActivePoll(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, active.Counts())

	votes, err := s.ListVotes(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"s1": 1}, votes)

	err = s.RecordVote(ctx, p.ID, "s2", -1, 5)
	assert.True(t, apperror.Is(err, apperror.ErrInvalidArgument))
}

func TestToggleUpvoteAndOrdering(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	older := &models.Question{SessionCode: "ABC123", AuthorID: "s1", Text: "first"}
	newer := &models.Question{SessionCode: "ABC123", AuthorID: "s2", Text: "second"}
	require.NoError(t, s.CreateQuestion(ctx, older))
	require.NoError(t, s.CreateQuestion(ctx, newer))

	list, err := s.ListQuestions(ctx, "ABC123", false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)

	added, count, err := s.ToggleUpvote(ctx, older.ID, "s3")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 1, count)

	list, err = s.ListQuestions(ctx, "ABC123", false)
	require.NoError(t, err)
	assert.Equal(t, older.ID, list[0].ID)

	added, count, err = s.ToggleUpvote(ctx, older.ID, "s3")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Zero(t, count)
}

func TestSoftDeletedQuestionsAreHidden(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	q := &models.Question{SessionCode: "ABC123", AuthorID: "s1", Text: "gone"}
	require.NoError(t, s.CreateQuestion(ctx, q))
	require.NoError(t, s.SoftDeleteQuestion(ctx, q.ID))

	visible, err := s.ListQuestions(ctx, "ABC123", false)
	require.NoError(t, err)
	assert.Empty(t, visible)

	all, err := s.ListQuestions(ctx, "ABC123", true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsDeleted)

	_, _, err = s.ToggleUpvote(ctx, q.ID, "s2")
	assert.True(t, apperror.Is(err, apperror.ErrNotFound))
	assert.True(t, apperror.Is(s.MarkAnswered(ctx, q.ID), apperror.ErrNotFound))
}

func TestFailWith(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	boom := errors.New("connection refused")
	s.FailWith(boom)

	_, err := s.GetSessionByCode(ctx, "ABC123")
	assert.ErrorIs(t, err, boom)

	s.FailWith(nil)
	_, err = s.GetSessionByCode(ctx, "ABC123")
	assert.NoError(t, err)
}
