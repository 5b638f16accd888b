package polls_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-classroom/engagement/internal/polls"
	"github.com/aura-classroom/engagement/pkg/apperror"
)

func newMockRepository(t *testing.T) (*polls.Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return polls.NewRepository(mock), mock
}

func expectLockedPoll(mock pgxmock.PgxPoolIface, pollID uuid.UUID, active bool) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT is_active FROM polls WHERE id = \$1 FOR UPDATE`).
		WithArgs(pollID).
		WillReturnRows(pgxmock.NewRows([]string{"is_active"}).AddRow(active))
}

func TestRecordVoteFirstVote(t *testing.T) {
	repo, mock := newMockRepository(t)
	pollID := uuid.New()

	expectLockedPoll(mock, pollID, true)
	mock.ExpectExec(`(?s)INSERT INTO poll_votes.*\sON CONFLICT \(poll_id, participant_id\) DO UPDATE`).
		WithArgs(pollID, "s1", 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE poll_options SET votes = votes \+ 1`).
		WithArgs(pollID, 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.RecordVote(context.Background(), pollID, "s1", polls.NoVote, 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordVoteReplacementClampsDecrement(t *testing.T) {
	repo, mock := newMockRepository(t)
	pollID := uuid.New()

	expectLockedPoll(mock, pollID, true)
	mock.ExpectExec(`INSERT INTO poll_votes`).
		WithArgs(pollID, "s1", 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE poll_options SET votes = GREATEST\(votes - 1, 0\)`).
		WithArgs(pollID, 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE poll_options SET votes = votes \+ 1`).
		WithArgs(pollID, 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.RecordVote(context.Background(), pollID, "s1", 0, 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordVoteRejectsUnknownOption(t *testing.T) {
	repo, mock := newMockRepository(t)
	pollID := uuid.New()

	expectLockedPoll(mock, pollID, true)
	mock.ExpectExec(`INSERT INTO poll_votes`).
		WithArgs(pollID, "s1", 7).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE poll_options SET votes = votes \+ 1`).
		WithArgs(pollID, 7).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := repo.RecordVote(context.Background(), pollID, "s1", polls.NoVote, 7)
	assert.True(t, apperror.Is(err, apperror.ErrInvalidArgument))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordVoteOnClosedPoll(t *testing.T) {
	repo, mock := newMockRepository(t)
	pollID := uuid.New()

	expectLockedPoll(mock, pollID, false)
	mock.ExpectRollback()

	err := repo.RecordVote(context.Background(), pollID, "s1", polls.NoVote, 0)
	assert.True(t, apperror.Is(err, apperror.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
