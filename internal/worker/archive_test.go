package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aura-classroom/engagement/internal/directory/memory"
	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/pkg/queue"
)

const code = "ABC123"

type fakeUploader struct {
	mu      sync.Mutex
	bodies  map[string][]byte
	failErr error
}

func (u *fakeUploader) UploadArchive(_ context.Context, sessionCode string, body []byte) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failErr != nil {
		return "", u.failErr
	}
	if u.bodies == nil {
		u.bodies = map[string][]byte{}
	}
	u.bodies[sessionCode] = body
	return "s3://archives/" + sessionCode, nil
}

func (u *fakeUploader) body(code string) []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.bodies[code]
}

type fakeQueue struct {
	mu      sync.Mutex
	jobs    []*queue.Job
	retried []*queue.Job
}

func (q *fakeQueue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error) {
	q.mu.Lock()
	if len(q.jobs) > 0 {
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()
		return job, nil
	}
	q.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (q *fakeQueue) Retry(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempt++
	q.retried = append(q.retried, job)
	return nil
}

func (q *fakeQueue) retries() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.retried)
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreateSession(ctx, &models.Session{Code: code, Title: "Chemistry", TeacherID: "t", IsActive: true}))

	first := &models.Poll{SessionCode: code, Question: "Color?", IsActive: true, Options: []models.PollOption{
		{Position: 0, Text: "Red"}, {Position: 1, Text: "Blue"},
	}}
	require.NoError(t, store.CreatePoll(ctx, first))
	require.NoError(t, store.RecordVote(ctx, first.ID, "s1", -1, 1))
	require.NoError(t, store.ClosePoll(ctx, first.ID, time.Now()))

	second := &models.Poll{SessionCode: code, Question: "Pace?", IsActive: true, Options: []models.PollOption{
		{Position: 0, Text: "Slower"}, {Position: 1, Text: "Faster"},
	}}
	require.NoError(t, store.CreatePoll(ctx, second))
	require.NoError(t, store.ClosePoll(ctx, second.ID, time.Now()))

	require.NoError(t, store.CreateQuestion(ctx, &models.Question{SessionCode: code, AuthorID: "s1", AuthorName: "Ana", IsAnonymous: true, Text: "Graded?"}))
	gone := &models.Question{SessionCode: code, AuthorID: "s2", AuthorName: "Ben", Text: "Oops"}
	require.NoError(t, store.CreateQuestion(ctx, gone))
	require.NoError(t, store.SoftDeleteQuestion(ctx, gone.ID))
	return store
}

func archiveJob(t *testing.T, sessionCode string) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(queue.SessionArchivePayload{SessionCode: sessionCode, EndedAt: time.Now()})
	require.NoError(t, err)
	return &queue.Job{ID: uuid.NewString(), Type: queue.JobTypeSessionArchive, Payload: payload}
}

func TestProcessUploadsSummary(t *testing.T) {
	uploader := &fakeUploader{}
	p := NewArchiveProcessor(seededStore(t), uploader, &fakeQueue{}, zaptest.NewLogger(t), nil)

	require.NoError(t, p.Process(context.Background(), archiveJob(t, code)))

	var summary Summary
	require.NoError(t, json.Unmarshal(uploader.body(code), &summary))
	assert.Equal(t, "Chemistry", summary.Title)
	require.Len(t, summary.Polls, 2)
	assert.Equal(t, "Color?", summary.Polls[0].Question)
	assert.Equal(t, []int{0, 1}, summary.Polls[0].Counts)
	assert.Equal(t, []string{"Red", "Blue"}, summary.Polls[0].Options)
	assert.Equal(t, "Pace?", summary.Polls[1].Question)

	require.Len(t, summary.Questions, 1)
	assert.Equal(t, models.AnonymousLabel, summary.Questions[0].AuthorName)
	assert.Equal(t, "s1", summary.Questions[0].AuthorID)
}

func TestProcessRejectsBadJobs(t *testing.T) {
	p := NewArchiveProcessor(seededStore(t), &fakeUploader{}, &fakeQueue{}, nil, nil)
	ctx := context.Background()

	assert.Error(t, p.Process(ctx, &queue.Job{ID: "x", Type: "recording_upload"}))
	assert.Error(t, p.Process(ctx, &queue.Job{ID: "x", Type: queue.JobTypeSessionArchive, Payload: json.RawMessage(`{`)}))
	assert.Error(t, p.Process(ctx, archiveJob(t, "")))
	assert.Error(t, p.Process(ctx, archiveJob(t, "NOPE00")))
}

func TestRunRetriesFailedJobs(t *testing.T) {
	q := &fakeQueue{jobs: []*queue.Job{archiveJob(t, code)}}
	uploader := &fakeUploader{failErr: errors.New("s3 down")}
	p := NewArchiveProcessor(seededStore(t), uploader, q, zaptest.NewLogger(t), nil)
	p.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return q.retries() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, 1, q.retried[0].Attempt)
}

func TestRunProcessesQueuedJobs(t *testing.T) {
	q := &fakeQueue{jobs: []*queue.Job{archiveJob(t, code)}}
	uploader := &fakeUploader{}
	p := NewArchiveProcessor(seededStore(t), uploader, q, zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return uploader.body(code) != nil }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Zero(t, q.retries())
}
