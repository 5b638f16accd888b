package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/internal/questions"
	"github.com/aura-classroom/engagement/pkg/metrics"
	"github.com/aura-classroom/engagement/pkg/queue"
)

const dequeueTimeout = 5 * time.Second

// Source reads the final state of an ended session from the directory store.
type Source interface {
	GetSessionByCode(ctx context.Context, code string) (*models.Session, error)
	ListPolls(ctx context.Context, sessionCode string) ([]models.Poll, error)
	ListQuestions(ctx context.Context, sessionCode string, includeDeleted bool) ([]models.Question, error)
}

// Uploader stores a serialized archive (S3 in production).
type Uploader interface {
	UploadArchive(ctx context.Context, sessionCode string, body []byte) (string, error)
}

// JobQueue is the consumer side of the archive job queue.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Summary is the archived record of one ended session.
type Summary struct {
	Code        string           `json:"code"`
	Title       string           `json:"title"`
	TeacherID   string           `json:"teacherId"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	EndedAt     *time.Time       `json:"endedAt,omitempty"`
	Polls       []PollSummary    `json:"polls"`
	Questions   []questions.View `json:"questions"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

// PollSummary is a poll with its final tally.
type PollSummary struct {
	Question  string     `json:"question"`
	Options   []string   `json:"options"`
	Counts    []int      `json:"counts"`
	CreatedAt time.Time  `json:"createdAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

// ArchiveProcessor turns session archive jobs into uploaded summaries.
type ArchiveProcessor struct {
	source   Source
	uploader Uploader
	queue    JobQueue
	backoff  time.Duration
	now      func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewArchiveProcessor creates a session archive processor.
func NewArchiveProcessor(source Source, uploader Uploader, q JobQueue, logger *zap.Logger, m *metrics.Metrics) *ArchiveProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveProcessor{
		source:   source,
		uploader: uploader,
		queue:    q,
		backoff:  queue.RetryBackoff,
		now:      time.Now,
		logger:   logger,
		metrics:  m,
	}
}

// BuildSummary collects the session's polls and live questions. Anonymous
// questions keep their author id, as the archive is read by staff.
func (p *ArchiveProcessor) BuildSummary(ctx context.Context, code string) (*Summary, error) {
	sess, err := p.source.GetSessionByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	pollList, err := p.source.ListPolls(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	questionList, err := p.source.ListQuestions(ctx, code, false)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	summary := &Summary{
		Code:        sess.Code,
		Title:       sess.Title,
		TeacherID:   sess.TeacherID,
		StartedAt:   sess.StartAt,
		EndedAt:     sess.EndAt,
		Polls:       make([]PollSummary, 0, len(pollList)),
		Questions:   questions.ViewsFor(questionList, models.RoleTeacher),
		GeneratedAt: p.now().UTC(),
	}
	// Oldest first reads naturally in an archive.
	for i := len(pollList) - 1; i >= 0; i-- {
		poll := pollList[i]
		summary.Polls = append(summary.Polls, PollSummary{
			Question:  poll.Question,
			Options:   poll.OptionTexts(),
			Counts:    poll.Counts(),
			CreatedAt: poll.CreatedAt,
			ClosedAt:  poll.ClosedAt,
		})
	}
	return summary, nil
}

// Process executes one session archive job.
func (p *ArchiveProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeSessionArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.SessionArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.SessionCode == "" {
		return fmt.Errorf("archive job %s has no session code", job.ID)
	}

	summary, err := p.BuildSummary(ctx, payload.SessionCode)
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	url, err := p.uploader.UploadArchive(ctx, payload.SessionCode, body)
	if err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}

	p.metrics.ArchiveWritten()
	p.logger.Info("session archive written",
		zap.String("session_code", payload.SessionCode),
		zap.String("url", url),
		zap.Int("polls", len(summary.Polls)),
		zap.Int("questions", len(summary.Questions)))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ArchiveProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *ArchiveProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
