package coordinator

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/aura-classroom/engagement/internal/realtime"
	"github.com/aura-classroom/engagement/pkg/apperror"
)

// Inbound client events.
const (
	EventJoin             = "join-session"
	EventLeave            = "leave-session"
	EventBroadcastTeacher = "broadcast:teacher"
	EventPollCreate       = "poll:create"
	EventPollVote         = "poll:vote"
	EventPollClose        = "poll:close"
	EventQuestionCreate   = "qna:question:create"
	EventQuestionEdit     = "qna:question:edit"
	EventQuestionDelete   = "qna:question:delete"
	EventQuestionUpvote   = "qna:question:upvote"
	EventQuestionAnswer   = "qna:question:answer"
	EventSessionEnd       = "session:end"
)

type joinRequest struct {
	ParticipantID string `json:"participantId"`
}

type broadcastRequest struct {
	Message string `json:"message"`
}

type pollCreateRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type pollVoteRequest struct {
	PollID      uuid.UUID `json:"pollId"`
	OptionIndex *int      `json:"optionIndex"`
}

type pollRefRequest struct {
	PollID uuid.UUID `json:"pollId"`
}

type questionCreateRequest struct {
	Text      string `json:"text"`
	Anonymous bool   `json:"anonymous"`
}

type questionEditRequest struct {
	QuestionID uuid.UUID `json:"questionId"`
	Text       string    `json:"text"`
}

type questionRefRequest struct {
	QuestionID uuid.UUID `json:"questionId"`
}

// Dispatch implements realtime.Dispatcher. Every event other than join-session
// requires the connection to be the participant's registered handle.
func (c *Coordinator) Dispatch(ctx context.Context, client *realtime.Client, msg realtime.Message) (interface{}, error) {
	code := client.SessionCode
	actor := client.Identity

	if msg.Event == EventJoin {
		var req joinRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		if req.ParticipantID != "" && req.ParticipantID != actor.ParticipantID {
			return nil, apperror.PermissionDenied("participantId does not match the authenticated identity")
		}
		state, err := c.Join(ctx, code, actor, client)
		if err != nil {
			return nil, err
		}
		return CountPayload{Count: state.Count}, nil
	}

	if !c.IsMember(code, actor.ParticipantID, client) {
		return nil, apperror.PermissionDenied("join the session first")
	}

	switch msg.Event {
	case EventLeave:
		return nil, c.Leave(ctx, code, actor)

	case EventBroadcastTeacher:
		var req broadcastRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		return c.Broadcast(ctx, code, actor, req.Message)

	case EventPollCreate:
		var req pollCreateRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		p, err := c.CreatePoll(ctx, code, actor, req.Question, req.Options)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"pollId": p.ID}, nil

	case EventPollVote:
		var req pollVoteRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		if req.OptionIndex == nil {
			return nil, apperror.InvalidArgument("optionIndex is required")
		}
		return nil, c.Vote(ctx, code, actor, req.PollID, *req.OptionIndex)

	case EventPollClose:
		var req pollRefRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		return nil, c.ClosePoll(ctx, code, actor, req.PollID)

	case EventQuestionCreate:
		var req questionCreateRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		q, err := c.AskQuestion(ctx, code, actor, req.Text, req.Anonymous)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"questionId": q.ID}, nil

	case EventQuestionEdit:
		var req questionEditRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		_, err := c.EditQuestion(ctx, code, actor, req.QuestionID, req.Text)
		return nil, err

	case EventQuestionDelete:
		var req questionRefRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		return nil, c.DeleteQuestion(ctx, code, actor, req.QuestionID)

	case EventQuestionUpvote:
		var req questionRefRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		return c.ToggleUpvote(ctx, code, actor, req.QuestionID)

	case EventQuestionAnswer:
		var req questionRefRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		_, err := c.MarkAnswered(ctx, code, actor, req.QuestionID)
		return nil, err

	case EventSessionEnd:
		return nil, c.EndSession(ctx, code, actor)
	}
	return nil, apperror.InvalidArgument("unknown event " + msg.Event)
}

// Disconnected implements realtime.Dispatcher.
func (c *Coordinator) Disconnected(client *realtime.Client) {
	c.Disconnect(context.Background(), client.SessionCode, client.Identity, client)
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperror.InvalidArgument("malformed event payload")
	}
	return nil
}
