package polls

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-classroom/engagement/internal/middleware"
	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/pkg/response"
)

// Service is the session-aware poll surface (implemented by the coordinator).
type Service interface {
	CreatePoll(ctx context.Context, code string, actor models.Identity, question string, options []string) (*models.Poll, error)
	Vote(ctx context.Context, code string, actor models.Identity, pollID uuid.UUID, optionIndex int) error
	ClosePoll(ctx context.Context, code string, actor models.Identity, pollID uuid.UUID) error
	ActivePoll(ctx context.Context, code string) (*Tally, error)
	ListPolls(ctx context.Context, code string) ([]Tally, error)
}

// CreateRequest is the body for POST /sessions/:code/polls.
type CreateRequest struct {
	Question string   `json:"question" binding:"required"`
	Options  []string `json:"options" binding:"required"`
}

// VoteRequest is the body for POST /sessions/:code/polls/:id/vote.
type VoteRequest struct {
	OptionIndex *int `json:"optionIndex" binding:"required"`
}

// Handler handles poll HTTP endpoints.
type Handler struct {
	svc Service
}

// NewHandler creates a polls handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the poll routes on a session-scoped group.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/poll", h.Active)
	g.GET("/polls", h.List)
	g.POST("/polls", middleware.StaffOnly, h.Create)
	g.POST("/polls/:id/vote", h.Vote)
	g.POST("/polls/:id/close", middleware.StaffOnly, h.Close)
}

// Active handles GET /sessions/:code/poll.
func (h *Handler) Active(c *gin.Context) {
	tally, err := h.svc.ActivePoll(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, tally)
}

// List handles GET /sessions/:code/polls.
func (h *Handler) List(c *gin.Context) {
	list, err := h.svc.ListPolls(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"polls": list})
}

// Create handles POST /sessions/:code/polls (session teacher/admin).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, err := h.svc.CreatePoll(c.Request.Context(), c.Param("code"), middleware.Identity(c), req.Question, req.Options)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, p)
}

// Vote handles POST /sessions/:code/polls/:id/vote.
func (h *Handler) Vote(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: optionIndex is required")
		return
	}
	if err := h.svc.Vote(c.Request.Context(), c.Param("code"), middleware.Identity(c), pollID, *req.OptionIndex); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"pollId": pollID, "optionIndex": *req.OptionIndex})
}

// Close handles POST /sessions/:code/polls/:id/close (session teacher/admin).
func (h *Handler) Close(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	if err := h.svc.ClosePoll(c.Request.Context(), c.Param("code"), middleware.Identity(c), pollID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"pollId": pollID, "closed": true})
}
