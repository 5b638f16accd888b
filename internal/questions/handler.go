package questions

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-classroom/engagement/internal/middleware"
	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/pkg/response"
)

// Service is the session-aware Q&A surface (implemented by the coordinator).
type Service interface {
	AskQuestion(ctx context.Context, code string, actor models.Identity, text string, anonymous bool) (*models.Question, error)
	EditQuestion(ctx context.Context, code string, actor models.Identity, id uuid.UUID, text string) (*models.Question, error)
	DeleteQuestion(ctx context.Context, code string, actor models.Identity, id uuid.UUID) error
	ToggleUpvote(ctx context.Context, code string, actor models.Identity, id uuid.UUID) (*UpvoteResult, error)
	MarkAnswered(ctx context.Context, code string, actor models.Identity, id uuid.UUID) (*models.Question, error)
	ListQuestions(ctx context.Context, code string, viewer models.Identity, includeDeleted bool) ([]View, error)
}

// CreateRequest is the body for POST /sessions/:code/questions.
type CreateRequest struct {
	Text      string `json:"text" binding:"required"`
	Anonymous bool   `json:"anonymous"`
}

// EditRequest is the body for PATCH /sessions/:code/questions/:id.
type EditRequest struct {
	Text string `json:"text" binding:"required"`
}

// Handler handles question HTTP endpoints.
type Handler struct {
	svc Service
}

// NewHandler creates a questions handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the question routes on a session-scoped group.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/questions", h.List)
	g.POST("/questions", h.Create)
	g.PATCH("/questions/:id", h.Edit)
	g.DELETE("/questions/:id", h.Delete)
	g.POST("/questions/:id/upvote", h.Upvote)
	g.POST("/questions/:id/answer", middleware.StaffOnly, h.Answer)
}

// List handles GET /sessions/:code/questions?include_deleted=true.
func (h *Handler) List(c *gin.Context) {
	includeDeleted, _ := strconv.ParseBool(c.Query("include_deleted"))
	list, err := h.svc.ListQuestions(c.Request.Context(), c.Param("code"), middleware.Identity(c), includeDeleted)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"questions": list})
}

// Create handles POST /sessions/:code/questions.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	actor := middleware.Identity(c)
	q, err := h.svc.AskQuestion(c.Request.Context(), c.Param("code"), actor, req.Text, req.Anonymous)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, ViewFor(*q, actor.Role))
}

// Edit handles PATCH /sessions/:code/questions/:id (author only).
func (h *Handler) Edit(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		return
	}
	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	actor := middleware.Identity(c)
	q, err := h.svc.EditQuestion(c.Request.Context(), c.Param("code"), actor, id, req.Text)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, ViewFor(*q, actor.Role))
}

// Delete handles DELETE /sessions/:code/questions/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteQuestion(c.Request.Context(), c.Param("code"), middleware.Identity(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Upvote handles POST /sessions/:code/questions/:id/upvote (toggle).
func (h *Handler) Upvote(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		return
	}
	res, err := h.svc.ToggleUpvote(c.Request.Context(), c.Param("code"), middleware.Identity(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Answer handles POST /sessions/:code/questions/:id/answer (teacher/admin).
func (h *Handler) Answer(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		return
	}
	actor := middleware.Identity(c)
	q, err := h.svc.MarkAnswered(c.Request.Context(), c.Param("code"), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, ViewFor(*q, actor.Role))
}

func questionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return uuid.Nil, false
	}
	return id, true
}
