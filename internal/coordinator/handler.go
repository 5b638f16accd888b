package coordinator

import (
	"github.com/gin-gonic/gin"

	"github.com/aura-classroom/engagement/internal/middleware"
	"github.com/aura-classroom/engagement/pkg/response"
)

// BroadcastRequest is the body for POST /sessions/:code/broadcast.
type BroadcastRequest struct {
	Message string `json:"message" binding:"required"`
}

// Handler serves the session-level REST endpoints.
type Handler struct {
	coord *Coordinator
}

// NewHandler creates a session handler.
func NewHandler(coord *Coordinator) *Handler {
	return &Handler{coord: coord}
}

// Register mounts the session routes on a session-scoped group.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("", h.State)
	g.GET("/presence", h.Presence)
	g.POST("/broadcast", middleware.StaffOnly, h.Broadcast)
	g.POST("/end", middleware.StaffOnly, h.End)
}

// State handles GET /sessions/:code.
func (h *Handler) State(c *gin.Context) {
	state, err := h.coord.Snapshot(c.Request.Context(), c.Param("code"), middleware.Identity(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, state)
}

// Presence handles GET /sessions/:code/presence.
func (h *Handler) Presence(c *gin.Context) {
	count, err := h.coord.Presence(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, CountPayload{Count: count})
}

// Broadcast handles POST /sessions/:code/broadcast (session teacher/admin).
func (h *Handler) Broadcast(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	payload, err := h.coord.Broadcast(c.Request.Context(), c.Param("code"), middleware.Identity(c), req.Message)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, payload)
}

// End handles POST /sessions/:code/end (session teacher/admin).
func (h *Handler) End(c *gin.Context) {
	if err := h.coord.EndSession(c.Request.Context(), c.Param("code"), middleware.Identity(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"code": c.Param("code"), "ended": true})
}
