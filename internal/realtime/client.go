package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/pkg/apperror"
	"github.com/aura-classroom/engagement/pkg/metrics"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	maxFrameSize = 65536

	// EventAck and EventError answer an inbound event carrying a ref.
	EventAck   = "ack"
	EventError = "error"
)

// Dispatcher routes inbound client events. Dispatch runs to completion even if
// the connection drops meanwhile; Disconnected is the implicit leave.
type Dispatcher interface {
	Dispatch(ctx context.Context, c *Client, msg Message) (reply interface{}, err error)
	Disconnected(c *Client)
}

// IdentityResolver turns the token presented on upgrade into an identity.
type IdentityResolver func(token string) (models.Identity, error)

// ErrorFrame is the payload of an error reply.
type ErrorFrame struct {
	Code    apperror.Code `json:"code"`
	Message string        `json:"message"`
}

// Client is a single WebSocket connection bound to one session code. It
// implements Handle.
type Client struct {
	ID          string
	SessionCode string
	Identity    models.Identity
	ConnectedAt time.Time

	conn    *websocket.Conn
	send    chan Message
	mu      sync.Mutex
	closed  bool
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewClient creates a client handle around conn. conn may be nil in tests that
// only exercise the outbound queue.
func NewClient(code string, identity models.Identity, conn *websocket.Conn, buffer int, logger *zap.Logger, m *metrics.Metrics) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		ID:          uuid.NewString(),
		SessionCode: code,
		Identity:    identity,
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan Message, buffer),
		logger:      logger,
		metrics:     m,
	}
}

// ParticipantID implements Handle.
func (c *Client) ParticipantID() string { return c.Identity.ParticipantID }

// Role implements Handle.
func (c *Client) Role() models.Role { return c.Identity.Role }

// Send enqueues msg without blocking.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrHandleClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops accepting messages. Already queued messages are still written
// before the write pump sends the close frame.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Outbound exposes the outbound queue (used by tests and the write pump).
func (c *Client) Outbound() <-chan Message { return c.send }

// ServeWs handles the WebSocket upgrade (session code and token in the query)
// and runs the client loops. checkOrigin applies the browser origin policy.
func ServeWs(d Dispatcher, router *Router, resolve IdentityResolver, checkOrigin func(*http.Request) bool, buffer int, logger *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
	return func(c *gin.Context) {
		code := c.Query("session")
		token := c.Query("token")
		if code == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "session and token required"})
			return
		}
		identity, err := resolve(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := NewClient(code, identity, conn, buffer, logger, m)
		m.HandleConnected()
		go client.writePump()
		client.readPump(d, router)
	}
}

func (c *Client) readPump(d Dispatcher, router *Router) {
	defer func() {
		d.Disconnected(c)
		c.Close()
		c.metrics.HandleDisconnected()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))

		// Not tied to the connection: a started mutation runs to completion.
		reply, err := d.Dispatch(context.Background(), c, msg)
		if err != nil {
			appErr := apperror.FromError(err)
			router.SendTo(c, EventError, msg.Ref, ErrorFrame{Code: appErr.Code, Message: appErr.Message})
			continue
		}
		if msg.Ref != "" {
			router.SendTo(c, EventAck, msg.Ref, reply)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
