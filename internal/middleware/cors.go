package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// OriginPolicy is the browser origin allow-list shared by the REST surface
// and the WebSocket upgrade.
type OriginPolicy struct {
	any     bool
	origins map[string]bool
}

// NewOriginPolicy parses "*" or a comma-separated list (e.g. "http://localhost:3000,http://localhost:3001").
// An empty list allows any origin.
func NewOriginPolicy(allowedOrigins string) *OriginPolicy {
	p := &OriginPolicy{origins: make(map[string]bool)}
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			p.origins[o] = true
		}
	}
	p.any = len(p.origins) == 0 || p.origins["*"]
	return p
}

// Allows reports whether a request from origin may proceed. Requests without
// an Origin header (non-browser clients) are always allowed.
func (p *OriginPolicy) Allows(origin string) bool {
	return origin == "" || p.any || p.origins[origin]
}

// CheckOrigin adapts the policy to websocket.Upgrader.CheckOrigin.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	return p.Allows(r.Header.Get("Origin"))
}

// CORS returns a middleware that sets CORS headers for allowed origins.
func CORS(p *OriginPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case p.any:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && p.origins[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		if c.Writer.Header().Get("Access-Control-Allow-Origin") != "" {
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Max-Age", "86400")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
