package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"possync/internal/logging"
	udp "possync/internal/microservices/udp-server"
	"possync/internal/microservices/websocket"
)

// SessionSource is the read-only view of the sync server the admin API needs.
type SessionSource interface {
	Sessions() []udp.SessionSnapshot
	SessionCount() int
	Metrics() map[string]int64
}

type Handler struct {
	source    SessionSource
	hub       *websocket.Hub
	logger    *zap.Logger
	startedAt time.Time
}

// NewHandler serves source. hub may be nil, which leaves /ws unregistered.
func NewHandler(source SessionSource, hub *websocket.Hub, logger *zap.Logger) *Handler {
	return &Handler{
		source:    source,
		hub:       hub,
		logger:    logging.OrNop(logger),
		startedAt: time.Now(),
	}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/healthz", h.Health)
	r.GET("/sessions", h.ListSessions)
	r.GET("/metrics", h.Metrics)
	if h.hub != nil {
		r.GET("/ws", websocket.WSHandler(h.hub))
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListSessions handles GET /sessions
func (h *Handler) ListSessions(c *gin.Context) {
	sessions := h.source.Sessions()
	c.JSON(http.StatusOK, gin.H{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// Metrics handles GET /metrics
func (h *Handler) Metrics(c *gin.Context) {
	resp := gin.H{
		"sessions":       h.source.SessionCount(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"counters":       h.source.Metrics(),
	}
	if h.hub != nil {
		resp["observers"] = h.hub.ClientCount()
	}
	c.JSON(http.StatusOK, resp)
}
