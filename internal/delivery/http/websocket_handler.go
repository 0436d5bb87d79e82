package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/usecase"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler streams job snapshots to a client until the job is
// terminal.
type WebSocketHandler struct {
	jobsUC *usecase.JobsUsecase
	logger *zap.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(jobsUC *usecase.JobsUsecase, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		jobsUC: jobsUC,
		logger: logger,
	}
}

// Stream handles GET /api/v1/jobs/:kind/:id/stream (WebSocket upgrade).
// Snapshots are paced by the poll policy. The connection closes after the
// terminal snapshot or an error message.
func (h *WebSocketHandler) Stream(c *gin.Context) {
	kind := domain.JobKind(c.Param("kind"))
	id := c.Param("id")
	if !domain.ValidKinds[kind] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job kind"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Debug("WebSocket connection opened", zap.String("job_id", id), zap.String("kind", string(kind)))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// A read error means the client went away; stop polling for it.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	_, err = h.jobsUC.Watch(ctx, kind, id, func(job domain.Job) {
		if err := conn.WriteJSON(job); err != nil {
			h.logger.Debug("WebSocket write failed (client disconnected)", zap.Error(err))
			cancel()
		}
	})
	if err != nil && ctx.Err() == nil {
		_ = conn.WriteJSON(gin.H{"error": err.Error()})
		return
	}
	h.logger.Debug("Job stream closed", zap.String("job_id", id))
}
