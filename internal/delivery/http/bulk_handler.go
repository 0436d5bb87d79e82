package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/usecase"
)

const idempotencyKeyHeader = "Idempotency-Key"

// BulkHandler runs bulk operations synchronously on behalf of HTTP callers.
type BulkHandler struct {
	bulkUC *usecase.BulkUsecase
	logger *zap.Logger
}

// NewBulkHandler creates a new BulkHandler.
func NewBulkHandler(bulkUC *usecase.BulkUsecase, logger *zap.Logger) *BulkHandler {
	return &BulkHandler{
		bulkUC: bulkUC,
		logger: logger,
	}
}

// Run handles POST /api/v1/bulk/:operation. The operation in the path
// overrides any in the body. The request blocks until the job
// is terminal or the optional ?timeout= elapses; a timeout answers 504 with
// the job snapshot and leaves the remote job running.
func (h *BulkHandler) Run(c *gin.Context) {
	var req usecase.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body: " + err.Error(),
		})
		return
	}

	req.Operation = domain.Operation(c.Param("operation"))
	if key := c.GetHeader(idempotencyKeyHeader); key != "" {
		req.IdempotencyKey = key
	}
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid timeout %q", raw)})
			return
		}
		req.Timeout = d
	}

	result, err := h.bulkUC.Run(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
