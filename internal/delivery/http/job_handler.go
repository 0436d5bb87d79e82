package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/usecase"
)

// JobHandler handles HTTP requests that inspect or control a remote job.
type JobHandler struct {
	jobsUC *usecase.JobsUsecase
	logger *zap.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(jobsUC *usecase.JobsUsecase, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		jobsUC: jobsUC,
		logger: logger,
	}
}

// Status handles GET /api/v1/jobs/:kind/:id
func (h *JobHandler) Status(c *gin.Context) {
	job, err := h.jobsUC.Status(c.Request.Context(), domain.JobKind(c.Param("kind")), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Abort handles POST /api/v1/jobs/:kind/:id/abort
func (h *JobHandler) Abort(c *gin.Context) {
	job, err := h.jobsUC.Abort(c.Request.Context(), domain.JobKind(c.Param("kind")), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}
