package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/domain"
)

// respondError maps orchestration errors to HTTP statuses. Timeouts and
// remote failures carry the last known job snapshot so callers can resume or
// abort it.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	body := gin.H{"error": err.Error()}

	var failure *domain.JobFailure
	var timeout *domain.TimeoutError
	var invalid *domain.ValidationError
	switch {
	case errors.As(err, &invalid):
		if len(invalid.Indices) > 0 {
			body["indices"] = invalid.Indices
		}
		c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrMalformedArchive):
		c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, domain.ErrDuplicateSubmission):
		c.JSON(http.StatusConflict, body)
	case errors.Is(err, domain.ErrAbortUnsupported):
		c.JSON(http.StatusConflict, body)
	case errors.As(err, &timeout):
		body["job"] = timeout.Job
		c.JSON(http.StatusGatewayTimeout, body)
	case errors.As(err, &failure):
		body["job"] = failure.Job
		c.JSON(http.StatusUnprocessableEntity, body)
	case errors.Is(err, domain.ErrSubmission), errors.Is(err, domain.ErrPollFailed), errors.Is(err, domain.ErrResults):
		logger.Warn("Remote system request failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, body)
	default:
		logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
