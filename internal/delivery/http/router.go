package http

import (
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/delivery/http/middleware"
	"github.com/Harsh-BH/crmjobs/internal/usecase"
)

// RouterConfig bounds the bulk endpoint.
type RouterConfig struct {
	MaxBodyBytes    int64
	RateLimitPerMin int
}

// NewRouter creates and configures the Gin router with all routes and
// middleware. bulkUC may be nil, which leaves the bulk endpoint unmounted.
func NewRouter(
	jobsUC *usecase.JobsUsecase,
	bulkUC *usecase.BulkUsecase,
	checks map[string]HealthCheck,
	cfg RouterConfig,
	logger *zap.Logger,
) *gin.Engine {
	// Record values keep their JSON text so large integers are not rounded.
	binding.EnableDecoderUseNumber = true

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))

	// Metrics endpoint (no rate limiting)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		healthHandler := NewHealthHandler(checks, logger)
		v1.GET("/health", healthHandler.Health)

		jobHandler := NewJobHandler(jobsUC, logger)
		v1.GET("/jobs/:kind/:id", jobHandler.Status)
		v1.POST("/jobs/:kind/:id/abort", jobHandler.Abort)

		wsHandler := NewWebSocketHandler(jobsUC, logger)
		v1.GET("/jobs/:kind/:id/stream", wsHandler.Stream)

		if bulkUC != nil {
			bulk := v1.Group("/bulk")
			if cfg.RateLimitPerMin > 0 {
				bulk.Use(middleware.RateLimiter(cfg.RateLimitPerMin))
			}
			if cfg.MaxBodyBytes > 0 {
				bulk.Use(middleware.BodySizeLimit(cfg.MaxBodyBytes))
			}
			bulkHandler := NewBulkHandler(bulkUC, logger)
			bulk.POST("/:operation", bulkHandler.Run)
		}
	}

	return router
}
