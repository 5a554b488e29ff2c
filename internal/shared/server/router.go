package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marcobitx/foxdoc/internal/analyses"
	"github.com/marcobitx/foxdoc/internal/documents"
	"github.com/marcobitx/foxdoc/internal/shared/config"
	"github.com/marcobitx/foxdoc/internal/shared/metrics"
	"github.com/marcobitx/foxdoc/internal/shared/server/middleware"
	"github.com/marcobitx/foxdoc/internal/shared/server/respond"
)

// RouterDeps are the handlers mounted under /api/v1.
type RouterDeps struct {
	Config          config.Config
	AnalysisHandler *analyses.Handler
	DocumentHandler *documents.Handler
	// Health reports readiness; nil means always healthy.
	Health func() error
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		if deps.Health != nil {
			if err := deps.Health(); err != nil {
				respond.Error(c, http.StatusServiceUnavailable, "unhealthy", err.Error(), nil)
				return
			}
		}
		respond.OK(c, gin.H{"ok": true})
	})
	api.GET("/metrics", metrics.Handler())

	startLimit := middleware.RateLimit(middleware.RateLimitConfig{
		DefaultGroup: "START",
		Rules:        map[string]middleware.RateLimitRule{"START": middleware.PerMinute(deps.Config.RateLimitPerMin)},
	})
	if deps.AnalysisHandler != nil {
		deps.AnalysisHandler.RegisterRoutes(api, startLimit)
	}
	if deps.DocumentHandler != nil {
		deps.DocumentHandler.RegisterRoutes(api)
	}
	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
