// Package api wires the control plane's two HTTP surfaces (spec §6): the
// external REST API consumed by upstream agents, bearer-token
// authenticated, rate limited and cached; and the internal callback API
// consumed only by executor processes and Container Scheduler adapters,
// authenticated with a separate shared secret and never exposed past the
// deploy-time network boundary.
//
// Grounded on the teacher's api/cmd/main.go setupRoutes, which builds the
// same kind of two-tier middleware stack (request id, recovery, structured
// logging, timeout, size limits, CORS/security headers, cache) before
// wiring handler groups; adapted here to gin route groups per resource
// instead of one flat function.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kweaver-ai/sandboxctl/internal/cache"
	"github.com/kweaver-ai/sandboxctl/internal/containersched"
	"github.com/kweaver-ai/sandboxctl/internal/db"
	"github.com/kweaver-ai/sandboxctl/internal/execution"
	"github.com/kweaver-ai/sandboxctl/internal/lifecycle"
	"github.com/kweaver-ai/sandboxctl/internal/middleware"
	"github.com/kweaver-ai/sandboxctl/internal/storage"
)

// Deps collects every collaborator a handler group needs. Built once in
// cmd/controlplane/main.go and threaded through NewRouter.
type Deps struct {
	Sessions    *lifecycle.Manager
	Executions  *execution.Engine
	Templates   *db.TemplateDB
	SessionsDB  *db.SessionDB
	Containers  *db.ContainerDB
	Nodes       *db.NodeDB
	Schedulers  map[string]containersched.ContainerScheduler
	Store       *storage.S3Store
	Cache       *cache.Cache
	Health      *HealthChecker

	ExternalAuth *middleware.ExternalBearerAuth
	InternalAuth *middleware.InternalBearerAuth
	RateLimit    *middleware.RateLimiter
}

// NewRouter assembles the gin engine: common middleware, then the
// external and internal route groups.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()

	timeoutCfg := middleware.DefaultTimeoutConfig()
	timeoutCfg.ExcludedPaths = []string{
		"/api/v1/sessions", // prefix match: exempts every session route, file upload/download included
	}

	router.Use(
		middleware.RequestID(),
		gin.Recovery(),
		middleware.StructuredLoggerWithConfig(middleware.DefaultStructuredLoggerConfig()),
		middleware.SecurityHeaders(),
		middleware.Timeout(timeoutCfg),
	)

	router.GET("/health", handleHealth(deps.Health))
	router.GET("/metrics", handleMetrics())

	external := router.Group("/api/v1")
	external.Use(deps.ExternalAuth.Middleware())
	if deps.RateLimit != nil {
		external.Use(deps.RateLimit.Middleware())
	}
	registerSessionRoutes(external, deps)
	registerExecutionRoutes(external, deps)
	registerTemplateRoutes(external, deps)
	registerContainerRoutes(external, deps)
	registerFileRoutes(external, deps)

	internal := router.Group("/internal")
	internal.Use(deps.InternalAuth.Middleware())
	registerInternalCallbackRoutes(internal, deps)

	return router
}
