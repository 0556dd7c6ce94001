// Package middleware provides HTTP middleware for the control plane's API.
// This file implements structured request logging via zerolog.
//
// Logged fields: request_id, method, path, query, status, duration_ms,
// client_ip, principal (set by the auth middleware for this surface),
// and any errors accumulated on the Gin context. 5xx logs at error level,
// 4xx at warn, everything else at info.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kweaver-ai/sandboxctl/internal/logger"
)

// StructuredLoggerConfig controls what the request logger emits.
type StructuredLoggerConfig struct {
	SkipPaths       []string
	SkipHealthCheck bool
	LogQuery        bool
}

// DefaultStructuredLoggerConfig skips /health to avoid probe noise.
func DefaultStructuredLoggerConfig() StructuredLoggerConfig {
	return StructuredLoggerConfig{
		SkipHealthCheck: true,
		LogQuery:        true,
	}
}

// StructuredLogger uses the default configuration.
func StructuredLogger() gin.HandlerFunc {
	return StructuredLoggerWithConfig(DefaultStructuredLoggerConfig())
}

// StructuredLoggerWithConfig builds the logging middleware from config.
func StructuredLoggerWithConfig(config StructuredLoggerConfig) gin.HandlerFunc {
	skip := make(map[string]bool, len(config.SkipPaths)+1)
	for _, p := range config.SkipPaths {
		skip[p] = true
	}
	if config.SkipHealthCheck {
		skip["/health"] = true
	}

	log := logger.HTTP()

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if skip[path] {
			c.Next()
			return
		}

		start := time.Now()
		raw := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		evt := log.Info()
		switch {
		case status >= 500:
			evt = log.Error()
		case status >= 400:
			evt = log.Warn()
		}

		evt = evt.
			Str("request_id", GetRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Int64("duration_ms", duration.Milliseconds()).
			Str("client_ip", c.ClientIP())

		if config.LogQuery && raw != "" {
			evt = evt.Str("query", raw)
		}
		if principal, exists := c.Get(AuthenticatedPrincipalKey); exists {
			evt = evt.Interface("principal", principal)
		}
		if len(c.Errors) > 0 {
			evt = evt.Str("errors", c.Errors.String())
		}

		evt.Msg("request")
	}
}
