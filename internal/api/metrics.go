package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// handleMetrics adapts promhttp's standard http.Handler into gin, serving
// every collector internal/metrics registered (spec §6 GET /metrics).
func handleMetrics() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
