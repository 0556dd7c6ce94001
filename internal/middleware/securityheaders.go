// Package middleware provides HTTP middleware for the control plane's API.
// This file adds the baseline response headers for a JSON-only API with no
// browser-rendered surface: no CSP nonce machinery, no frame-ancestors
// carve-outs, just the headers that matter for a service consumed by HTTP
// clients and reverse proxies.
package middleware

import (
	"github.com/gin-gonic/gin"
)

// SecurityHeaders adds HSTS, content-type sniffing protection, and
// cache-control hardening to every response. Apply to all routes.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")

		if c.Request.URL.Path != "/health" && c.Request.URL.Path != "/metrics" {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, private")
		}

		c.Header("Server", "")
		c.Next()
	}
}

// SecurityHeadersRelaxed drops Cache-Control enforcement for local development,
// where proxies and browser devtools benefit from cacheable responses.
func SecurityHeadersRelaxed() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	}
}
