// Package middleware provides HTTP middleware for the control plane's two
// separately-authenticated surfaces (spec §4.6): the external bearer-token
// API consumed by upstream agents, and the internal shared-secret bearer
// API consumed only by executor callbacks and Container Scheduler
// adapters. The two must never share a credential.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/kweaver-ai/sandboxctl/internal/errors"
)

const (
	AuthenticatedPrincipalKey = "authenticated_principal"
)

// ExternalBearerAuth validates the external API's bearer token against a
// bcrypt hash computed once at process start from the configured secret.
// Token comparison happens via bcrypt, not a raw byte compare, so the
// configured secret is never held in memory as plaintext after startup.
type ExternalBearerAuth struct {
	hash []byte
}

func NewExternalBearerAuth(secret string) (*ExternalBearerAuth, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &ExternalBearerAuth{hash: hash}, nil
}

func (a *ExternalBearerAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := GetRequestID(c)
		token := bearerToken(c)
		if token == "" {
			appErr := apperrors.Unauthorized("missing bearer token")
			c.JSON(http.StatusUnauthorized, appErr.ToResponse(requestID))
			c.Abort()
			return
		}
		if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
			appErr := apperrors.Unauthorized("invalid bearer token")
			c.JSON(http.StatusUnauthorized, appErr.ToResponse(requestID))
			c.Abort()
			return
		}
		c.Set(AuthenticatedPrincipalKey, "external-agent")
		c.Next()
	}
}

// InternalBearerAuth guards the internal callback surface (executor result
// / status / heartbeat / artifacts, container_ready / container_exited).
// The secret is compared with constant-time subtle.ConstantTimeCompare
// since it changes far less often than per-request external tokens and a
// bcrypt round-trip on every heartbeat would be wasteful; IP restriction
// at deploy time (spec §4.6) is the complementary control, applied outside
// this process.
type InternalBearerAuth struct {
	secret []byte
}

func NewInternalBearerAuth(secret string) *InternalBearerAuth {
	return &InternalBearerAuth{secret: []byte(secret)}
}

func (a *InternalBearerAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := GetRequestID(c)
		token := bearerToken(c)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), a.secret) != 1 {
			appErr := apperrors.Unauthorized("invalid internal callback credential")
			c.JSON(http.StatusUnauthorized, appErr.ToResponse(requestID))
			c.Abort()
			return
		}
		c.Set(AuthenticatedPrincipalKey, "internal-callback")
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}
