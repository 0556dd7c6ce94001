package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kweaver-ai/sandboxctl/internal/errors"
	"github.com/kweaver-ai/sandboxctl/internal/middleware"
)

// respondError writes an AppError as the structured envelope (spec §7),
// stamping the request's correlation ID.
func respondError(c *gin.Context, err *apperrors.AppError) {
	c.JSON(err.StatusCode, err.ToResponse(middleware.GetRequestID(c)))
}

// respondAppErr writes err if it is already an *AppError, otherwise wraps
// it as an internal error. Handlers call every collaborator method as
// apperrors.AppError, so the fallback branch should never fire in
// practice; it exists so a future collaborator that forgets to wrap an
// error still produces a well-formed response instead of a gin panic.
func respondAppErr(c *gin.Context, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		respondError(c, appErr)
		return
	}
	respondError(c, apperrors.Internal("unexpected error", err))
}

func respondJSON(c *gin.Context, status int, body interface{}) {
	c.JSON(status, body)
}

func respondCreated(c *gin.Context, body interface{}) {
	respondJSON(c, http.StatusCreated, body)
}

func respondOK(c *gin.Context, body interface{}) {
	respondJSON(c, http.StatusOK, body)
}
