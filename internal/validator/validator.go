// Package validator wraps go-playground/validator/v10 with the custom
// rules the control plane's request bodies need: dependency package names
// (rejecting path traversal and URLs, per spec §4.4) and environment-map
// keys (valid identifiers, per spec §3's 64-key/10KiB session env limit).
package validator

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/kweaver-ai/sandboxctl/internal/errors"
	"github.com/kweaver-ai/sandboxctl/internal/middleware"
	"github.com/kweaver-ai/sandboxctl/internal/models"
)

var validate *validator.Validate

// pkgNameRE matches a bare package name/version specifier only — no path
// separators, no scheme, no traversal sequences. Deliberately conservative.
var pkgNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}(==[A-Za-z0-9.]+)?$`)

var envKeyRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)

func init() {
	validate = validator.New()
	validate.RegisterValidation("pkgname", validatePackageName)
	validate.RegisterValidation("envkey", validateEnvKey)
}

// ValidateStruct validates a struct using its `validate` tags.
func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// ValidateRequest validates a struct and returns a field->message map, or
// nil when validation passes.
func ValidateRequest(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrs := make(map[string]string)
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			fieldErrs[strings.ToLower(e.Field())] = formatValidationError(e)
		}
	}
	return fieldErrs
}

// BindAndValidate binds the request JSON body and validates it in one
// step, writing the structured error envelope on failure.
func BindAndValidate(c *gin.Context, req interface{}) bool {
	requestID := middleware.GetRequestID(c)

	if err := c.ShouldBindJSON(req); err != nil {
		appErr := apperrors.InvalidParameter("request body is not valid JSON for this endpoint")
		appErr.Details = err.Error()
		c.JSON(http.StatusBadRequest, appErr.ToResponse(requestID))
		return false
	}

	if errs := ValidateRequest(req); errs != nil {
		appErr := apperrors.InvalidParameter("one or more fields failed validation")
		appErr.Details = formatFieldErrors(errs)
		c.JSON(http.StatusBadRequest, appErr.ToResponse(requestID))
		return false
	}

	return true
}

func formatFieldErrors(errs map[string]string) string {
	parts := make([]string, 0, len(errs))
	for field, msg := range errs {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return strings.Join(parts, "; ")
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "uuid":
		return "must be a valid UUID"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", e.Param())
	case "pkgname":
		return "must be a bare package name, optionally with '==version'; no paths or URLs"
	case "envkey":
		return "must be a valid identifier (letters, digits, underscore; cannot start with a digit)"
	default:
		return fmt.Sprintf("failed validation: %s", e.Tag())
	}
}

// validatePackageName rejects anything resembling a path or URL so the
// container-scheduler's entrypoint script never receives an attacker
// controlled pip target.
func validatePackageName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		return false
	}
	if strings.Contains(name, "://") {
		return false
	}
	return pkgNameRE.MatchString(name)
}

func validateEnvKey(fl validator.FieldLevel) bool {
	return envKeyRE.MatchString(fl.Field().String())
}

// ValidateEnvMap checks a session's env map against spec §3's size and
// identifier rules (models.EnvKeyLimit, models.EnvSizeLimitBytes) outside
// of a gin-bound request struct (used by internal/lifecycle's Create,
// which receives the map programmatically rather than via JSON binding).
func ValidateEnvMap(env map[string]string) error {
	if len(env) > models.EnvKeyLimit {
		return fmt.Errorf("env map has %d keys, exceeding the limit of %d", len(env), models.EnvKeyLimit)
	}
	size := 0
	for k, v := range env {
		if !envKeyRE.MatchString(k) {
			return fmt.Errorf("env key %q is not a valid identifier", k)
		}
		size += len(k) + len(v)
	}
	if size > models.EnvSizeLimitBytes {
		return fmt.Errorf("env map is %d bytes, exceeding the limit of %d", size, models.EnvSizeLimitBytes)
	}
	return nil
}
