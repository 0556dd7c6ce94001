package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kweaver-ai/sandboxctl/internal/cache"
	"github.com/kweaver-ai/sandboxctl/internal/db"
	apperrors "github.com/kweaver-ai/sandboxctl/internal/errors"
	"github.com/kweaver-ai/sandboxctl/internal/models"
	"github.com/kweaver-ai/sandboxctl/internal/validator"
)

// templateListCacheTTL is short enough that a freshly created template
// becomes visible within one TTL window even if an update race slips past
// InvalidateCacheMiddleware.
const templateListCacheTTL = 30 * time.Second

// templateRequest is the POST/PUT /templates body (spec §3 Template).
type templateRequest struct {
	Name                 string                `json:"name" validate:"required"`
	Image                string                `json:"image" validate:"required"`
	RuntimeType          string                `json:"runtime_type" validate:"required"`
	DefaultCPU           string                `json:"default_cpu"`
	DefaultMemory        string                `json:"default_memory"`
	DefaultDisk          string                `json:"default_disk"`
	DefaultTimeoutSec    int                   `json:"default_timeout_sec"`
	ResourceRange        models.ResourceRange  `json:"resource_range"`
	PreInstalledPackages []string              `json:"pre_installed_packages" validate:"dive,pkgname"`
	SecurityContext      *models.SecurityContext `json:"security_context"`
}

func registerTemplateRoutes(rg *gin.RouterGroup, deps Deps) {
	templates := rg.Group("/templates")
	if deps.Cache != nil {
		templates.Use(cache.CacheMiddleware(deps.Cache, templateListCacheTTL))
		templates.Use(cache.InvalidateCacheMiddleware(deps.Cache, cache.TemplatePattern()))
	}
	templates.POST("", createTemplate(deps.Templates))
	templates.GET("", listTemplates(deps.Templates))
	templates.GET("/:id", getTemplate(deps.Templates))
	templates.PUT("/:id", updateTemplate(deps.Templates))
	templates.DELETE("/:id", deleteTemplate(deps.Templates, deps.SessionsDB))
}

func createTemplate(templates *db.TemplateDB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req templateRequest
		if !validator.BindAndValidate(c, &req) {
			return
		}
		tmpl := templateFromRequest(&req, models.NewID("tmpl_"))
		if err := templates.CreateTemplate(c.Request.Context(), tmpl); err != nil {
			respondAppErr(c, apperrors.Internal("failed to create template", err))
			return
		}
		respondCreated(c, tmpl)
	}
}

func listTemplates(templates *db.TemplateDB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			result []*models.Template
			err    error
		)
		if c.Query("include_inactive") == "true" {
			result, err = templates.ListTemplates(c.Request.Context())
		} else {
			result, err = templates.ListActiveTemplates(c.Request.Context())
		}
		if err != nil {
			respondAppErr(c, apperrors.Internal("failed to list templates", err))
			return
		}
		respondOK(c, gin.H{"templates": result})
	}
}

func getTemplate(templates *db.TemplateDB) gin.HandlerFunc {
	return func(c *gin.Context) {
		tmpl, err := templates.GetTemplate(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondAppErr(c, apperrors.NotFound("template", c.Param("id")))
			return
		}
		respondOK(c, tmpl)
	}
}

func updateTemplate(templates *db.TemplateDB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		existing, err := templates.GetTemplate(c.Request.Context(), id)
		if err != nil {
			respondAppErr(c, apperrors.NotFound("template", id))
			return
		}
		var req templateRequest
		if !validator.BindAndValidate(c, &req) {
			return
		}
		tmpl := templateFromRequest(&req, id)
		tmpl.Active = existing.Active
		tmpl.CreatedAt = existing.CreatedAt
		if err := templates.UpdateTemplate(c.Request.Context(), tmpl); err != nil {
			respondAppErr(c, apperrors.Internal("failed to update template", err))
			return
		}
		respondOK(c, tmpl)
	}
}

// deleteTemplate deactivates a template, refusing while any session still
// in status creating/running references it (spec §6).
func deleteTemplate(templates *db.TemplateDB, sessions *db.SessionDB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := templates.GetTemplate(c.Request.Context(), id); err != nil {
			respondAppErr(c, apperrors.NotFound("template", id))
			return
		}
		active, err := sessions.CountActiveByTemplate(c.Request.Context(), id)
		if err != nil {
			respondAppErr(c, apperrors.Internal("failed to check active sessions for template", err))
			return
		}
		if active > 0 {
			respondAppErr(c, apperrors.StateConflict(
				"template has active sessions and cannot be deleted",
				"terminate or wait for all sessions referencing this template to finish, then retry",
			))
			return
		}
		if err := templates.DeactivateTemplate(c.Request.Context(), id); err != nil {
			respondAppErr(c, apperrors.Internal("failed to deactivate template", err))
			return
		}
		c.Status(204)
	}
}

func templateFromRequest(req *templateRequest, id string) *models.Template {
	secCtx := models.DefaultSecurityContext()
	if req.SecurityContext != nil {
		secCtx = *req.SecurityContext
	}
	return &models.Template{
		ID:                   id,
		Name:                 req.Name,
		Image:                req.Image,
		RuntimeType:          req.RuntimeType,
		DefaultCPU:           req.DefaultCPU,
		DefaultMemory:        req.DefaultMemory,
		DefaultDisk:          req.DefaultDisk,
		DefaultTimeoutSec:    req.DefaultTimeoutSec,
		ResourceRange:        req.ResourceRange,
		PreInstalledPackages: req.PreInstalledPackages,
		SecurityContext:      secCtx,
		Active:               true,
	}
}
