package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kweaver-ai/sandboxctl/internal/lifecycle"
	"github.com/kweaver-ai/sandboxctl/internal/models"
	"github.com/kweaver-ai/sandboxctl/internal/validator"
)

// createSessionRequest is the POST /sessions body (spec §4.1, §6).
type createSessionRequest struct {
	TemplateID      string            `json:"template_id" validate:"required"`
	CPU             string            `json:"cpu"`
	Memory          string            `json:"memory"`
	Disk            string            `json:"disk"`
	Env             map[string]string `json:"env"`
	TimeoutSeconds  int               `json:"timeout_seconds"`
	Mode            string            `json:"mode"`
	AgentAffinityID string            `json:"agent_affinity_id"`
}

func registerSessionRoutes(rg *gin.RouterGroup, deps Deps) {
	sessions := rg.Group("/sessions")
	sessions.POST("", createSession(deps.Sessions))
	sessions.GET("", listSessions(deps.Sessions))
	sessions.GET("/:id", getSession(deps.Sessions))
	sessions.DELETE("/:id", terminateSession(deps.Sessions))
}

func createSession(manager *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createSessionRequest
		if !validator.BindAndValidate(c, &req) {
			return
		}
		session, err := manager.Create(c.Request.Context(), lifecycle.CreateRequest{
			TemplateID:      req.TemplateID,
			CPU:             req.CPU,
			Memory:          req.Memory,
			Disk:            req.Disk,
			Env:             req.Env,
			TimeoutSeconds:  req.TimeoutSeconds,
			Mode:            req.Mode,
			AgentAffinityID: req.AgentAffinityID,
		})
		if err != nil {
			respondAppErr(c, err)
			return
		}
		respondCreated(c, session)
	}
}

func getSession(manager *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := manager.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondAppErr(c, err)
			return
		}
		respondOK(c, session)
	}
}

func listSessions(manager *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		offset, _ := strconv.Atoi(c.Query("offset"))
		sessions, err := manager.List(c.Request.Context(), lifecycle.ListFilter{
			Status: c.Query("status"),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			respondAppErr(c, err)
			return
		}
		if templateID := c.Query("template_id"); templateID != "" {
			sessions = filterByTemplate(sessions, templateID)
		}
		respondOK(c, gin.H{"sessions": sessions})
	}
}

func terminateSession(manager *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := manager.Terminate(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondAppErr(c, err)
			return
		}
		respondOK(c, session)
	}
}

// filterByTemplate narrows a listing to one template; List itself only
// filters by status, so the template_id query filter (spec §6) is applied
// in the handler.
func filterByTemplate(sessions []*models.Session, templateID string) []*models.Session {
	filtered := make([]*models.Session, 0, len(sessions))
	for _, s := range sessions {
		if s.TemplateID == templateID {
			filtered = append(filtered, s)
		}
	}
	return filtered
}
