package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kweaver-ai/sandboxctl/internal/execution"
	"github.com/kweaver-ai/sandboxctl/internal/validator"
)

// submitExecutionRequest is the POST /sessions/{id}/execute body (spec §4.2).
type submitExecutionRequest struct {
	Code       string                 `json:"code" validate:"required"`
	Language   string                 `json:"language"`
	Event      map[string]interface{} `json:"event"`
	TimeoutSec int                    `json:"timeout_sec"`
}

func registerExecutionRoutes(rg *gin.RouterGroup, deps Deps) {
	rg.POST("/sessions/:id/execute", submitExecution(deps.Executions))
	rg.GET("/sessions/:id/executions", listExecutions(deps.Executions))
	rg.GET("/executions/:id/status", executionStatus(deps.Executions))
	rg.GET("/executions/:id/result", executionResult(deps.Executions))
}

func submitExecution(engine *execution.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitExecutionRequest
		if !validator.BindAndValidate(c, &req) {
			return
		}
		exec, err := engine.Submit(c.Request.Context(), execution.SubmitRequest{
			SessionID:  c.Param("id"),
			Code:       req.Code,
			Language:   req.Language,
			Event:      req.Event,
			TimeoutSec: req.TimeoutSec,
		})
		if err != nil {
			respondAppErr(c, err)
			return
		}
		respondCreated(c, exec)
	}
}

func executionStatus(engine *execution.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		exec, err := engine.Status(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondAppErr(c, err)
			return
		}
		respondOK(c, exec)
	}
}

func executionResult(engine *execution.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		exec, artifacts, err := engine.Result(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondAppErr(c, err)
			return
		}
		respondOK(c, gin.H{"execution": exec, "artifacts": artifacts})
	}
}

func listExecutions(engine *execution.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		executions, err := engine.ListForSession(c.Request.Context(), c.Param("id"), c.Query("status"), 0)
		if err != nil {
			respondAppErr(c, err)
			return
		}
		respondOK(c, gin.H{"executions": executions})
	}
}
