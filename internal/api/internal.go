// This file implements the internal callback surface (spec §6): the
// routes executor processes and Container Scheduler adapters call back
// into, authenticated with InternalBearerAuth instead of the external
// token.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kweaver-ai/sandboxctl/internal/execution"
	"github.com/kweaver-ai/sandboxctl/internal/lifecycle"
	"github.com/kweaver-ai/sandboxctl/internal/models"
	"github.com/kweaver-ai/sandboxctl/internal/validator"
)

type executionResultRequest struct {
	Status      string                       `json:"status"`
	Stdout      string                       `json:"stdout"`
	Stderr      string                       `json:"stderr"`
	ExitCode    *int                         `json:"exit_code"`
	ReturnValue interface{}                  `json:"return_value"`
	Metrics     models.ExecutionMetrics      `json:"metrics"`
}

type executionStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type executionArtifactsRequest struct {
	Artifacts []execution.ArtifactPayload `json:"artifacts"`
}

type containerReadyRequest struct {
	ExecutorURL string `json:"executor_url" validate:"required"`
	ContainerID string `json:"container_id"`
	NodeID      string `json:"node_id"`
}

type containerExitedRequest struct {
	ExitCode int    `json:"exit_code"`
	Reason   string `json:"reason"`
}

func registerInternalCallbackRoutes(rg *gin.RouterGroup, deps Deps) {
	rg.POST("/executions/:id/result", internalExecutionResult(deps.Executions))
	rg.POST("/executions/:id/status", internalExecutionStatus(deps.Executions))
	rg.POST("/executions/:id/heartbeat", internalExecutionHeartbeat(deps.Executions))
	rg.POST("/executions/:id/artifacts", internalExecutionArtifacts(deps.Executions))
	rg.POST("/sessions/:id/container_ready", internalContainerReady(deps.Sessions))
	rg.POST("/sessions/:id/container_exited", internalContainerExited(deps.Sessions))
}

func internalExecutionResult(engine *execution.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req executionResultRequest
		if !validator.BindAndValidate(c, &req) {
			return
		}
		idempotencyKey := c.GetHeader("Idempotency-Key")
		exec, err := engine.HandleResult(c.Request.Context(), c.Param("id"), idempotencyKey, execution.ResultPayload{
			Status:      req.Status,
			Stdout:      req.Stdout,
			Stderr:      req.Stderr,
			ExitCode:    req.ExitCode,
			ReturnValue: req.ReturnValue,
			Metrics:     req.Metrics,
		})
		if err != nil {
			respondAppErr(c, err)
			return
		}
		respondOK(c, exec)
	}
}

func internalExecutionStatus(engine *execution.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req executionStatusRequest
		if !validator.BindAndValidate(c, &req) {
			return
		}
		if err := engine.HandleStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
			respondAppErr(c, err)
			return
		}
		c.Status(204)
	}
}

func internalExecutionHeartbeat(engine *execution.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := engine.HandleHeartbeat(c.Request.Context(), c.Param("id")); err != nil {
			respondAppErr(c, err)
			return
		}
		c.Status(204)
	}
}

func internalExecutionArtifacts(engine *execution.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req executionArtifactsRequest
		if !validator.BindAndValidate(c, &req) {
			return
		}
		created, err := engine.HandleArtifacts(c.Request.Context(), c.Param("id"), req.Artifacts)
		if err != nil {
			respondAppErr(c, err)
			return
		}
		respondCreated(c, gin.H{"artifacts": created})
	}
}

func internalContainerReady(manager *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req containerReadyRequest
		if !validator.BindAndValidate(c, &req) {
			return
		}
		if err := manager.ContainerReady(c.Request.Context(), c.Param("id"), req.ContainerID, req.NodeID, req.ExecutorURL); err != nil {
			respondAppErr(c, err)
			return
		}
		c.Status(204)
	}
}

func internalContainerExited(manager *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req containerExitedRequest
		if !validator.BindAndValidate(c, &req) {
			return
		}
		if err := manager.ContainerExited(c.Request.Context(), c.Param("id"), req.ExitCode, req.Reason); err != nil {
			respondAppErr(c, err)
			return
		}
		c.Status(204)
	}
}
