package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kweaver-ai/sandboxctl/internal/containersched"
	"github.com/kweaver-ai/sandboxctl/internal/db"
	apperrors "github.com/kweaver-ai/sandboxctl/internal/errors"
)

func registerContainerRoutes(rg *gin.RouterGroup, deps Deps) {
	containers := rg.Group("/containers")
	containers.GET("", listContainers(deps.Containers))
	containers.GET("/:id", getContainer(deps.Containers))
	containers.GET("/:id/logs", getContainerLogs(deps.Containers, deps.Nodes, deps.Schedulers))
}

func listContainers(containers *db.ContainerDB) gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeID := c.Query("node_id")
		if nodeID == "" {
			respondAppErr(c, apperrors.InvalidParameter("node_id query parameter is required"))
			return
		}
		result, err := containers.ListContainersByNode(c.Request.Context(), nodeID)
		if err != nil {
			respondAppErr(c, apperrors.Internal("failed to list containers", err))
			return
		}
		respondOK(c, gin.H{"containers": result})
	}
}

func getContainer(containers *db.ContainerDB) gin.HandlerFunc {
	return func(c *gin.Context) {
		container, err := containers.GetContainer(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondAppErr(c, apperrors.NotFound("container", c.Param("id")))
			return
		}
		respondOK(c, container)
	}
}

func getContainerLogs(containers *db.ContainerDB, nodes *db.NodeDB, schedulers map[string]containersched.ContainerScheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		container, err := containers.GetContainer(c.Request.Context(), id)
		if err != nil {
			respondAppErr(c, apperrors.NotFound("container", id))
			return
		}

		tailLines := 200
		if raw := c.Query("tail"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				tailLines = n
			}
		}

		sched, ok := schedulers[container.RuntimeType]
		if !ok {
			respondAppErr(c, apperrors.DependencyUnavailable("container scheduler adapter", nil))
			return
		}
		logs, err := sched.GetContainerLogs(c.Request.Context(), container.ID, tailLines)
		if err != nil {
			respondAppErr(c, apperrors.DependencyUnavailable("container scheduler adapter", err))
			return
		}
		respondOK(c, gin.H{"container_id": container.ID, "logs": logs})
	}
}
