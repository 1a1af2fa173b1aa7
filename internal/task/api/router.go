package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kandev/kandev/internal/common/logger"
	"github.com/kandev/kandev/internal/task/service"
)

// SetupRoutes configures the Task Store's REST routes under router (expected
// to be mounted at /api).
func SetupRoutes(router *gin.RouterGroup, svc *service.Service, log *logger.Logger) {
	handler := NewHandler(svc, log)

	tasks := router.Group("/tasks")
	{
		tasks.POST("", handler.CreateTask)
		tasks.GET("", handler.ListTasks)
		tasks.GET("/:taskId", handler.GetTask)
		tasks.PATCH("/:taskId", handler.UpdateTask)
		tasks.PATCH("/:taskId/kanban-status", handler.UpdateKanbanStatus)
		tasks.DELETE("/:taskId", handler.DeleteTask)
	}
}
