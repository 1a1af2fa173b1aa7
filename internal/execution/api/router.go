package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kandev/kandev/internal/common/logger"
	"github.com/kandev/kandev/internal/eventlog"
	"github.com/kandev/kandev/internal/execution"
	"github.com/kandev/kandev/internal/task/service"
)

// SetupRoutes configures the Execution Engine's REST routes under router
// (expected to be mounted at /api/tasks, alongside internal/task/api's
// CRUD routes on the same group).
func SetupRoutes(router *gin.RouterGroup, engine *execution.Engine, store eventlog.Store, tasks *service.Service, log *logger.Logger) {
	handler := NewHandler(engine, store, tasks, log)

	router.POST("/:taskId/execute", handler.Execute)
	router.POST("/:taskId/abort", handler.Abort)
	router.POST("/:taskId/input", handler.Input)
	router.POST("/:taskId/cleanup", handler.Cleanup)
	router.GET("/:taskId/execution-status", handler.ExecutionStatus)
	router.GET("/:taskId/runs", handler.Runs)
	router.GET("/:taskId/runs/:executionId/events", handler.Events)
}
