package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kandev/kandev/internal/common/logger"
	"github.com/kandev/kandev/internal/hostregistry"
)

// SetupRoutes configures the Host Registry's REST routes under router
// (expected to be mounted at /api/hosts).
func SetupRoutes(router *gin.RouterGroup, registry *hostregistry.Registry, log *logger.Logger) {
	handler := NewHandler(registry, log)

	router.GET("", handler.ListHosts)
	router.GET("/:hostId/models", handler.Models)
}
