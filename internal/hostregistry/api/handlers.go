package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/kandev/internal/common/errors"
	"github.com/kandev/kandev/internal/common/logger"
	"github.com/kandev/kandev/internal/hostregistry"
	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// Handler contains HTTP handlers for the Host Registry's REST surface.
type Handler struct {
	registry *hostregistry.Registry
	logger   *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(registry *hostregistry.Registry, log *logger.Logger) *Handler {
	return &Handler{registry: registry, logger: log}
}

// ListHosts lists every host the registry knows about.
// GET /api/hosts
func (h *Handler) ListHosts(c *gin.Context) {
	hosts := h.registry.List()
	resp := HostsListResponse{Hosts: make([]*HostResponse, len(hosts))}
	for i, host := range hosts {
		resp.Hosts[i] = hostToResponse(host)
	}
	c.JSON(http.StatusOK, resp)
}

// Models returns the models a host's agent runtime can drive, one entry
// per agent type the host supports. Asking the live agent runtime for
// its installed model list is an external call out of scope here; this
// falls back to each agent type's well-known default model catalog,
// since v1.Task.Model is a free-text "provider/model" override applied
// on top of it.
// GET /api/hosts/:hostId/models
func (h *Handler) Models(c *gin.Context) {
	hostID := c.Param("hostId")

	host, err := h.registry.Get(hostID)
	if err != nil {
		h.writeError(c, "failed to get host", err)
		return
	}

	var models []v1.AgentModel
	for _, agentType := range host.Capabilities.SupportedAgents {
		models = append(models, hostregistry.DefaultModels(agentType)...)
	}

	c.JSON(http.StatusOK, ModelsResponse{Models: models})
}

func (h *Handler) writeError(c *gin.Context, logMsg string, err error) {
	h.logger.Error(logMsg, zap.Error(err))

	var appErr *errors.AppError
	if e, ok := err.(*errors.AppError); ok {
		appErr = e
	} else {
		appErr = errors.InternalError(logMsg, err)
	}
	c.JSON(appErr.HTTPStatus, appErr)
}
