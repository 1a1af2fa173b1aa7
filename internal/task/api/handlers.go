package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/kandev/internal/common/errors"
	"github.com/kandev/kandev/internal/common/logger"
	"github.com/kandev/kandev/internal/task/service"
)

// Handler contains HTTP handlers for the Task Store's REST surface.
type Handler struct {
	service *service.Service
	logger  *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc *service.Service, log *logger.Logger) *Handler {
	return &Handler{service: svc, logger: log}
}

// CreateTask creates a new task.
// POST /api/tasks
func (h *Handler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	svcReq := &service.CreateTaskRequest{
		WorkspaceID: req.WorkspaceID,
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		AgentType:   req.AgentType,
		BaseBranch:  req.BaseBranch,
		Model:       req.Model,
	}

	task, err := h.service.CreateTask(c.Request.Context(), svcReq)
	if err != nil {
		h.writeError(c, "failed to create task", err)
		return
	}

	c.JSON(http.StatusCreated, taskToResponse(task))
}

// GetTask retrieves a task by ID.
// GET /api/tasks/:taskId
func (h *Handler) GetTask(c *gin.Context) {
	taskID := c.Param("taskId")

	task, err := h.service.GetTask(c.Request.Context(), taskID)
	if err != nil {
		h.writeError(c, "failed to get task", err)
		return
	}

	c.JSON(http.StatusOK, taskToResponse(task))
}

// ListTasks lists the tasks of one workspace; workspaceId is required.
// GET /api/tasks?workspaceId=
func (h *Handler) ListTasks(c *gin.Context) {
	workspaceID := c.Query("workspaceId")
	if workspaceID == "" {
		appErr := errors.BadRequest("workspaceId is required")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	tasks, err := h.service.ListTasks(c.Request.Context(), workspaceID)
	if err != nil {
		h.writeError(c, "failed to list tasks", err)
		return
	}

	resp := TasksListResponse{Tasks: make([]*TaskResponse, len(tasks)), Total: len(tasks)}
	for i, t := range tasks {
		resp.Tasks[i] = taskToResponse(t)
	}

	c.JSON(http.StatusOK, resp)
}

// UpdateTask applies a partial update to a task.
// PATCH /api/tasks/:taskId
func (h *Handler) UpdateTask(c *gin.Context) {
	taskID := c.Param("taskId")

	var req UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	svcReq := &service.UpdateTaskRequest{
		Title:       req.Title,
		Description: req.Description,
		Model:       req.Model,
	}

	task, err := h.service.UpdateTask(c.Request.Context(), taskID, svcReq)
	if err != nil {
		h.writeError(c, "failed to update task", err)
		return
	}

	c.JSON(http.StatusOK, taskToResponse(task))
}

// UpdateKanbanStatus moves a task between todo/doing/done.
// PATCH /api/tasks/:taskId/kanban-status
func (h *Handler) UpdateKanbanStatus(c *gin.Context) {
	taskID := c.Param("taskId")

	var req UpdateKanbanStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	task, err := h.service.UpdateKanbanStatus(c.Request.Context(), taskID, req.KanbanStatus)
	if err != nil {
		h.writeError(c, "failed to update kanban status", err)
		return
	}

	c.JSON(http.StatusOK, taskToResponse(task))
}

// DeleteTask deletes a task, rejected while it has an active execution.
// DELETE /api/tasks/:taskId
func (h *Handler) DeleteTask(c *gin.Context) {
	taskID := c.Param("taskId")

	if err := h.service.DeleteTask(c.Request.Context(), taskID); err != nil {
		h.writeError(c, "failed to delete task", err)
		return
	}

	c.Status(http.StatusNoContent)
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
