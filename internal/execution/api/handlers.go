package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/kandev/internal/common/errors"
	"github.com/kandev/kandev/internal/common/logger"
	"github.com/kandev/kandev/internal/eventlog"
	"github.com/kandev/kandev/internal/execution"
	"github.com/kandev/kandev/internal/task/service"
	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// Handler contains HTTP handlers for the Execution Engine's REST surface.
type Handler struct {
	engine *execution.Engine
	store  eventlog.Store
	tasks  *service.Service
	logger *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(engine *execution.Engine, store eventlog.Store, tasks *service.Service, log *logger.Logger) *Handler {
	return &Handler{engine: engine, store: store, tasks: tasks, logger: log}
}

// Execute starts a new execution for a task.
// POST /api/tasks/:taskId/execute
func (h *Handler) Execute(c *gin.Context) {
	taskID := c.Param("taskId")

	var req ExecuteRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			appErr := errors.BadRequest(err.Error())
			c.JSON(appErr.HTTPStatus, appErr)
			return
		}
	}

	execID, err := h.engine.StartExecution(c.Request.Context(), taskID, execution.StartExecutionRequest{
		AgentType:    req.AgentType,
		BaseBranch:   req.BaseBranch,
		Model:        req.Model,
		ExplicitHost: req.ExplicitHost,
	})
	if err != nil {
		h.writeError(c, "failed to start execution", err)
		return
	}

	c.JSON(http.StatusAccepted, ExecuteResponse{ExecutionID: execID})
}

// Abort requests cancellation of the task's active execution. Idempotent.
// POST /api/tasks/:taskId/abort
func (h *Handler) Abort(c *gin.Context) {
	taskID := c.Param("taskId")

	if err := h.engine.AbortExecution(c.Request.Context(), taskID); err != nil {
		h.writeError(c, "failed to abort execution", err)
		return
	}

	c.JSON(http.StatusOK, AbortResponse{Accepted: true})
}

// Input forwards best-effort runtime input to the active adapter.
// POST /api/tasks/:taskId/input
func (h *Handler) Input(c *gin.Context) {
	taskID := c.Param("taskId")

	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	delivered, err := h.engine.SendInput(c.Request.Context(), taskID, req.Content)
	if err != nil {
		h.writeError(c, "failed to send input", err)
		return
	}

	c.JSON(http.StatusOK, InputResponse{Delivered: delivered})
}

// Cleanup destroys the worktree of a terminal execution.
// POST /api/tasks/:taskId/cleanup
func (h *Handler) Cleanup(c *gin.Context) {
	taskID := c.Param("taskId")

	cleaned, err := h.engine.CleanupWorktree(c.Request.Context(), taskID)
	if err != nil {
		h.writeError(c, "failed to clean up worktree", err)
		return
	}

	c.JSON(http.StatusOK, CleanupResponse{Cleaned: cleaned})
}

// ExecutionStatus returns the task's current (or most recent) execution.
// GET /api/tasks/:taskId/execution-status
func (h *Handler) ExecutionStatus(c *gin.Context) {
	taskID := c.Param("taskId")

	exec, err := h.currentExecution(c, taskID)
	if err != nil {
		h.writeError(c, "failed to get execution status", err)
		return
	}
	if exec == nil {
		c.JSON(http.StatusOK, gin.H{"execution": nil})
		return
	}

	c.JSON(http.StatusOK, executionToStatus(exec))
}

// Runs lists per-execution summaries for a task, most recent first.
// GET /api/tasks/:taskId/runs
func (h *Handler) Runs(c *gin.Context) {
	taskID := c.Param("taskId")

	runs, err := h.store.ListRuns(c.Request.Context(), taskID)
	if err != nil {
		h.writeError(c, "failed to list runs", err)
		return
	}

	c.JSON(http.StatusOK, RunsListResponse{Runs: runs})
}

// Events returns a paginated, filterable page of one run's timeline.
// GET /api/tasks/:taskId/runs/:executionId/events?offset=&limit=&kind=&agentEventKind=
func (h *Handler) Events(c *gin.Context) {
	taskID := c.Param("taskId")
	executionID := c.Param("executionId")

	exec, err := h.store.GetExecution(c.Request.Context(), executionID)
	if err != nil {
		h.writeError(c, "failed to get execution", err)
		return
	}
	if exec.TaskID != taskID {
		appErr := errors.NotFound("execution", executionID)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	offset := parseIntQuery(c, "offset", 0)
	limit := parseIntQuery(c, "limit", 100)

	// since_seq resumes a poll past events already seen; seq numbers are
	// contiguous from 1, so it maps directly onto the read offset.
	if since := parseIntQuery(c, "since_seq", 0); since > 0 {
		offset = since
	}

	filter := eventlog.Filter{
		Kind:           v1.EventKind(c.Query("kind")),
		AgentEventKind: v1.AgentEventKind(c.Query("agentEventKind")),
	}

	events, err := h.store.Read(c.Request.Context(), executionID, filter, offset, limit)
	if err != nil {
		h.writeError(c, "failed to read events", err)
		return
	}

	c.JSON(http.StatusOK, EventsPageResponse{Events: events, Offset: offset, Limit: limit})
}

// currentExecution resolves a task's live execution, falling back to the
// most recent one on record once currentExecutionId has been cleared at
// run end. Returns (nil, nil) for a task that has never executed.
func (h *Handler) currentExecution(c *gin.Context, taskID string) (*v1.Execution, error) {
	task, err := h.tasks.GetTask(c.Request.Context(), taskID)
	if err != nil {
		return nil, err
	}
	if task.CurrentExecutionID != nil {
		return h.store.GetExecution(c.Request.Context(), *task.CurrentExecutionID)
	}
	return h.store.CurrentExecution(c.Request.Context(), taskID)
}

func parseIntQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
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
