package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kandev/kandev/internal/common/logger"
	"github.com/kandev/kandev/internal/events/bus"
	"github.com/kandev/kandev/internal/task/repository"
	"github.com/kandev/kandev/internal/task/service"
	v1 "github.com/kandev/kandev/pkg/api/v1"
)

func setupTestHandler(t *testing.T) (*Handler, *repository.MemoryRepository, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryRepository()
	eventBus := bus.NewMemoryEventBus()
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	svc := service.NewService(repo, eventBus, log)
	handler := NewHandler(svc, log)

	return handler, repo, gin.New()
}

func TestHandler_CreateTask(t *testing.T) {
	handler, _, router := setupTestHandler(t)

	router.POST("/tasks", handler.CreateTask)

	body := CreateTaskRequest{
		WorkspaceID: "ws-1",
		ProjectID:   "proj-1",
		Title:       "Test Task",
		Description: "A test task",
		AgentType:   v1.AgentTypeClaudeCode,
	}
	jsonBody, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp TaskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Title != "Test Task" {
		t.Errorf("expected title 'Test Task', got %s", resp.Title)
	}
	if resp.KanbanStatus != v1.KanbanTodo {
		t.Errorf("expected new task to start in kanban status todo, got %s", resp.KanbanStatus)
	}
}

func TestHandler_CreateTaskMissingAgentType(t *testing.T) {
	handler, _, router := setupTestHandler(t)
	router.POST("/tasks", handler.CreateTask)

	body := CreateTaskRequest{Title: "Test Task"}
	jsonBody, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_GetTask(t *testing.T) {
	handler, repo, router := setupTestHandler(t)
	ctx := context.Background()

	task := &v1.Task{ID: "task-123", WorkspaceID: "ws-1", Title: "Test Task", AgentType: v1.AgentTypeOpenCode}
	_ = repo.CreateTask(ctx, task)

	router.GET("/tasks/:taskId", handler.GetTask)

	req := httptest.NewRequest(http.MethodGet, "/tasks/task-123", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp TaskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Title != "Test Task" {
		t.Errorf("expected title 'Test Task', got %s", resp.Title)
	}
}

func TestHandler_GetTaskNotFound(t *testing.T) {
	handler, _, router := setupTestHandler(t)

	router.GET("/tasks/:taskId", handler.GetTask)

	req := httptest.NewRequest(http.MethodGet, "/tasks/nonexistent", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestHandler_UpdateTask(t *testing.T) {
	handler, repo, router := setupTestHandler(t)
	ctx := context.Background()

	task := &v1.Task{ID: "task-123", WorkspaceID: "ws-1", Title: "Original", AgentType: v1.AgentTypeCodex}
	_ = repo.CreateTask(ctx, task)

	router.PATCH("/tasks/:taskId", handler.UpdateTask)

	body := UpdateTaskRequest{Title: stringPtr("Updated Title")}
	jsonBody, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPatch, "/tasks/task-123", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp TaskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Title != "Updated Title" {
		t.Errorf("expected title 'Updated Title', got %s", resp.Title)
	}
}

func TestHandler_UpdateKanbanStatus(t *testing.T) {
	handler, repo, router := setupTestHandler(t)
	ctx := context.Background()

	task := &v1.Task{ID: "task-123", WorkspaceID: "ws-1", Title: "Test", AgentType: v1.AgentTypeCodex}
	_ = repo.CreateTask(ctx, task)

	router.PATCH("/tasks/:taskId/kanban-status", handler.UpdateKanbanStatus)

	body := UpdateKanbanStatusRequest{KanbanStatus: v1.KanbanDoing}
	jsonBody, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPatch, "/tasks/task-123/kanban-status", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp TaskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.KanbanStatus != v1.KanbanDoing {
		t.Errorf("expected kanban status doing, got %s", resp.KanbanStatus)
	}
}

func TestHandler_DeleteTask(t *testing.T) {
	handler, repo, router := setupTestHandler(t)
	ctx := context.Background()

	task := &v1.Task{ID: "task-123", WorkspaceID: "ws-1", Title: "Test", AgentType: v1.AgentTypeCodex}
	_ = repo.CreateTask(ctx, task)

	router.DELETE("/tasks/:taskId", handler.DeleteTask)

	req := httptest.NewRequest(http.MethodDelete, "/tasks/task-123", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", w.Code)
	}

	if _, err := repo.GetTask(ctx, "task-123"); err == nil {
		t.Error("expected task to be deleted")
	}
}

func TestHandler_DeleteTaskWithActiveExecutionRejected(t *testing.T) {
	handler, repo, router := setupTestHandler(t)
	ctx := context.Background()

	execID := "exec-1"
	task := &v1.Task{ID: "task-123", WorkspaceID: "ws-1", Title: "Test", AgentType: v1.AgentTypeCodex, CurrentExecutionID: &execID}
	_ = repo.CreateTask(ctx, task)

	router.DELETE("/tasks/:taskId", handler.DeleteTask)

	req := httptest.NewRequest(http.MethodDelete, "/tasks/task-123", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d: %s", w.Code, w.Body.String())
	}

	if _, err := repo.GetTask(ctx, "task-123"); err != nil {
		t.Error("expected task to still exist")
	}
}

func TestHandler_ListTasks(t *testing.T) {
	handler, repo, router := setupTestHandler(t)
	ctx := context.Background()

	_ = repo.CreateTask(ctx, &v1.Task{ID: "task-1", WorkspaceID: "ws-1", Title: "Task 1", AgentType: v1.AgentTypeCodex})
	_ = repo.CreateTask(ctx, &v1.Task{ID: "task-2", WorkspaceID: "ws-1", Title: "Task 2", AgentType: v1.AgentTypeCodex})
	_ = repo.CreateTask(ctx, &v1.Task{ID: "task-3", WorkspaceID: "ws-2", Title: "Task 3", AgentType: v1.AgentTypeCodex})

	router.GET("/tasks", handler.ListTasks)

	req := httptest.NewRequest(http.MethodGet, "/tasks?workspaceId=ws-1", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp TasksListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(resp.Tasks) != 2 {
		t.Errorf("expected 2 tasks, got %d", len(resp.Tasks))
	}
}

func stringPtr(s string) *string {
	return &s
}
