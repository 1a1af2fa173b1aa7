// Package ws implements the client-facing half of the Subscription
// Bus: a websocket Hub that accepts a bidirectional channel protocol
// (task:execute/task:stop/task:input/task:history/kanban:request-sync
// in, task:execution_event/task:status/kanban:sync/host:update out),
// translating it to calls on the Execution Engine, the Subscription
// Bus (internal/subscription), and the Task Store.
//
// The read/write pump pair uses ping/pong keepalive, a buffered send
// channel, and coalesced writes; per-task subscriptions are routed
// through the Subscription Bus rather than bare task-id fan-out so one
// backpressure policy applies to every consumer.
package ws

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/kandev/internal/common/logger"
	"github.com/kandev/kandev/internal/events/bus"
	"github.com/kandev/kandev/internal/execution"
	"github.com/kandev/kandev/internal/hostregistry"
	"github.com/kandev/kandev/internal/subscription"
	"github.com/kandev/kandev/internal/task/service"
	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// Outbound message types, one per server->client event.
const (
	TypeExecutionEvent = "task:execution_event"
	TypeTaskStatus     = "task:status"
	TypeKanbanSync     = "kanban:sync"
	TypeHostUpdate     = "host:update"
	TypeError          = "error"
)

// Inbound actions, one per client->server message.
const (
	ActionExecute      = "task:execute"
	ActionStop         = "task:stop"
	ActionInput        = "task:input"
	ActionHistory      = "task:history"
	ActionRequestSync  = "kanban:request-sync"
)

// InMessage is the client->server envelope; fields irrelevant to Action
// are left zero.
type InMessage struct {
	Action      string       `json:"action"`
	TaskID      string       `json:"task_id,omitempty"`
	AgentType   v1.AgentType `json:"agent_type,omitempty"`
	BaseBranch  string       `json:"base_branch,omitempty"`
	Model       string       `json:"model,omitempty"`
	Content     string       `json:"content,omitempty"`
	SinceSeq    int64        `json:"since_seq,omitempty"`
	WorkspaceID string       `json:"workspace_id,omitempty"`
}

// OutMessage is the server->client envelope.
type OutMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// TaskStatusUpdate is the payload of a task:status message.
type TaskStatusUpdate struct {
	TaskID       string          `json:"task_id"`
	KanbanStatus v1.KanbanStatus `json:"kanban_status"`
}

// Hub tracks connected clients and their per-task subscriptions,
// bridging them to the Subscription Bus and Execution Engine.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]bool

	engine *execution.Engine
	subs   *subscription.Bus
	tasks  *service.Service
	hosts  *hostregistry.Registry
	events bus.EventBus
	log    *logger.Logger
}

// NewHub constructs a Hub wired to the gateway's core components.
func NewHub(engine *execution.Engine, subs *subscription.Bus, tasks *service.Service, hosts *hostregistry.Registry, events bus.EventBus, log *logger.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		engine:  engine,
		subs:    subs,
		tasks:   tasks,
		hosts:   hosts,
		events:  events,
		log:     log,
	}
}

// Run subscribes the hub to host and task lifecycle notifications and
// forwards them to every connected client as host:update / task:status;
// it blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	statusSub, err := h.events.Subscribe("host.*.status", func(ev *bus.Event) {
		h.broadcastAll(OutMessage{Type: TypeHostUpdate, Data: json.RawMessage(ev.Data)})
	})
	if err == nil {
		defer statusSub.Unsubscribe()
	}
	taskSub, err := h.events.Subscribe("task.*.changed", func(ev *bus.Event) {
		h.forwardTaskStatus(ev)
	})
	if err == nil {
		defer taskSub.Unsubscribe()
	}
	<-ctx.Done()
}

// taskChangedEnvelope mirrors task/service's unexported publish payload
// just enough to read the fields this hub cares about.
type taskChangedEnvelope struct {
	TaskID string   `json:"task_id"`
	Before *v1.Task `json:"before,omitempty"`
	After  *v1.Task `json:"after,omitempty"`
}

func (h *Hub) forwardTaskStatus(ev *bus.Event) {
	var envelope taskChangedEnvelope
	if err := json.Unmarshal(ev.Data, &envelope); err != nil {
		return
	}
	if envelope.After == nil {
		return
	}
	if envelope.Before != nil && envelope.Before.KanbanStatus == envelope.After.KanbanStatus {
		return
	}
	h.broadcastAll(OutMessage{Type: TypeTaskStatus, Data: TaskStatusUpdate{
		TaskID:       envelope.TaskID,
		KanbanStatus: envelope.After.KanbanStatus,
	}})
}

// Register adds a newly-connected client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

// Unregister removes c and cancels every subscription goroutine it owns.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.cancelAll()
		close(c.send)
	}
}

func (h *Hub) broadcastAll(msg OutMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.Send(data)
	}
}

// Dispatch handles one inbound client message.
func (h *Hub) Dispatch(ctx context.Context, c *Client, raw []byte) {
	var msg InMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.sendError(c, "invalid message: "+err.Error())
		return
	}

	switch msg.Action {
	case ActionExecute:
		h.handleExecute(ctx, c, msg)
	case ActionStop:
		h.handleStop(ctx, c, msg)
	case ActionInput:
		h.handleInput(ctx, c, msg)
	case ActionHistory:
		h.handleHistory(ctx, c, msg)
	case ActionRequestSync:
		h.handleKanbanSync(ctx, c, msg)
	default:
		h.sendError(c, "unknown action: "+msg.Action)
	}
}

func (h *Hub) handleExecute(ctx context.Context, c *Client, msg InMessage) {
	execID, err := h.engine.StartExecution(ctx, msg.TaskID, execution.StartExecutionRequest{
		AgentType:  msg.AgentType,
		BaseBranch: msg.BaseBranch,
		Model:      msg.Model,
	})
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	h.log.Info("execute requested over websocket", zap.String("task_id", msg.TaskID), zap.String("execution_id", execID))
	c.streamTask(ctx, h, msg.TaskID, 0)
}

func (h *Hub) handleStop(ctx context.Context, c *Client, msg InMessage) {
	if err := h.engine.AbortExecution(ctx, msg.TaskID); err != nil {
		h.sendError(c, err.Error())
	}
}

func (h *Hub) handleInput(ctx context.Context, c *Client, msg InMessage) {
	if _, err := h.engine.SendInput(ctx, msg.TaskID, msg.Content); err != nil {
		h.sendError(c, err.Error())
	}
}

func (h *Hub) handleHistory(ctx context.Context, c *Client, msg InMessage) {
	c.streamTask(ctx, h, msg.TaskID, msg.SinceSeq)
}

func (h *Hub) handleKanbanSync(ctx context.Context, c *Client, msg InMessage) {
	tasks, err := h.tasks.ListTasks(ctx, msg.WorkspaceID)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	c.sendJSON(OutMessage{Type: TypeKanbanSync, Data: tasks})
}

func (h *Hub) sendError(c *Client, message string) {
	c.sendJSON(OutMessage{Type: TypeError, Data: map[string]string{"message": message}})
}
