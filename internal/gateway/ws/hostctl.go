package ws

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/kandev/internal/common/logger"
	"github.com/kandev/kandev/internal/events/bus"
	"github.com/kandev/kandev/internal/hostregistry"
	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// Host control-channel frame types. A worker host connects to /ws/host,
// sends register{capabilities} once, then heartbeat at a fixed interval;
// the gateway marks it offline the moment the socket drops (the liveness
// sweep remains the backstop for hosts that hang without disconnecting).
const (
	hostFrameRegister  = "register"
	hostFrameHeartbeat = "heartbeat"
)

type hostFrame struct {
	Type         string              `json:"type"`
	HostID       string              `json:"host_id,omitempty"`
	Name         string              `json:"name,omitempty"`
	Capabilities v1.HostCapabilities `json:"capabilities,omitempty"`
}

type hostAck struct {
	Type   string `json:"type"`
	HostID string `json:"host_id"`
	Error  string `json:"error,omitempty"`
}

// HostHandler upgrades /ws/host connections and drives the host
// registration/heartbeat protocol for the lifetime of the connection,
// publishing host status transitions on the event bus so connected UI
// clients receive host:update broadcasts.
func HostHandler(registry *hostregistry.Registry, events bus.EventBus, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("host control channel upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		conn.SetReadLimit(maxMessageSize)

		var hostID string
		defer func() {
			if hostID == "" {
				return
			}
			registry.MarkOffline(hostID)
			publishHostStatus(registry, events, log, hostID)
		}()

		for {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			_, message, err := conn.ReadMessage()
			if err != nil {
				if hostID != "" {
					log.Info("host control channel closed", zap.String("host_id", hostID))
				}
				return
			}

			var frame hostFrame
			if err := json.Unmarshal(message, &frame); err != nil {
				writeHostAck(conn, hostAck{Type: "error", Error: "invalid frame: " + err.Error()})
				continue
			}

			switch frame.Type {
			case hostFrameRegister:
				if frame.HostID == "" {
					writeHostAck(conn, hostAck{Type: "error", Error: "host_id is required"})
					continue
				}
				hostID = frame.HostID
				registry.Register(frame.HostID, frame.Name, frame.Capabilities)
				publishHostStatus(registry, events, log, hostID)
				writeHostAck(conn, hostAck{Type: "registered", HostID: hostID})

			case hostFrameHeartbeat:
				if hostID == "" {
					writeHostAck(conn, hostAck{Type: "error", Error: "heartbeat before register"})
					continue
				}
				if err := registry.Heartbeat(hostID); err != nil {
					writeHostAck(conn, hostAck{Type: "error", HostID: hostID, Error: err.Error()})
				}

			default:
				writeHostAck(conn, hostAck{Type: "error", Error: "unknown frame type: " + frame.Type})
			}
		}
	}
}

func writeHostAck(conn *websocket.Conn, ack hostAck) {
	data, err := json.Marshal(ack)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func publishHostStatus(registry *hostregistry.Registry, events bus.EventBus, log *logger.Logger, hostID string) {
	host, err := registry.Get(hostID)
	if err != nil {
		return
	}
	data, err := json.Marshal(host)
	if err != nil {
		return
	}
	if err := events.Publish(bus.HostStatusSubject(hostID), data); err != nil {
		log.Warn("failed to publish host status", zap.String("host_id", hostID), zap.Error(err))
	}
}
