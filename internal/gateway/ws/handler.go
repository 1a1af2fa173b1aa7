package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/kandev/internal/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI is served from a different origin in development; the
	// gateway itself carries no session cookies for the socket to leak,
	// so origin checking is left to whatever reverse proxy terminates
	// TLS in front of it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades /ws connections and runs each client's read/write
// pumps for the lifetime of the connection.
func Handler(hub *Hub, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := NewClient(hub, conn, log)
		hub.Register(client)

		go client.WritePump()
		client.ReadPump(c.Request.Context())
	}
}
