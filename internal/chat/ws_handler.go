package chat

import (
	"net/http"

	"github.com/ageniuscoder/roomtalk/backend/internal/auth"
	"github.com/ageniuscoder/roomtalk/backend/internal/httpx"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow CORS for demo; tighten in prod.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterWS mounts GET /ws for authenticated clients.
// Auth works via:
// 1) Header: Authorization: Bearer <JWT>
// 2) Query:  ?token=<JWT>
//
// The token is checked before the upgrade, so a bad credential gets a plain
// 401 the client can tell apart from a network failure.
func RegisterWS(rg gin.IRoutes, router *Router, verifier auth.Verifier) {
	rg.GET("/ws", func(c *gin.Context) {
		token := auth.TokenFromRequest(c.Request)
		if token == "" {
			httpx.Err(c, http.StatusUnauthorized, "missing token")
			return
		}
		userID, err := verifier.Verify(token)
		if err != nil {
			httpx.Err(c, http.StatusUnauthorized, "invalid token")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			router.log.Debug("upgrade failed", zap.Error(err))
			return
		}

		client := newClient(router.hub, conn, userID, router.opts)
		if !router.hub.Register(client) {
			conn.Close()
			return
		}

		go client.writePump(router.opts)
		go client.readPump(router)
	})
}
