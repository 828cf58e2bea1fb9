package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/barterlabs/go-barter/service/logger"
	"github.com/barterlabs/go-barter/service/persist"
	"github.com/barterlabs/go-barter/service/tenant"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin dashboards subscribe to the feed; auth is per-tenant.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventsFeed streams a tenant's loop events over a websocket. Each connection
// gets its own dispatcher subscription; slow readers drop events rather than
// stall delivery.
func eventsFeed(engine *tenant.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := engine.Runtime(persist.TenantID(c.Param("tenant")))
		if err != nil {
			statusForError(c, err)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.For(c).Errorf("ws: upgrade failed: %s", err)
			return
		}

		events := r.Dispatcher().Subscribe()
		done := make(chan struct{})

		// Reader loop: we only care about control frames and disconnects.
		go func() {
			defer close(done)
			conn.SetReadLimit(512)
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(wsPongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(wsPingPeriod)
		defer func() {
			ticker.Stop()
			r.Dispatcher().Unsubscribe(events)
			conn.Close()
		}()

		for {
			select {
			case payload, ok := <-events:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if !ok {
					conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := conn.WriteJSON(payload); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}
}
