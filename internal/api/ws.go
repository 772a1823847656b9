package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openvigil/vigil/detection-server/internal/logger"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleDetectionsWS streams detection events to one WebSocket client. The
// hub subscription carries a small per-client buffer, so a slow client loses
// events there instead of stalling the detection loop.
func (s *Server) handleDetectionsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error(logModule, "WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	id, events := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)
	logger.Info(logModule, "WebSocket client connected: %s", r.RemoteAddr)

	// The read loop exists to notice the client going away; inbound
	// messages are discarded.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			logger.Info(logModule, "WebSocket client disconnected: %s", r.RemoteAddr)
			return
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug(logModule, "WebSocket write failed: %v", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
