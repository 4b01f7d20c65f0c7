package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lazypower/autodj/internal/logger"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStateStream pushes the session snapshot every tick interval until the
// client disconnects or the server closes.
func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(r.Context(), "websocket upgrade failed", logger.Err(err))
		return
	}
	defer conn.Close()

	s.metrics.WebsocketConnected()
	defer s.metrics.WebsocketDisconnected()

	// Reads only detect the close frame; clients never send data.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(s.session.Snapshot()); err != nil {
			s.log.Debug(r.Context(), "websocket write failed", logger.Err(err))
			return
		}
		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-s.shutdown:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}
