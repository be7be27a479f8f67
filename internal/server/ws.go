package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/pollcast/internal/schema"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS streams the changes of one (table, session_id) channel. A client
// that falls behind is disconnected; it reconnects and refetches.
func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	table := schema.Table(r.URL.Query().Get("table"))
	sessionID := r.URL.Query().Get("session_id")
	if !table.Valid() {
		writeJSONError(w, http.StatusBadRequest, "unknown table")
		return
	}
	if sessionID == "" {
		writeJSONError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	// Subscribe before the upgrade so nothing committed after the client's
	// dial returns is missed.
	sub := s.hub.Subscribe(table, sessionID)
	defer s.hub.Unsubscribe(sub)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()
	logger := s.logger.With("table", table, "session_id", sessionID)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case change, ok := <-sub.C():
			if !ok {
				logger.Warn("ws subscriber lagged, disconnecting")
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "lagged"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(change); err != nil {
				logger.Debug("ws write failed", "error", err)
				return
			}
		}
	}
}
