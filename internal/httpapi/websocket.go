package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/auth"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the fronting proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS serves turns over a WebSocket: the client sends one JSON turn
// request per message and receives that turn's events back as JSON, ending
// with {"type":"done"}. The connection stays open for further turns.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	metrics.StreamSubscribers.Inc()
	defer metrics.StreamSubscribers.Dec()

	conn.SetReadLimit(64 << 10)
	conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		return nil
	})

	for {
		var req turnRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Message == "" {
			if err := conn.WriteJSON(map[string]string{"type": "error", "content": "message required"}); err != nil {
				return
			}
			continue
		}

		sessionID := s.touchSession(r.Context(), userID, req.SessionID)
		if !s.streamTurn(conn, r, userID, sessionID, req.Message) {
			return
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
	}
}

// streamTurn writes one turn's events to the connection. Returns false
// when the connection is no longer usable.
func (s *Server) streamTurn(conn *websocket.Conn, r *http.Request, userID, sessionID, message string) bool {
	events := s.runner.RunTurn(r.Context(), userID, sessionID, message)

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return false
		case evt, open := <-events:
			if !open {
				err := conn.WriteJSON(map[string]string{"type": "done", "session_id": sessionID})
				return err == nil
			}
			if err := conn.WriteJSON(evt); err != nil {
				return false
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(10*time.Second)); err != nil {
				s.logger.Debug("WebSocket ping failed", zap.String("user_id", userID))
				return false
			}
		}
	}
}
