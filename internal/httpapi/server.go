// Package httpapi exposes the turn orchestrator over HTTP: an SSE endpoint
// for submitting turns, a WebSocket variant of the same stream, liveness,
// and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/auth"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/engine"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/metrics"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/session"
)

const heartbeatInterval = 15 * time.Second

// TurnRunner executes one turn. Satisfied by orchestrator.Orchestrator.
type TurnRunner interface {
	RunTurn(ctx context.Context, userID, sessionID, message string) <-chan engine.Event
}

// Sessions is the slice of the session manager the transport uses.
type Sessions interface {
	Touch(ctx context.Context, userID, sessionID, lastWorkflow string) (*session.Session, error)
}

// Server wires the HTTP surface. Sessions may be nil; turn submission
// still works without the bookkeeping.
type Server struct {
	runner   TurnRunner
	sessions Sessions
	authmw   *auth.Middleware
	logger   *zap.Logger
}

func NewServer(runner TurnRunner, sessions Sessions, authmw *auth.Middleware, logger *zap.Logger) *Server {
	return &Server{
		runner:   runner,
		sessions: sessions,
		authmw:   authmw,
		logger:   logger,
	}
}

// RegisterRoutes registers all endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/api/v1/turns", s.authmw.Wrap(http.HandlerFunc(s.handleTurn)))
	mux.Handle("/stream/ws", s.authmw.Wrap(http.HandlerFunc(s.handleWS)))
	mux.HandleFunc("/healthz", s.handleHealth)
}

type turnRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// handleTurn runs one turn and streams its events as SSE.
// POST /api/v1/turns {"session_id": "...", "message": "..."}
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, `{"error":"message required"}`, http.StatusBadRequest)
		return
	}

	userID := auth.UserID(r.Context())
	sessionID := s.touchSession(r.Context(), userID, req.SessionID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.StreamSubscribers.Inc()
	defer metrics.StreamSubscribers.Dec()

	fmt.Fprintf(w, ": session %s\n\n", sessionID)
	flusher.Flush()

	events := s.runner.RunTurn(r.Context(), userID, sessionID, req.Message)

	hb := time.NewTicker(heartbeatInterval)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("SSE client disconnected", zap.String("session_id", sessionID))
			return
		case evt, open := <-events:
			if !open {
				fmt.Fprint(w, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			s.writeSSE(w, evt)
			flusher.Flush()
		case <-hb.C:
			// Keeps proxies from idling the connection out.
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, evt engine.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		s.logger.Warn("Failed to marshal event", zap.Error(err))
		return
	}
	if evt.Type != "" {
		fmt.Fprintf(w, "event: %s\n", evt.Type)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// touchSession records the turn against the session, generating an id when
// the client sent none. Bookkeeping failures never block the turn.
func (s *Server) touchSession(ctx context.Context, userID, sessionID string) string {
	if s.sessions == nil || userID == "" {
		return sessionID
	}
	sess, err := s.sessions.Touch(ctx, userID, sessionID, "")
	if err != nil {
		s.logger.Warn("Session bookkeeping failed",
			zap.String("user_id", userID), zap.Error(err))
		return sessionID
	}
	return sess.ID
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}
