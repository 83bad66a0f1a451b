// Package api exposes the HTTP surface: a chat endpoint in front of
// the agent loop, health and build endpoints, and a WebSocket that
// streams internal events.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pentland/scribe/internal/agent"
	"github.com/pentland/scribe/internal/buildinfo"
	"github.com/pentland/scribe/internal/events"
	"github.com/pentland/scribe/internal/memory"
)

// Runner processes one chat request to completion.
type Runner interface {
	Run(ctx context.Context, req agent.Request) (*agent.Response, error)
}

// Server is the HTTP API server.
type Server struct {
	logger         *slog.Logger
	listen         string
	runner         Runner
	bus            *events.Bus
	requestTimeout time.Duration
	server         *http.Server

	upgrader websocket.Upgrader
}

// NewServer creates the API server. bus may be nil; the event stream
// endpoint then returns 404. requestTimeout bounds one chat request
// end to end; zero means no deadline.
func NewServer(logger *slog.Logger, listen string, runner Runner, bus *events.Bus, requestTimeout time.Duration) *Server {
	return &Server{
		logger:         logger,
		listen:         listen,
		runner:         runner,
		bus:            bus,
		requestTimeout: requestTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/info", s.handleInfo)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleEvents)
	return s.withLogging(mux)
}

// Start serves HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.listen,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Agent rounds can be slow
	}
	s.logger.Info("api server listening", "addr", s.listen)
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// ChatRequest is the /api/chat request body.
type ChatRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id,omitempty"`
	ParticipantID  string `json:"participant_id,omitempty"`
	Kind           string `json:"kind,omitempty"` // direct or multi
}

// ChatResponse is the /api/chat response body.
type ChatResponse struct {
	Content string `json:"content"`
	State   string `json:"state"`
	Rounds  int    `json:"rounds"`
	Model   string `json:"model,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		s.errorResponse(w, http.StatusBadRequest, "text is required")
		return
	}

	kind := memory.KindDirect
	if req.Kind == string(memory.KindMultiParty) {
		kind = memory.KindMultiParty
	}

	ctx := r.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	resp, err := s.runner.Run(ctx, agent.Request{
		Text:           req.Text,
		ConversationID: req.ConversationID,
		ParticipantID:  req.ParticipantID,
		Kind:           kind,
	})
	if err != nil {
		s.logger.Error("agent loop failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "agent error")
		return
	}

	s.writeJSON(w, http.StatusOK, ChatResponse{
		Content: resp.Content,
		State:   string(resp.State),
		Rounds:  resp.Rounds,
		Model:   resp.Model,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, buildinfo.Info())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvents upgrades to WebSocket and forwards bus events until the
// client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		http.NotFound(w, r)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(sub)

	// Reader goroutine: detect client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
