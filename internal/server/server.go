// Package server provides HTTP and WebSocket handlers: the Delivery
// transport (WebSocket broadcast of transcription.Message) and the
// ControlPlane REST surface (recording start/stop/cancel, mode switch,
// backend reload, status) described in spec §5/§6. Grounded on the
// teacher's rate-limited WebSocket connection pattern and trace middleware,
// retargeted from chat/LLM streaming to transcript broadcast.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/0xPD33/sonori-platform/internal/config"
	"github.com/0xPD33/sonori-platform/internal/delivery"
	"github.com/0xPD33/sonori-platform/internal/registry"
	"github.com/0xPD33/sonori-platform/internal/transcription"
	"github.com/0xPD33/sonori-platform/internal/trace"
)

// Message types exchanged over the WebSocket connection.
type TranscriptMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

type RateLimitedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type controlRequest struct {
	Type string `json:"type"`
	Mode string `json:"mode,omitempty"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// ProcessorCommands is the subset of processor.Processor the server needs:
// a sink for ManualSessionCommands from the REST surface.
type ProcessorCommands interface {
	Commands() chan<- transcription.ManualSessionCommand
}

// Server handles HTTP and WebSocket connections, bridging the
// delivery.Broadcaster to any number of WebSocket subscribers and routing
// REST requests to the processor and backend registry.
type Server struct {
	broadcaster *delivery.Broadcaster
	processor   ProcessorCommands
	reg         *registry.Registry

	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New creates a Server wired to the pipeline's broadcaster, processor
// command sink, and backend registry.
func New(broadcaster *delivery.Broadcaster, processor ProcessorCommands, reg *registry.Registry, _ *config.Config) *Server {
	return &Server{
		broadcaster: broadcaster,
		processor:   processor,
		reg:         reg,
		conns:       make(map[*websocket.Conn]struct{}),
		rateLimits:  make(map[*websocket.Conn]*rateLimiter),
	}
}

// Handler returns the HTTP handler for the whole server surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("POST /api/recording/cancel", s.handleRecordingCancel)
	mux.HandleFunc("POST /api/mode", s.handleModeSwitch)
	mux.HandleFunc("POST /api/backend/reload", s.handleBackendReload)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket accepts a connection, subscribes it to the broadcaster,
// and forwards every published Message until the connection or context
// closes (spec §5's N-subscriber broadcast).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	messages, unsubscribe := s.broadcaster.Subscribe()
	defer unsubscribe()

	readErr := make(chan error, 1)
	go s.readLoop(baseCtx, conn, readErr)

	for {
		select {
		case <-baseCtx.Done():
			return
		case err := <-readErr:
			if err != nil {
				log.Debug("websocket read error", "error", err)
			}
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			out := TranscriptMessage{Type: "transcript", Text: msg.Text, SessionID: msg.SessionID}
			if err := wsjson.Write(baseCtx, conn, out); err != nil {
				log.Debug("websocket write error", "error", err)
				return
			}
		}
	}
}

// readLoop drains inbound client frames purely to apply rate limiting and
// detect disconnects; the server doesn't expect structured input over /ws
// beyond keepalive pings.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, done chan<- error) {
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			done <- err
			return
		}

		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()
		if rl != nil && !rl.allow() {
			_ = wsjson.Write(ctx, conn, RateLimitedMessage{Type: "error", Message: "rate limit exceeded"})
		}
	}
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	s.sendManual(w, r, transcription.ManualSessionCommand{Kind: transcription.StartSession})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	s.sendManual(w, r, transcription.ManualSessionCommand{Kind: transcription.StopSession})
}

func (s *Server) handleRecordingCancel(w http.ResponseWriter, r *http.Request) {
	s.sendManual(w, r, transcription.ManualSessionCommand{Kind: transcription.CancelSession})
}

func (s *Server) handleModeSwitch(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	mode := transcription.ModeRealTime
	if req.Mode == "manual" {
		mode = transcription.ModeManual
	}

	s.sendManual(w, r, transcription.ManualSessionCommand{Kind: transcription.SwitchMode, NewMode: mode})
}

func (s *Server) sendManual(w http.ResponseWriter, r *http.Request, cmd transcription.ManualSessionCommand) {
	respCh := make(chan error, 1)
	cmd.Responder = respCh

	select {
	case s.processor.Commands() <- cmd:
	case <-r.Context().Done():
		http.Error(w, "request canceled", http.StatusRequestTimeout)
		return
	}

	select {
	case err := <-respCh:
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	case <-r.Context().Done():
		http.Error(w, "request canceled", http.StatusRequestTimeout)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleBackendReload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Backend      string `json:"backend"`
		ModelName    string `json:"model_name"`
		Quantization string `json:"quantization"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cmd := transcription.BackendCommand{
		Kind:      transcription.Reload,
		ModelName: req.ModelName,
		Config: config.BackendConfig{
			Backend:      config.BackendKind(req.Backend),
			ModelName:    req.ModelName,
			Quantization: config.QuantizationLevel(req.Quantization),
		},
	}

	select {
	case s.reg.Commands() <- cmd:
	case <-r.Context().Done():
		http.Error(w, "request canceled", http.StatusRequestTimeout)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]string{"status": "reload_queued"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.reg.Status()
	if status.ErrorFaded(time.Now()) {
		status.State = transcription.StateReady
		status.StatusMessage = ""
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"backend":      status.BackendName,
		"model":        status.ModelName,
		"state":        int(status.State),
		"message":      status.StatusMessage,
		"is_recording": status.IsRecording,
	})
}
