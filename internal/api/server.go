// Package api is SEL's transport: a JSON HTTP API and a WebSocket
// bridge in front of the conversation orchestrator, plus read-only
// introspection endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sel-agent/sel/internal/agent"
	"github.com/sel-agent/sel/internal/buildinfo"
	"github.com/sel-agent/sel/internal/presence"
	"github.com/sel-agent/sel/internal/router"
	"github.com/sel-agent/sel/internal/speech"
	"github.com/sel-agent/sel/internal/tools"
	"github.com/sel-agent/sel/internal/usage"
)

// maxBodyBytes bounds request bodies, base64 audio included.
const maxBodyBytes = 16 << 20

// writeJSON encodes v as JSON to w, logging any errors at debug level.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Agent is the orchestrator surface the transport needs.
type Agent interface {
	HandleMessage(ctx context.Context, in agent.Inbound) (agent.Reply, bool)
	Conversations() []agent.ConversationInfo
	Stats() agent.Stats
}

// ToolLister lists registered tools.
type ToolLister interface {
	List() []tools.Tool
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	agent   Agent
	logger  *slog.Logger
	server  *http.Server

	mu          sync.RWMutex
	presence    *presence.Tracker
	detector    *router.Detector
	tools       ToolLister
	usage       *usage.Store
	synthesizer speech.Synthesizer
	transcriber speech.Transcriber
}

// NewServer creates a new API server.
func NewServer(address string, port int, a Agent, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		agent:   a,
		logger:  logger,
	}
}

// SetPresence enables the presence endpoints.
func (s *Server) SetPresence(t *presence.Tracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = t
}

// SetDetector enables the router introspection endpoints.
func (s *Server) SetDetector(d *router.Detector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detector = d
}

// SetTools enables GET /v1/tools.
func (s *Server) SetTools(l ToolLister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = l
}

// SetUsage enables GET /v1/usage.
func (s *Server) SetUsage(u *usage.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = u
}

// SetSpeech enables audio in and out of message frames. Either side
// may be nil.
func (s *Server) SetSpeech(tts speech.Synthesizer, stt speech.Transcriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synthesizer = tts
	s.transcriber = stt
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Conversation transport
	mux.HandleFunc("POST /v1/messages", s.handleMessage)
	mux.HandleFunc("GET /v1/ws", s.handleWebSocket)

	// Presence
	mux.HandleFunc("GET /v1/presence", s.handlePresenceList)
	mux.HandleFunc("POST /v1/presence", s.handlePresenceUpdate)
	mux.HandleFunc("DELETE /v1/presence/{id}", s.handlePresenceDelete)

	// Introspection
	mux.HandleFunc("GET /v1/conversations", s.handleConversations)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.HandleFunc("GET /v1/router/stats", s.handleRouterStats)
	mux.HandleFunc("GET /v1/router/audit", s.handleRouterAudit)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()
	if ctx.Err() != nil {
		return http.ErrServerClosed
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

// requestError carries an HTTP status for a rejected message.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func statusOf(err error) int {
	var re *requestError
	if errors.As(err, &re) {
		return re.status
	}
	return http.StatusInternalServerError
}

// MessageRequest is one inbound message. Audio, when set, is
// transcribed and replaces Text.
type MessageRequest struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name,omitempty"`
	Text           string `json:"text,omitempty"`
	IsFromSelf     bool   `json:"is_from_self,omitempty"`
	Audio          []byte `json:"audio,omitempty"`
	AudioFilename  string `json:"audio_filename,omitempty"`
	Speak          bool   `json:"speak,omitempty"`
}

// MessageResponse is the reply to a handled message.
type MessageResponse struct {
	agent.Reply
	Transcript string `json:"transcript,omitempty"`
	Audio      []byte `json:"audio,omitempty"`
}

// converse runs one message through transcription, the orchestrator
// and synthesis. handled is false when the orchestrator ignored it.
func (s *Server) converse(ctx context.Context, req MessageRequest) (resp MessageResponse, handled bool, err error) {
	if req.ConversationID == "" || req.SenderID == "" {
		return resp, false, &requestError{http.StatusBadRequest, "conversation_id and sender_id are required"}
	}

	s.mu.RLock()
	tts, stt := s.synthesizer, s.transcriber
	s.mu.RUnlock()

	text := req.Text
	if len(req.Audio) > 0 {
		if stt == nil {
			return resp, false, &requestError{http.StatusBadRequest, "speech is not configured"}
		}
		name := req.AudioFilename
		if name == "" {
			name = "audio.webm"
		}
		text, err = stt.Transcribe(ctx, req.Audio, name)
		if err != nil {
			s.logger.Warn("transcription failed", "conversation", req.ConversationID, "error", err)
			return resp, false, &requestError{http.StatusBadGateway, "transcription failed"}
		}
		resp.Transcript = text
	}
	if text == "" {
		return resp, false, &requestError{http.StatusBadRequest, "text or audio is required"}
	}

	name := req.SenderName
	if name == "" {
		name = req.SenderID
	}
	reply, ok := s.agent.HandleMessage(ctx, agent.Inbound{
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		SenderName:     name,
		Text:           text,
		IsFromSelf:     req.IsFromSelf,
	})
	if !ok {
		return resp, false, nil
	}
	resp.Reply = reply

	if req.Speak && tts != nil {
		audio, err := tts.Synthesize(ctx, reply.Text)
		switch {
		case errors.Is(err, speech.ErrNothingToSay):
		case err != nil:
			s.logger.Warn("speech synthesis failed", "conversation", req.ConversationID, "error", err)
		default:
			resp.Audio = audio
		}
	}
	return resp, true, nil
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, handled, err := s.converse(r.Context(), req)
	if err != nil {
		s.errorResponse(w, statusOf(err), err.Error())
		return
	}
	if !handled {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, resp, s.logger)
}

// PresenceUpdate is a member's presence change.
type PresenceUpdate struct {
	UserID     string   `json:"user_id"`
	Name       string   `json:"name,omitempty"`
	Status     string   `json:"status"`
	Activities []string `json:"activities,omitempty"`
}

func (s *Server) presenceTracker(w http.ResponseWriter) *presence.Tracker {
	s.mu.RLock()
	t := s.presence
	s.mu.RUnlock()
	if t == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "presence not configured")
	}
	return t
}

func (s *Server) applyPresence(t *presence.Tracker, u PresenceUpdate) error {
	if u.UserID == "" || u.Status == "" {
		return &requestError{http.StatusBadRequest, "user_id and status are required"}
	}
	t.Update(u.UserID, u.Name, u.Status, u.Activities)
	return nil
}

func (s *Server) handlePresenceList(w http.ResponseWriter, r *http.Request) {
	t := s.presenceTracker(w)
	if t == nil {
		return
	}
	entries := t.Entries()
	writeJSON(w, map[string]any{
		"count":   len(entries),
		"members": entries,
	}, s.logger)
}

func (s *Server) handlePresenceUpdate(w http.ResponseWriter, r *http.Request) {
	t := s.presenceTracker(w)
	if t == nil {
		return
	}
	var u PresenceUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&u); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.applyPresence(t, u); err != nil {
		s.errorResponse(w, statusOf(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePresenceDelete(w http.ResponseWriter, r *http.Request) {
	t := s.presenceTracker(w)
	if t == nil {
		return
	}
	t.Remove(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	convs := s.agent.Conversations()
	writeJSON(w, map[string]any{
		"count":         len(convs),
		"conversations": convs,
	}, s.logger)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.agent.Stats(), s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	l := s.tools
	s.mu.RUnlock()
	if l == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "tools not configured")
		return
	}
	list := l.List()
	writeJSON(w, map[string]any{
		"count": len(list),
		"tools": list,
	}, s.logger)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	store := s.usage
	s.mu.RUnlock()
	if store == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage ledger not configured")
		return
	}

	hours := parseIntParam(r, "hours", 24)
	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)
	ctx := r.Context()

	total, err := store.Summary(ctx, start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}
	byModel, err := store.SummaryByModel(ctx, start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}
	byPurpose, err := store.SummaryByPurpose(ctx, start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}

	writeJSON(w, map[string]any{
		"hours":      hours,
		"total":      total,
		"by_model":   byModel,
		"by_purpose": byPurpose,
	}, s.logger)
}

func (s *Server) routerDetector(w http.ResponseWriter) *router.Detector {
	s.mu.RLock()
	d := s.detector
	s.mu.RUnlock()
	if d == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
	}
	return d
}

func (s *Server) handleRouterStats(w http.ResponseWriter, r *http.Request) {
	d := s.routerDetector(w)
	if d == nil {
		return
	}
	writeJSON(w, d.Stats(), s.logger)
}

func (s *Server) handleRouterAudit(w http.ResponseWriter, r *http.Request) {
	d := s.routerDetector(w)
	if d == nil {
		return
	}
	decisions := d.AuditLog(parseIntParam(r, "limit", 20))
	writeJSON(w, map[string]any{
		"count":     len(decisions),
		"decisions": decisions,
	}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"name":    "SEL",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":               "healthy",
		"uptime":               buildinfo.Uptime().Round(time.Second).String(),
		"active_conversations": s.agent.Stats().ActiveConversations,
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}
