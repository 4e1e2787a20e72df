// Package api exposes the chat runtime, speech adapter and history store over
// an OpenAI-compatible HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/comigor/localchat/internal/chat"
	"github.com/comigor/localchat/internal/health"
	"github.com/comigor/localchat/internal/history"
	"github.com/comigor/localchat/internal/logger"
	"github.com/comigor/localchat/internal/observe"
)

// ChatRuntime runs chat turns.
type ChatRuntime interface {
	Stream(ctx context.Context, req chat.Request) (*chat.Turn, error)
	Complete(ctx context.Context, req chat.Request) (chat.Result, error)
}

// Speaker renders text as audio of the requested format.
type Speaker interface {
	Render(ctx context.Context, format, text, voice string, speed float64) ([]byte, string, error)
}

type Options struct {
	// Model is reported when a request does not name one.
	Model            string
	CORSAllowOrigins []string
	// Health serves /healthz and /readyz. Defaults to a handler without
	// checkers.
	Health *health.Handler
	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Server holds no per-request state; handlers only translate between HTTP
// and the collaborators passed to New.
type Server struct {
	chat    ChatRuntime
	history history.Store
	speech  Speaker
	opts    Options
	metrics *observe.Metrics
	now     func() time.Time
}

func New(rt ChatRuntime, store history.Store, tts Speaker, opts Options) *Server {
	if opts.Health == nil {
		opts.Health = health.New()
	}
	m := opts.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Server{
		chat:    rt,
		history: store,
		speech:  tts,
		opts:    opts,
		metrics: m,
		now:     time.Now,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(observe.Middleware(s.metrics))

	r.HandleFunc("/v1/chat/completions", s.handleChatCompletions).Methods(http.MethodPost)
	r.HandleFunc("/v1/audio/speech", s.handleSpeech).Methods(http.MethodPost)

	r.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)

	s.opts.Health.Register(r)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// CORS wraps the router so preflight requests never reach method matching.
	return s.cors(r)
}

func (s *Server) cors(next http.Handler) http.Handler {
	wildcard := slices.Contains(s.opts.CORSAllowOrigins, "*")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (wildcard || slices.Contains(s.opts.CORSAllowOrigins, origin)) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Session-ID")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	typ := "invalid_request_error"
	if status >= http.StatusInternalServerError {
		typ = "server_error"
	}
	writeJSON(w, status, map[string]apiError{
		"error": {Message: message, Type: typ, Code: code},
	})
}
