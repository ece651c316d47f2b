// Package api implements the HTTP and websocket API of the assistant.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/nugget/wfm-assistant/internal/agent"
	"github.com/nugget/wfm-assistant/internal/llm"
	"github.com/nugget/wfm-assistant/internal/mcp"
	"github.com/nugget/wfm-assistant/internal/usage"
	"github.com/nugget/wfm-assistant/internal/web"
	"github.com/nugget/wfm-assistant/internal/wfm"
)

// ChatService processes chat messages. *agent.Orchestrator implements it.
type ChatService interface {
	Process(ctx context.Context, conversationID, userText string, events agent.EventFunc) (agent.Result, error)
	History(conversationID string) []llm.Message
	Reset(conversationID string)
}

// ToolStatus reports on the tool channel. *mcp.Channel implements it.
type ToolStatus interface {
	Ready() bool
	State() mcp.State
	Capabilities() []mcp.Capability
}

// UsageReporter summarizes the usage ledger. *usage.Store implements it.
type UsageReporter interface {
	Summary(ctx context.Context, since time.Time) (*usage.Summary, error)
	SummaryByModel(ctx context.Context, since time.Time) (map[string]*usage.Summary, error)
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func timestamp() string {
	return time.Now().Format(time.RFC3339)
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	chat    ChatService
	tools   ToolStatus
	catalog *wfm.Catalog
	usage   UsageReporter
	logger  *slog.Logger
	server  *http.Server

	markdown goldmark.Markdown
	upgrader websocket.Upgrader
}

// NewServer creates a new API server.
func NewServer(address string, port int, chat ChatService, tools ToolStatus, catalog *wfm.Catalog, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:  address,
		port:     port,
		chat:     chat,
		tools:    tools,
		catalog:  catalog,
		logger:   logger.With("component", "api"),
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// SetUsageStore enables the /usage endpoint.
func (s *Server) SetUsageStore(u UsageReporter) {
	s.usage = u
}

// Handler returns the fully wrapped route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Chat web UI
	web.RegisterRoutes(mux)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)

	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	mux.HandleFunc("GET /conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("DELETE /conversations/{id}", s.handleConversationDelete)

	// Database endpoints
	mux.HandleFunc("GET /collections", s.requireTools(s.handleCollections))
	mux.HandleFunc("GET /collections/{name}", s.requireTools(s.handleCollectionInfo))
	mux.HandleFunc("POST /employees/search", s.requireTools(s.handleEmployeeSearch))
	mux.HandleFunc("POST /payroll/analyze", s.requireTools(s.handlePayrollAnalyze))
	mux.HandleFunc("POST /holidays/upcoming", s.requireTools(s.handleHolidays))
	mux.HandleFunc("POST /activities/daily", s.requireTools(s.handleDailyActivities))
	mux.HandleFunc("GET /reports/workforce", s.requireTools(s.handleWorkforceReport))
	mux.HandleFunc("GET /stats", s.requireTools(s.handleStats))
	mux.HandleFunc("GET /queries", s.handleQueryList)
	mux.HandleFunc("POST /queries/{name}", s.requireTools(s.handleQueryRun))
	mux.HandleFunc("GET /suggestions", s.handleSuggestions)

	mux.HandleFunc("GET /usage", s.handleUsage)

	return s.withLogging(s.withRecover(mux))
}

// Start begins serving HTTP requests. It returns when the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Long enough for a full tool-calling turn sequence.
		WriteTimeout: 10 * time.Minute,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
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
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	})
}

func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("handler panicked", "path", r.URL.Path, "panic", rec)
				s.errorResponse(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireTools answers 503 while the tool channel is down.
func (s *Server) requireTools(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.tools.Ready() {
			s.errorResponse(w, http.StatusServiceUnavailable, "MCP connection not available")
			return
		}
		next(w, r)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]string{"error": message}, s.logger)
}

// queryError maps a catalog error onto an HTTP status.
func (s *Server) queryError(w http.ResponseWriter, err error) {
	var failure *mcp.Failure
	switch {
	case errors.As(err, &failure) && failure.Kind == mcp.FailureNotReady:
		s.errorResponse(w, http.StatusServiceUnavailable, failure.Message)
	case errors.As(err, &failure):
		s.errorResponse(w, http.StatusInternalServerError, failure.Message)
	case errors.Is(err, wfm.ErrInvalidDate):
		s.errorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, wfm.ErrUnknownQuery), errors.Is(err, wfm.ErrUnknownCollection):
		s.errorResponse(w, http.StatusNotFound, err.Error())
	default:
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) ok(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, v, s.logger)
}

// decodeBody decodes an optional JSON body into dst. An empty body
// leaves dst unchanged.
func decodeBody(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// renderMarkdown converts an answer to HTML. Raw HTML in the answer is
// escaped by goldmark's default renderer.
func (s *Server) renderMarkdown(md string) string {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(md), &buf); err != nil {
		s.logger.Debug("markdown render failed", "error", err)
		return ""
	}
	return buf.String()
}
