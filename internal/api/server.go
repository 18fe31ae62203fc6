// Package api serves the HTTP surface next to the websocket endpoint: health,
// room inspection, the generation endpoint and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"labsync/internal/breaker"
	"labsync/internal/cache"
	"labsync/internal/invoker"
	"labsync/internal/logging"
	"labsync/internal/room"
	"labsync/pkg/interfaces"
	"labsync/pkg/types"
)

// DefaultContextSnippets is how many retrieval snippets a request gets
const DefaultContextSnippets = 3

// RoomDirectory is the read side of the room registry
type RoomDirectory interface {
	List() []room.Summary
	Get(roomID string) (*room.Session, error)
}

// Generator runs resilient generation requests
type Generator interface {
	Invoke(ctx context.Context, req invoker.Request) (types.Document, error)
}

// BreakerStatus reports circuit state for health checks
type BreakerStatus interface {
	Snapshot() breaker.Snapshot
}

// CacheStatus reports cache occupancy and store health
type CacheStatus interface {
	Stats() cache.Stats
	HealthCheck(ctx context.Context) error
}

// ConnectionCounter reports live websocket connections
type ConnectionCounter interface {
	Len() int
}

// Dependencies are the components the API reads from. Nil members disable
// the routes or health fields that need them.
type Dependencies struct {
	Rooms       RoomDirectory
	Generator   Generator
	Retriever   interfaces.Retriever
	Breaker     BreakerStatus
	Cache       CacheStatus
	Connections ConnectionCounter
	WebSocket   http.Handler
	Metrics     http.Handler
}

// ARCHITECTURAL DISCOVERY: HTTP API layer is a pure adapter: no room or
// cache logic lives here, only request decoding and status mapping
type Server struct {
	deps       Dependencies
	router     chi.Router
	logger     *slog.Logger
	retryAfter time.Duration
	started    time.Time
}

// Option configures a Server
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRetryAfter sets the Retry-After hint sent while the circuit is open
func WithRetryAfter(d time.Duration) Option {
	return func(s *Server) { s.retryAfter = d }
}

// NewServer builds the router
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:       deps,
		router:     chi.NewRouter(),
		logger:     logging.NewNop(),
		retryAfter: 60 * time.Second,
		started:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(corsMiddleware)

	if s.deps.WebSocket != nil {
		r.Handle("/ws", s.deps.WebSocket)
	}
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(jsonMiddleware)
		r.Get("/health", s.healthCheck)
		r.Route("/api", func(r chi.Router) {
			r.Get("/rooms", s.listRooms)
			r.Get("/rooms/{roomID}", s.getRoom)
			r.Post("/spectroscopy/generate", s.generateSpectroscopy)
			r.Post("/context", s.retrieveContext)
		})
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization

type GenerateRequest struct {
	Compound   string   `json:"compound"`
	Formula    string   `json:"formula"`
	Techniques []string `json:"techniques,omitempty"`
}

type ContextRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

type ContextResponse struct {
	Context []string `json:"context"`
}

type ListRoomsResponse struct {
	Rooms []room.Summary `json:"rooms"`
}

type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Uptime      string            `json:"uptime"`
	Breaker     *breaker.Snapshot `json:"breaker,omitempty"`
	Cache       *cache.Stats      `json:"cache,omitempty"`
	Store       string            `json:"store,omitempty"`
	Rooms       int               `json:"rooms"`
	Connections int               `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /health never fails: a broken store or open circuit only degrades the
// service
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}

	if s.deps.Breaker != nil {
		snap := s.deps.Breaker.Snapshot()
		resp.Breaker = &snap
		if snap.State != breaker.Closed.String() {
			resp.Status = "degraded"
		}
	}
	if s.deps.Cache != nil {
		stats := s.deps.Cache.Stats()
		resp.Cache = &stats
		resp.Store = "healthy"
		if err := s.deps.Cache.HealthCheck(ctx); err != nil {
			resp.Store = "error: " + err.Error()
			resp.Status = "degraded"
		}
	}
	if s.deps.Rooms != nil {
		resp.Rooms = len(s.deps.Rooms.List())
	}
	if s.deps.Connections != nil {
		resp.Connections = s.deps.Connections.Len()
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// GET /api/rooms
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rooms == nil {
		s.sendError(w, "Rooms unavailable", http.StatusNotImplemented)
		return
	}
	s.writeJSON(w, http.StatusOK, ListRoomsResponse{Rooms: s.deps.Rooms.List()})
}

// GET /api/rooms/{roomID}
func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rooms == nil {
		s.sendError(w, "Rooms unavailable", http.StatusNotImplemented)
		return
	}
	roomID := chi.URLParam(r, "roomID")
	if !types.IsValidRoomID(roomID) {
		s.sendError(w, "Invalid room ID", http.StatusBadRequest)
		return
	}
	session, err := s.deps.Rooms.Get(roomID)
	if errors.Is(err, room.ErrUnknownRoom) {
		s.sendError(w, "Room not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.sendError(w, "Failed to get room", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, session.Snapshot())
}

// POST /api/spectroscopy/generate
func (s *Server) generateSpectroscopy(w http.ResponseWriter, r *http.Request) {
	if s.deps.Generator == nil {
		s.sendError(w, "Generation unavailable", http.StatusNotImplemented)
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	req.Compound = strings.TrimSpace(req.Compound)
	req.Formula = strings.TrimSpace(req.Formula)
	if req.Compound == "" || req.Formula == "" {
		s.sendError(w, "compound and formula are required", http.StatusBadRequest)
		return
	}

	payload := types.Document{
		"compound": req.Compound,
		"formula":  req.Formula,
	}
	if len(req.Techniques) > 0 {
		techniques := make([]any, len(req.Techniques))
		for i, t := range req.Techniques {
			techniques[i] = t
		}
		payload["techniques"] = techniques
	}
	if snippets := s.lookupContext(r.Context(), req.Compound+" "+req.Formula, DefaultContextSnippets); len(snippets) > 0 {
		payload["context"] = strings.Join(snippets, "\n")
	}

	doc, err := s.deps.Generator.Invoke(r.Context(), invoker.Request{
		CacheKey: cache.Key(req.Compound, req.Formula),
		Payload:  payload,
		Validate: invoker.RequireFields("uvVis", "ir"),
	})
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, doc)
	case invoker.IsRetryLater(err):
		w.Header().Set("Retry-After", strconv.Itoa(int(s.retryAfter.Seconds())))
		s.sendError(w, "Generation service temporarily unavailable, retry later", http.StatusServiceUnavailable)
	case errors.Is(err, invoker.ErrGenerationFailed):
		s.logger.Warn("spectroscopy generation failed", "compound", req.Compound, "err", err)
		s.sendError(w, "Failed to generate valid spectroscopy data", http.StatusBadGateway)
	default:
		s.logger.Error("spectroscopy generation", "compound", req.Compound, "err", err)
		s.sendError(w, "Generation error", http.StatusInternalServerError)
	}
}

// POST /api/context
func (s *Server) retrieveContext(w http.ResponseWriter, r *http.Request) {
	var req ContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.sendError(w, "query is required", http.StatusBadRequest)
		return
	}
	k := req.K
	if k <= 0 {
		k = DefaultContextSnippets
	}
	s.writeJSON(w, http.StatusOK, ContextResponse{Context: s.lookupContext(r.Context(), req.Query, k)})
}

// lookupContext treats retrieval as optional: any failure yields no context
func (s *Server) lookupContext(ctx context.Context, query string, k int) []string {
	if s.deps.Retriever == nil {
		return []string{}
	}
	snippets, err := s.deps.Retriever.RetrieveContext(ctx, query, k)
	if err != nil {
		s.logger.Warn("context retrieval failed", "err", err)
		return []string{}
	}
	if snippets == nil {
		return []string{}
	}
	return snippets
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("encode response", "err", err)
	}
}

// Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}
