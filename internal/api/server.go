// Package api provides Parley's HTTP surface: the RPC operations the
// desktop UI calls under /rpc/, plus /health and /metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/parley-ai/parley/internal/domain"
	"github.com/parley-ai/parley/internal/health"
)

// EngineService is the engine surface the RPC layer drives.
type EngineService interface {
	EnsureRunning(ctx context.Context) bool
	Stop()
	State() domain.EngineState
	ListModels(ctx context.Context) ([]domain.ModelDescriptor, error)
	Loaded(ctx context.Context) ([]domain.LoadedModel, error)
	Pull(ctx context.Context, name string, progress func(status string, pct float64)) error
	Delete(ctx context.Context, name string) error
}

// CatalogService is the catalog surface the RPC layer exposes.
type CatalogService interface {
	ListRegistry(ctx context.Context, forceRefresh bool) []domain.ModelDescriptor
	ClearCache()
	CacheStatus() domain.CacheStatus
	CheckDiskSpace(requiredBytes int64) domain.DiskSpaceCheck
	DiskSpaceInfo() domain.DiskSpaceInfo
	EstimateSize(name string) int64
}

// RouterService is the inference routing surface.
type RouterService interface {
	Mode() domain.Mode
	SetMode(mode domain.Mode) error
	Config() domain.InferenceConfig
	SetConfig(cfg domain.InferenceConfig) error
	TestConnection(ctx context.Context) error
	Ask(ctx context.Context, query, model string) (domain.AskResult, error)
	AskWithSource(ctx context.Context, query string, source domain.Mode, model string, history []domain.ChatMessage) (domain.AskResult, error)
	AvailableModels(ctx context.Context) []domain.ModelDescriptor
}

// ChatService is the session-management surface.
type ChatService interface {
	Create(mode domain.Mode, model, title string) (*domain.ChatSession, error)
	Get(id string) (*domain.ChatSession, error)
	All() ([]domain.ChatSession, error)
	Current() (string, error)
	Switch(id string) (*domain.ChatSession, error)
	Delete(id string) error
	UpdateTitle(id, title string) error
	SendMessage(ctx context.Context, chatID, text string) (*domain.ChatMessage, error)
	MigrateLegacy(entries []domain.LegacyEntry, mode domain.Mode, model string) (*domain.ChatSession, int, error)
}

// ModelState is the slice of the store the model.* operations read and
// update.
type ModelState interface {
	LastUsedLocalModel() (string, error)
	SetLastUsedLocalModel(name string) error
}

// Server is the Parley HTTP API server.
type Server struct {
	engine  EngineService
	catalog CatalogService
	router  RouterService
	chats   ChatService
	state   ModelState
	checker *health.Checker
	log     zerolog.Logger

	metricsEnabled bool
	allowedOrigins []string
}

// NewServer creates an API server over the given services.
func NewServer(engine EngineService, catalog CatalogService, router RouterService, chats ChatService, state ModelState, checker *health.Checker, log zerolog.Logger) *Server {
	return &Server{
		engine:  engine,
		catalog: catalog,
		router:  router,
		chats:   chats,
		state:   state,
		checker: checker,
		log:     log.With().Str("component", "api").Logger(),
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetAllowedOrigins restricts CORS to the given origins. Default is any.
func (s *Server) SetAllowedOrigins(origins []string) { s.allowedOrigins = origins }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))

	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/rpc", func(r chi.Router) {
		r.Post("/engine.init", s.handleEngineInit)
		r.Post("/engine.stop", s.handleEngineStop)

		r.Post("/catalog.list", s.handleCatalogList)
		r.Post("/catalog.clearCache", s.handleCatalogClearCache)
		r.Post("/catalog.status", s.handleCatalogStatus)

		r.Post("/disk.checkForModel", s.handleDiskCheckForModel)
		r.Post("/disk.info", s.handleDiskInfo)

		r.Post("/model.getCurrent", s.handleModelGetCurrent)
		r.Post("/model.delete", s.handleModelDelete)
		r.Post("/model.pullAndReplace", s.handleModelPullAndReplace)
		r.Post("/model.available", s.handleModelAvailable)

		r.Post("/inference.getMode", s.handleGetMode)
		r.Post("/inference.setMode", s.handleSetMode)
		r.Post("/inference.getConfig", s.handleGetConfig)
		r.Post("/inference.setConfig", s.handleSetConfig)
		r.Post("/inference.testConnection", s.handleTestConnection)

		r.Post("/ai.ask", s.handleAsk)

		r.Post("/chat.create", s.handleChatCreate)
		r.Post("/chat.getAll", s.handleChatGetAll)
		r.Post("/chat.get", s.handleChatGet)
		r.Post("/chat.getCurrent", s.handleChatGetCurrent)
		r.Post("/chat.switch", s.handleChatSwitch)
		r.Post("/chat.delete", s.handleChatDelete)
		r.Post("/chat.sendMessage", s.handleChatSendMessage)
		r.Post("/chat.updateTitle", s.handleChatUpdateTitle)
		r.Post("/chat.migrate", s.handleChatMigrate)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if s.checker != nil && !s.checker.Healthy() {
		status = http.StatusServiceUnavailable
	}
	body := map[string]any{"status": "ok"}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if s.checker != nil {
		body["checks"] = s.checker.Statuses()
	}
	writeJSON(w, status, body)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}
