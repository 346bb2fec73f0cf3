package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-ai/parley/internal/api"
	"github.com/parley-ai/parley/internal/catalog"
	"github.com/parley-ai/parley/internal/chat"
	"github.com/parley-ai/parley/internal/domain"
	"github.com/parley-ai/parley/internal/engine"
	"github.com/parley-ai/parley/internal/health"
	"github.com/parley-ai/parley/internal/remote"
	"github.com/parley-ai/parley/internal/router"
	"github.com/parley-ai/parley/internal/store"
)

// Daemon is the core Parley runtime. It wires together all services.
type Daemon struct {
	Config  Config
	Store   *store.Store
	Engine  *engine.Engine
	Catalog *catalog.Service
	Router  *router.Router
	Chats   *chat.Manager
	Health  *health.Checker
	Server  *api.Server

	log    zerolog.Logger
	cancel context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	log := newLogger(cfg.Logging.Level)

	st, err := store.Open(parleyHome(), log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	modelsDir := cfg.Models.Dir
	if modelsDir == "" {
		modelsDir = filepath.Join(parleyHome(), "models")
	}
	// A models path persisted by an earlier run wins over the default.
	if saved, err := st.ModelsPath(); err == nil && saved != "" {
		modelsDir = saved
	} else if err := st.SetModelsPath(modelsDir); err != nil {
		log.Warn().Err(err).Msg("could not persist models path")
	}

	eng := engine.New(engine.Config{
		Host:         cfg.Engine.Host,
		Binary:       cfg.Engine.Binary,
		ModelsDir:    modelsDir,
		HomeDir:      parleyHome(),
		StartTimeout: time.Duration(cfg.Engine.StartTimeoutMS) * time.Millisecond,
	}, log)

	cat := catalog.New(catalog.Config{
		PrimaryURL:   cfg.Registry.PrimaryURL,
		SecondaryURL: cfg.Registry.SecondaryURL,
		CacheEnabled: cfg.Registry.CacheEnabled,
		CacheTTL:     time.Duration(cfg.Registry.CacheTTLMin) * time.Minute,
		CachePath:    filepath.Join(parleyHome(), "registry-cache.json"),
		ModelsDir:    modelsDir,
	}, eng, log)

	factory := func(rc domain.RemoteConfig) domain.RemoteBackend {
		return remote.New(rc, log)
	}
	rt, err := router.New(st, eng, factory, log)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init router: %w", err)
	}

	chats := chat.New(st, rt, eng, log)

	diskFn := func() (int64, string) {
		info := cat.DiskSpaceInfo()
		return info.FreeBytes, info.Err
	}
	checker := health.NewChecker(st, diskFn, eng, log)

	srv := api.NewServer(eng, cat, rt, chats, st, checker, log)
	srv.SetAllowedOrigins(cfg.API.CORSOrigins)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	return &Daemon{
		Config:  cfg,
		Store:   st,
		Engine:  eng,
		Catalog: cat,
		Router:  rt,
		Chats:   chats,
		Health:  checker,
		Server:  srv,
		log:     log,
	}, nil
}

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // generation can be slow
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		d.Chats.Close()
		d.Engine.Stop()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.Store.Close()
	}()

	d.log.Info().Str("addr", addr).Msg("parley serving")
	if d.Config.Telemetry.Prometheus {
		d.log.Info().Str("url", "http://"+addr+"/metrics").Msg("metrics enabled")
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Chats != nil {
		d.Chats.Close()
	}
	if d.Engine != nil {
		d.Engine.Stop()
	}
	if d.Store != nil {
		_ = d.Store.Close()
	}
}

// newLogger builds the root logger at the configured level.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
