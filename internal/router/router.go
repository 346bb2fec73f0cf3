// Package router decides which inference backend answers a question.
//
// The router owns the inference mode (local or remote) and the remote
// credentials, both persisted through the store, and implements the
// fallback policy: remote failures that look transient are retried
// against the local engine, configuration mistakes are surfaced as-is.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/parley-ai/parley/internal/domain"
	"github.com/parley-ai/parley/internal/metrics"
)

const (
	defaultLocalModel  = "llama3.2"
	defaultRemoteModel = "gpt-4o-mini"
	remoteAskRetries   = 3
	remoteTemperature  = 0.7
	remoteMaxTokens    = 0 // no cap, the service's own limit applies

	localSystemPrompt = "You are Parley, a helpful assistant running on the user's own machine. Answer clearly and concisely."
)

// stateStore is the slice of the store the router persists through.
type stateStore interface {
	InferenceConfig() (domain.InferenceConfig, error)
	SetInferenceConfig(cfg domain.InferenceConfig) error
	LastUsedLocalModel() (string, error)
	SetLastUsedLocalModel(name string) error
}

// RemoteFactory builds a remote backend for a given configuration.
// Injected so the router can rebuild the client when credentials change.
type RemoteFactory func(cfg domain.RemoteConfig) domain.RemoteBackend

// Router picks local or remote inference per the configured mode and
// applies the remote→local fallback policy.
type Router struct {
	store   stateStore
	local   domain.LocalEngine
	factory RemoteFactory
	log     zerolog.Logger

	mu     sync.RWMutex
	mode   domain.Mode
	remote domain.RemoteBackend // nil until configured
	rcfg   *domain.RemoteConfig // persisted remote settings
}

// New creates a router, restoring mode and remote config from the store.
func New(st stateStore, local domain.LocalEngine, factory RemoteFactory, log zerolog.Logger) (*Router, error) {
	cfg, err := st.InferenceConfig()
	if err != nil {
		return nil, fmt.Errorf("load inference config: %w", err)
	}

	r := &Router{
		store:   st,
		local:   local,
		factory: factory,
		log:     log.With().Str("component", "router").Logger(),
		mode:    cfg.Mode,
	}
	if !r.mode.Valid() {
		r.mode = domain.ModeLocal
	}
	if cfg.Remote != nil && cfg.Remote.APIKey != "" {
		r.rcfg = cfg.Remote
		r.remote = factory(*cfg.Remote)
	}
	return r, nil
}

// ─── Mode and configuration ─────────────────────────────────────────────────

// Mode returns the active inference mode.
func (r *Router) Mode() domain.Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// SetMode switches the inference mode and persists it.
func (r *Router) SetMode(mode domain.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid mode %q", mode)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
	return r.persistLocked()
}

// Config returns the current inference configuration. The API key is
// returned as stored; redaction is the transport layer's job.
func (r *Router) Config() domain.InferenceConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg := domain.InferenceConfig{Mode: r.mode}
	if r.rcfg != nil {
		c := *r.rcfg
		cfg.Remote = &c
	}
	return cfg
}

// SetConfig replaces the inference configuration, rebuilding the remote
// client when credentials are present, and persists the result.
func (r *Router) SetConfig(cfg domain.InferenceConfig) error {
	if !cfg.Mode.Valid() {
		return fmt.Errorf("invalid mode %q", cfg.Mode)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mode = cfg.Mode
	if cfg.Remote != nil && cfg.Remote.APIKey != "" {
		c := *cfg.Remote
		r.rcfg = &c
		r.remote = r.factory(c)
	} else {
		r.rcfg = nil
		r.remote = nil
	}
	return r.persistLocked()
}

// persistLocked writes the current mode+remote config. Caller holds r.mu.
func (r *Router) persistLocked() error {
	cfg := domain.InferenceConfig{Mode: r.mode}
	if r.rcfg != nil {
		c := *r.rcfg
		cfg.Remote = &c
	}
	return r.store.SetInferenceConfig(cfg)
}

// TestConnection checks the remote backend with the stored credentials.
func (r *Router) TestConnection(ctx context.Context) error {
	r.mu.RLock()
	remote := r.remote
	r.mu.RUnlock()
	if remote == nil {
		return remoteUnconfiguredErr()
	}
	return remote.TestConnection(ctx)
}

func remoteUnconfiguredErr() error {
	return fmt.Errorf("%w: set an API key with inference.setConfig before using remote mode", domain.ErrRemoteUnconfigured)
}

// ─── Asking ─────────────────────────────────────────────────────────────────

// Ask answers a single-turn question using the configured mode.
func (r *Router) Ask(ctx context.Context, query, model string) (domain.AskResult, error) {
	if r.Mode() == domain.ModeRemote {
		return r.askRemote(ctx, query, model, nil)
	}
	return r.askLocal(ctx, query, model, nil)
}

// AskWithSource answers with history against an explicit backend,
// bypassing the configured mode. Source must be a valid mode.
func (r *Router) AskWithSource(ctx context.Context, query string, source domain.Mode, model string, history []domain.ChatMessage) (domain.AskResult, error) {
	if source == domain.ModeRemote {
		return r.askRemote(ctx, query, model, history)
	}
	return r.askLocal(ctx, query, model, history)
}

// askLocal answers against the local engine, resolving the model through
// the preference chain and acquiring the default model when nothing is
// installed.
func (r *Router) askLocal(ctx context.Context, query, model string, history []domain.ChatMessage) (domain.AskResult, error) {
	start := time.Now()

	if !r.local.EnsureRunning(ctx) {
		metrics.AskFailures.WithLabelValues("local").Inc()
		return domain.AskResult{}, fmt.Errorf("%w: the engine could not be started", domain.ErrEngineUnavailable)
	}

	resolved, err := r.resolveLocalModel(ctx, model)
	if err != nil {
		metrics.AskFailures.WithLabelValues("local").Inc()
		return domain.AskResult{}, err
	}

	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: localSystemPrompt})
	messages = append(messages, history...)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: query})

	answer, err := r.local.Chat(ctx, resolved, messages)
	if err != nil {
		metrics.AskFailures.WithLabelValues("local").Inc()
		return domain.AskResult{}, fmt.Errorf("local inference with %s: %w", resolved, err)
	}

	if err := r.store.SetLastUsedLocalModel(resolved); err != nil {
		r.log.Warn().Err(err).Msg("could not record last used model")
	}

	metrics.AsksTotal.WithLabelValues("local").Inc()
	metrics.AskLatency.WithLabelValues("local").Observe(time.Since(start).Seconds())
	return domain.AskResult{Response: answer, Source: domain.ModeLocal, Model: resolved}, nil
}

// resolveLocalModel picks the model to run: explicit request, then the
// last used one if still installed, then whatever is loaded, then the
// first installed, and finally the default model pulled on demand.
func (r *Router) resolveLocalModel(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	installed, err := r.local.ListModels(ctx)
	if err != nil {
		return "", fmt.Errorf("list local models: %w", err)
	}
	names := make(map[string]bool, len(installed))
	for _, m := range installed {
		names[m.Name] = true
	}

	if last, err := r.store.LastUsedLocalModel(); err == nil && last != "" && names[last] {
		return last, nil
	}

	if loaded, err := r.local.Loaded(ctx); err == nil && len(loaded) > 0 {
		return loaded[0].Name, nil
	}

	if len(installed) > 0 {
		return installed[0].Name, nil
	}

	// Nothing installed at all: acquire the default model.
	r.log.Info().Str("model", defaultLocalModel).Msg("no local models, pulling default")
	if err := r.local.Pull(ctx, defaultLocalModel, nil); err != nil {
		return "", fmt.Errorf("%w: pulling %s failed: %v", domain.ErrNoValidModel, defaultLocalModel, err)
	}
	return defaultLocalModel, nil
}

// askRemote answers against the hosted API, falling back to the local
// engine when the failure looks transient. A missing API key fails
// immediately and never falls back.
func (r *Router) askRemote(ctx context.Context, query, model string, history []domain.ChatMessage) (domain.AskResult, error) {
	r.mu.RLock()
	remote := r.remote
	rcfg := r.rcfg
	r.mu.RUnlock()

	if remote == nil {
		metrics.AskFailures.WithLabelValues("remote").Inc()
		return domain.AskResult{}, remoteUnconfiguredErr()
	}

	resolved := model
	if resolved == "" && rcfg != nil && rcfg.DefaultModel != "" {
		resolved = rcfg.DefaultModel
	}
	if resolved == "" {
		resolved = defaultRemoteModel
	}

	start := time.Now()
	var answer string
	var err error
	if len(history) > 0 {
		messages := append(append([]domain.ChatMessage{}, history...), domain.ChatMessage{Role: domain.RoleUser, Content: query})
		answer, err = remote.Chat(ctx, resolved, messages, remoteTemperature, remoteMaxTokens)
	} else {
		answer, err = remote.Ask(ctx, query, resolved, remoteAskRetries)
	}
	if err == nil {
		metrics.AsksTotal.WithLabelValues("remote").Inc()
		metrics.AskLatency.WithLabelValues("remote").Observe(time.Since(start).Seconds())
		return domain.AskResult{Response: answer, Source: domain.ModeRemote, Model: resolved}, nil
	}
	metrics.AskFailures.WithLabelValues("remote").Inc()

	if !ShouldFallbackToLocal(err) {
		return domain.AskResult{}, err
	}

	r.log.Warn().Err(err).Msg("remote inference failed, falling back to local")
	metrics.Fallbacks.Inc()
	result, localErr := r.askLocal(ctx, query, "", history)
	if localErr != nil {
		return domain.AskResult{}, fmt.Errorf("remote failed (%v); local fallback failed: %w", err, localErr)
	}
	result.Response += "\n\n(Note: answered by the local model because the remote service was unavailable.)"
	return result, nil
}

// ─── Model listing ──────────────────────────────────────────────────────────

// AvailableModels returns the union of local and remote models. Each
// side is best effort: one backend failing does not hide the other.
func (r *Router) AvailableModels(ctx context.Context) []domain.ModelDescriptor {
	r.mu.RLock()
	remote := r.remote
	r.mu.RUnlock()

	var localModels, remoteModels []domain.ModelDescriptor
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if models, err := r.local.ListModels(gctx); err == nil {
			localModels = models
		}
		return nil
	})
	g.Go(func() error {
		if remote == nil {
			return nil
		}
		if models, err := remote.ListModels(gctx); err == nil {
			remoteModels = models
		}
		return nil
	})
	_ = g.Wait()

	seen := make(map[string]bool, len(localModels)+len(remoteModels))
	out := make([]domain.ModelDescriptor, 0, len(localModels)+len(remoteModels))
	for _, m := range append(localModels, remoteModels...) {
		if seen[m.Name] {
			continue
		}
		seen[m.Name] = true
		out = append(out, m)
	}
	return out
}

// ─── Fallback classification ────────────────────────────────────────────────

// ShouldFallbackToLocal classifies a remote failure: configuration and
// request mistakes must surface to the user, transient backend trouble
// re-routes to the local engine. Unclassified errors fall back.
func ShouldFallbackToLocal(err error) bool {
	if err == nil {
		return false
	}

	var se *domain.StatusError
	if errors.As(err, &se) {
		switch {
		case se.Status == 400 || se.Status == 401 || se.Status == 403:
			return false
		case se.Status >= 500:
			return true
		case se.Kind == domain.KindNetwork:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"unauthorized", "api key", "bad request"} {
		if strings.Contains(msg, s) {
			return false
		}
	}
	for _, s := range []string{"timeout", "network", "econnrefused", "connection refused"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return true
}
