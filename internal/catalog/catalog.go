// Package catalog produces a unified, installation-aware list of models:
// it fetches the remote registry (with a fallback endpoint and a curated
// offline list), estimates sizes for entries that omit them, reconciles
// against locally installed models, and answers disk-space questions.
//
// Catalog and disk operations never return errors to their callers: the
// UI must always have something to render. Failures degrade to the static
// list or to zeroed results with an embedded error string.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/parley-ai/parley/internal/domain"
	"github.com/parley-ai/parley/internal/metrics"
)

// LocalLister is the slice of the engine API the catalog needs for
// installed-model reconciliation.
type LocalLister interface {
	ListModels(ctx context.Context) ([]domain.ModelDescriptor, error)
}

// Config controls registry endpoints, caching, and the disk-space scope.
type Config struct {
	PrimaryURL   string
	SecondaryURL string
	CacheEnabled bool
	CacheTTL     time.Duration
	CachePath    string // on-disk cache location, e.g. $PARLEY_HOME/registry-cache.json
	ModelsDir    string // disk-space queries are scoped here
}

func (c *Config) applyDefaults() {
	if c.PrimaryURL == "" {
		c.PrimaryURL = "https://ollamadb.dev/api/v1/models"
	}
	if c.SecondaryURL == "" {
		c.SecondaryURL = "https://raw.githubusercontent.com/parley-ai/model-index/main/models.json"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
}

// Service implements the model catalog.
type Service struct {
	cfg    Config
	http   *http.Client
	local  LocalLister
	cache  *registryCache // nil when caching is disabled
	sf     singleflight.Group
	statfs func(dir string) (free, total uint64, err error)
	log    zerolog.Logger
}

// New creates a catalog service. local may be nil (no reconciliation).
func New(cfg Config, local LocalLister, log zerolog.Logger) *Service {
	cfg.applyDefaults()
	s := &Service{
		cfg:    cfg,
		http:   &http.Client{Timeout: 15 * time.Second},
		local:  local,
		statfs: platformStatfs,
		log:    log.With().Str("component", "catalog").Logger(),
	}
	if cfg.CacheEnabled {
		s.cache = newRegistryCache(cfg.CacheTTL, cfg.CachePath)
	}
	return s
}

// ─── Registry listing ───────────────────────────────────────────────────────

// ListRegistry returns the installable-model catalog. It never fails:
// primary endpoint → secondary endpoint → curated static list. Entries
// are reconciled against the locally installed models before returning.
func (s *Service) ListRegistry(ctx context.Context, forceRefresh bool) []domain.ModelDescriptor {
	if s.cache != nil && !forceRefresh {
		if models, ok := s.cache.get(); ok {
			metrics.CatalogFetches.WithLabelValues("cache").Inc()
			return s.reconcile(ctx, models)
		}
	}

	// Concurrent callers share one fetch.
	v, _, _ := s.sf.Do("registry", func() (any, error) {
		return s.fetchRegistry(ctx), nil
	})
	models := v.([]domain.ModelDescriptor)

	if s.cache != nil {
		s.cache.put(models)
	}
	return s.reconcile(ctx, models)
}

// fetchRegistry tries each source in order. Total failure degrades to
// the curated static list so the UI always has something to show.
func (s *Service) fetchRegistry(ctx context.Context) []domain.ModelDescriptor {
	if models, err := s.fetchFrom(ctx, s.cfg.PrimaryURL); err == nil {
		metrics.CatalogFetches.WithLabelValues("primary").Inc()
		return models
	} else {
		s.log.Warn().Err(err).Str("url", s.cfg.PrimaryURL).Msg("primary registry fetch failed")
	}

	if models, err := s.fetchFrom(ctx, s.cfg.SecondaryURL); err == nil {
		metrics.CatalogFetches.WithLabelValues("secondary").Inc()
		return models
	} else {
		s.log.Warn().Err(err).Str("url", s.cfg.SecondaryURL).Msg("secondary registry fetch failed")
	}

	metrics.CatalogFetches.WithLabelValues("static").Inc()
	return staticCatalog()
}

// wireModel tolerates the registry's loose field naming. Records whose
// every name variant is empty are skipped (fail closed).
type wireModel struct {
	Name            string   `json:"name"`
	ModelName       string   `json:"model_name"`
	ModelIdentifier string   `json:"model_identifier"`
	Size            int64    `json:"size"`
	SizeBytes       int64    `json:"size_bytes"`
	Tags            []string `json:"tags"`
	Digest          string   `json:"digest"`
	URL             string   `json:"url"`
}

func (w wireModel) canonicalName() string {
	switch {
	case w.Name != "":
		return w.Name
	case w.ModelName != "":
		return w.ModelName
	default:
		return w.ModelIdentifier
	}
}

func (s *Service) fetchFrom(ctx context.Context, url string) ([]domain.ModelDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	// The registry answers either {"models": [...]} or a bare array.
	var wrapped struct {
		Models []wireModel `json:"models"`
	}
	var entries []wireModel
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Models) > 0 {
		entries = wrapped.Models
	} else if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("registry: %w: %v", domain.ErrParse, err)
	}

	models := make([]domain.ModelDescriptor, 0, len(entries))
	for _, e := range entries {
		name := e.canonicalName()
		if name == "" {
			continue
		}
		size := e.SizeBytes
		if size == 0 {
			size = e.Size
		}
		if size == 0 {
			size = EstimateSize(name)
		}
		models = append(models, domain.ModelDescriptor{
			Name:      name,
			SizeBytes: size,
			Tags:      e.Tags,
			Digest:    e.Digest,
			SourceURL: e.URL,
		})
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("registry: %w: no usable entries", domain.ErrParse)
	}
	return models, nil
}

// reconcile cross-references the registry list against the locally
// installed models (exact name match) to set IsInstalled. Best effort:
// a dead engine leaves every entry unmarked.
func (s *Service) reconcile(ctx context.Context, models []domain.ModelDescriptor) []domain.ModelDescriptor {
	out := make([]domain.ModelDescriptor, len(models))
	copy(out, models)

	if s.local == nil {
		return out
	}
	installed, err := s.local.ListModels(ctx)
	if err != nil {
		s.log.Debug().Err(err).Msg("local model list unavailable, skipping reconciliation")
		return out
	}

	names := make(map[string]bool, len(installed))
	for _, m := range installed {
		names[m.Name] = true
	}
	for i := range out {
		out[i].IsInstalled = names[out[i].Name]
	}
	return out
}

// EstimateSize guesses a model's download size from its name.
func (s *Service) EstimateSize(name string) int64 { return EstimateSize(name) }

// ─── Cache control ──────────────────────────────────────────────────────────

// ClearCache invalidates both the in-memory and on-disk cache layers.
// Idempotent: clearing an empty cache is a no-op.
func (s *Service) ClearCache() {
	if s.cache != nil {
		s.cache.clear()
	}
}

// CacheStatus reports the registry cache state.
func (s *Service) CacheStatus() domain.CacheStatus {
	if s.cache == nil {
		return domain.CacheStatus{}
	}
	return s.cache.status()
}

// ─── Disk space ─────────────────────────────────────────────────────────────

// CheckDiskSpace reports whether requiredBytes fit on the models volume.
// Never returns an error; OS failures yield a zeroed result with Err set.
func (s *Service) CheckDiskSpace(requiredBytes int64) domain.DiskSpaceCheck {
	free, _, err := s.statfs(s.cfg.ModelsDir)
	if err != nil {
		return domain.DiskSpaceCheck{RequiredBytes: requiredBytes, Err: err.Error()}
	}
	return domain.DiskSpaceCheck{
		HasEnoughSpace: int64(free) >= requiredBytes,
		FreeBytes:      int64(free),
		RequiredBytes:  requiredBytes,
	}
}

// DiskSpaceInfo returns a live snapshot of the models volume.
// Never returns an error; OS failures yield a zeroed result with Err set.
func (s *Service) DiskSpaceInfo() domain.DiskSpaceInfo {
	free, total, err := s.statfs(s.cfg.ModelsDir)
	if err != nil {
		return domain.DiskSpaceInfo{Err: err.Error()}
	}
	return domain.DiskSpaceInfo{
		FreeBytes:  int64(free),
		TotalBytes: int64(total),
		UsedBytes:  int64(total - free),
	}
}
