package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parley-ai/parley/internal/domain"
)

// registryCache holds a fetched registry list in memory with an on-disk
// mirror so a fresh process can serve stale-but-valid data without a
// network round trip. Disk I/O is best effort.
type registryCache struct {
	ttl  time.Duration
	path string // empty disables the disk layer

	mu        sync.Mutex
	models    []domain.ModelDescriptor
	fetchedAt time.Time
}

type cacheFile struct {
	Models    []domain.ModelDescriptor `json:"models"`
	FetchedAt time.Time                `json:"fetchedAt"`
}

func newRegistryCache(ttl time.Duration, path string) *registryCache {
	c := &registryCache{ttl: ttl, path: path}
	c.loadDisk()
	return c
}

// get returns the cached list when present and within TTL.
func (c *registryCache) get() ([]domain.ModelDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.models) == 0 || time.Since(c.fetchedAt) > c.ttl {
		return nil, false
	}
	out := make([]domain.ModelDescriptor, len(c.models))
	copy(out, c.models)
	return out, true
}

func (c *registryCache) put(models []domain.ModelDescriptor) {
	c.mu.Lock()
	c.models = make([]domain.ModelDescriptor, len(models))
	copy(c.models, models)
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	c.saveDisk()
}

// clear drops both layers. Clearing an already empty cache is a no-op.
func (c *registryCache) clear() {
	c.mu.Lock()
	c.models = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
	if c.path != "" {
		os.Remove(c.path)
	}
}

func (c *registryCache) status() domain.CacheStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.models) == 0 {
		return domain.CacheStatus{}
	}
	age := time.Since(c.fetchedAt)
	return domain.CacheStatus{
		HasCache:   true,
		AgeSeconds: int64(age.Seconds()),
		IsExpired:  age > c.ttl,
	}
}

func (c *registryCache) loadDisk() {
	if c.path == "" {
		return
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}
	c.mu.Lock()
	c.models = f.Models
	c.fetchedAt = f.FetchedAt
	c.mu.Unlock()
}

func (c *registryCache) saveDisk() {
	if c.path == "" {
		return
	}
	c.mu.Lock()
	f := cacheFile{Models: c.models, FetchedAt: c.fetchedAt}
	c.mu.Unlock()
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(c.path, data, 0o644)
}
