// Package health runs periodic liveness checks over Parley's moving
// parts and surfaces the results on /health.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Check is a single named health probe.
type Check struct {
	Name    string
	CheckFn func(ctx context.Context) error
}

// Status is the result of one check run.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Pinger reports store liveness.
type Pinger interface {
	Ping() error
}

// Prober reports engine liveness without starting it.
type Prober interface {
	Probe(ctx context.Context) bool
}

// DiskSpaceFn returns free bytes on the models volume, or an error
// string when the query failed.
type DiskSpaceFn func() (freeBytes int64, errMsg string)

// minFreeBytes is the floor below which the disk check reports unhealthy.
const minFreeBytes = 500 * 1024 * 1024

// Checker runs the standard checks on a fixed interval.
type Checker struct {
	interval time.Duration
	checks   []Check
	log      zerolog.Logger

	mu       sync.RWMutex
	statuses []Status
}

// NewChecker builds a checker over the store, the models volume, and
// the engine. engine may be nil, which skips the engine check.
func NewChecker(store Pinger, disk DiskSpaceFn, engine Prober, log zerolog.Logger) *Checker {
	checks := []Check{
		{
			Name: "store",
			CheckFn: func(ctx context.Context) error {
				return store.Ping()
			},
		},
		{
			Name: "disk_space",
			CheckFn: func(ctx context.Context) error {
				free, errMsg := disk()
				if errMsg != "" {
					return fmt.Errorf("disk query failed: %s", errMsg)
				}
				if free < minFreeBytes {
					return fmt.Errorf("only %d bytes free, need %d", free, minFreeBytes)
				}
				return nil
			},
		},
	}
	if engine != nil {
		checks = append(checks, Check{
			Name: "engine",
			// Probe only: a stopped engine is reported, never started.
			CheckFn: func(ctx context.Context) error {
				if !engine.Probe(ctx) {
					return fmt.Errorf("engine not responding")
				}
				return nil
			},
		})
	}

	return &Checker{
		interval: 60 * time.Second,
		checks:   checks,
		log:      log.With().Str("component", "health").Logger(),
	}
}

// Run executes the check loop until ctx is cancelled. Call in a
// goroutine; the first pass runs immediately.
func (c *Checker) Run(ctx context.Context) {
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{Name: check.Name, CheckedAt: time.Now(), Healthy: true}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
			c.log.Warn().Str("check", check.Name).Err(err).Msg("health check failed")
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest results, empty before the first run.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Status, len(c.statuses))
	copy(out, c.statuses)
	return out
}

// Healthy reports whether every check passed on the latest run.
// True before the first run completes.
func (c *Checker) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
