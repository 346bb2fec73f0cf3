// Package engine supervises the local inference engine process and talks
// to its HTTP API.
//
// Architecture:
//
//	Engine.EnsureRunning() → probe /api/version
//	  → not ready? spawn "<binary> serve" with the models dir in its env
//	  → poll the probe until ready (bounded), watching for early exit
//	Engine.Chat()/ListModels()/Pull()/... → typed calls against the API
//	Engine.Stop() → graceful kill of the child process
package engine

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-ai/parley/internal/domain"
	"github.com/parley-ai/parley/internal/metrics"
)

// Config controls how the supervisor finds, starts, and probes the engine.
type Config struct {
	Host          string        // base URL of the engine API, e.g. http://127.0.0.1:11434
	Binary        string        // engine executable name, e.g. "ollama"
	ModelsDir     string        // model storage dir, exported to the child process
	HomeDir       string        // Parley home, searched for a bundled binary under bin/
	StartTimeout  time.Duration // how long to wait for readiness after spawn
	ProbeInterval time.Duration // readiness poll interval
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "http://127.0.0.1:11434"
	}
	if c.Binary == "" {
		c.Binary = "ollama"
	}
	if c.StartTimeout == 0 {
		c.StartTimeout = 45 * time.Second
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = 500 * time.Millisecond
	}
}

// Engine supervises one local engine process and exposes its HTTP API.
// It owns the process handle exclusively; the handle is released on Stop
// or when the child dies.
type Engine struct {
	cfg Config
	log zerolog.Logger

	probeClient *http.Client // short timeout, readiness only
	apiClient   *http.Client // long timeout, generation can be slow

	mu     sync.Mutex
	state  domain.EngineState
	cmd    *exec.Cmd
	stderr *limitedBuffer
	exited chan error // closed-over result of cmd.Wait for the current child
}

// New creates an engine supervisor. Nothing is spawned until EnsureRunning.
func New(cfg Config, log zerolog.Logger) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:         cfg,
		log:         log.With().Str("component", "engine").Logger(),
		probeClient: &http.Client{Timeout: 2 * time.Second},
		apiClient:   &http.Client{Timeout: 10 * time.Minute},
		state:       domain.EngineStopped,
	}
}

// State returns the supervisor's current process state.
func (e *Engine) State() domain.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Probe checks engine liveness without starting anything.
func (e *Engine) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Host+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := e.probeClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// EnsureRunning makes sure a local engine is reachable, starting it if
// necessary. Launch failures are logged and reported as false, never as
// an error: callers treat false as "local backend unavailable".
func (e *Engine) EnsureRunning(ctx context.Context) bool {
	if e.Probe(ctx) {
		e.mu.Lock()
		if e.state != domain.EngineRunning {
			e.state = domain.EngineRunning
		}
		e.mu.Unlock()
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == domain.EngineStarting || e.state == domain.EngineStopping {
		// Another caller is mid-transition; let it finish.
		return false
	}
	// The first probe ran unlocked. A concurrent caller may have finished
	// a start while this one waited for the lock; re-check before
	// spawning a second process.
	if e.Probe(ctx) {
		e.state = domain.EngineRunning
		return true
	}
	e.state = domain.EngineStarting

	binPath, err := findBinary(e.cfg.Binary, e.cfg.HomeDir)
	if err != nil {
		e.log.Error().Err(err).Msg("engine binary not found")
		e.state = domain.EngineStopped
		return false
	}

	if e.cfg.ModelsDir != "" {
		if err := os.MkdirAll(e.cfg.ModelsDir, 0o755); err != nil {
			e.log.Warn().Err(err).Str("dir", e.cfg.ModelsDir).Msg("could not create models dir")
		}
	}

	stderr := &limitedBuffer{max: 8192}
	cmd := exec.Command(binPath, "serve")
	cmd.Env = append(os.Environ(), "OLLAMA_MODELS="+e.cfg.ModelsDir)
	cmd.Stdout = stderr
	cmd.Stderr = stderr
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		e.log.Error().Err(err).Str("binary", binPath).Msg("engine launch failed")
		e.state = domain.EngineStopped
		return false
	}
	metrics.EngineStarts.Inc()
	e.cmd = cmd
	e.stderr = stderr

	// Watch for the child dying. The same channel doubles as the exit
	// signal Stop waits on later.
	earlyExit := make(chan error, 1)
	e.exited = earlyExit
	go func() { earlyExit <- cmd.Wait() }()

	if err := e.waitForReady(ctx, earlyExit); err != nil {
		out := strings.TrimSpace(stderr.String())
		e.log.Error().Err(err).Str("output", lastLines(out, 10)).Msg("engine did not become ready")
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		e.cmd = nil
		e.state = domain.EngineStopped
		return false
	}

	e.state = domain.EngineRunning
	e.log.Info().Str("binary", binPath).Msg("engine ready")
	return true
}

// waitForReady polls the readiness probe until the deadline, bailing out
// immediately if the child exits. Caller holds e.mu.
func (e *Engine) waitForReady(ctx context.Context, earlyExit <-chan error) error {
	deadline := time.Now().Add(e.cfg.StartTimeout)
	for time.Now().Before(deadline) {
		select {
		case err := <-earlyExit:
			return fmt.Errorf("engine exited during startup: %v", err)
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if e.Probe(ctx) {
			return nil
		}
		time.Sleep(e.cfg.ProbeInterval)
	}
	return fmt.Errorf("engine not ready within %v", e.cfg.StartTimeout)
}

// Stop terminates the child process and releases the handle.
// Safe to call when nothing is running.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd == nil || e.cmd.Process == nil {
		e.state = domain.EngineStopped
		return
	}
	e.state = domain.EngineStopping

	_ = e.cmd.Process.Kill()

	// The early-exit watcher owns cmd.Wait; wait for it with a timeout
	// to avoid blocking forever on a wedged process.
	if e.exited != nil {
		select {
		case <-e.exited:
		case <-time.After(5 * time.Second):
		}
	}

	e.cmd = nil
	e.exited = nil
	e.state = domain.EngineStopped
	e.log.Info().Msg("engine stopped")
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// findBinary searches for the engine executable: the Parley bin dir
// first, then PATH.
func findBinary(name, homeDir string) (string, error) {
	exe := name
	if runtime.GOOS == "windows" {
		exe += ".exe"
	}

	if homeDir != "" {
		binPath := filepath.Join(homeDir, "bin", exe)
		if _, err := os.Stat(binPath); err == nil {
			return binPath, nil
		}
	}

	if path, err := exec.LookPath(exe); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("%s not found in %s or PATH — install the local engine or switch to remote mode",
		name, filepath.Join(homeDir, "bin"))
}

// lastLines returns at most n trailing lines of s.
func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// limitedBuffer is a thread-safe buffer that keeps only the last N bytes.
// Used to capture engine output without unbounded memory usage.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.buf.Write(p)
	if b.buf.Len() > b.max {
		data := b.buf.Bytes()
		b.buf.Reset()
		b.buf.Write(data[len(data)-b.max:])
	}
	return n, err
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
