package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the router and chat manager depend on them.

// LocalEngine is what the router needs from the supervised engine:
// lifecycle plus the typed HTTP surface of the running process.
type LocalEngine interface {
	// EnsureRunning probes the engine and starts it when necessary.
	// Returns false — never an error — when the engine cannot be reached.
	EnsureRunning(ctx context.Context) bool

	// Chat runs a non-streaming chat completion against the engine.
	Chat(ctx context.Context, model string, messages []ChatMessage) (string, error)

	// ListModels returns the locally installed models.
	ListModels(ctx context.Context) ([]ModelDescriptor, error)

	// Loaded returns models currently resident in engine memory.
	Loaded(ctx context.Context) ([]LoadedModel, error)

	// Pull downloads a model into local storage with progress reporting.
	Pull(ctx context.Context, name string, progress func(status string, pct float64)) error

	// Warm pre-loads a model into engine memory ahead of the first request.
	Warm(ctx context.Context, model string) error
}

// RemoteBackend is what the router needs from the hosted inference API.
type RemoteBackend interface {
	// Ask answers a single-turn question with bounded retry.
	Ask(ctx context.Context, query, model string, retries int) (string, error)

	// Chat runs a multi-turn completion without retry. A zero maxTokens
	// leaves the service's own limit in place.
	Chat(ctx context.Context, model string, messages []ChatMessage, temperature float64, maxTokens int) (string, error)

	// ListModels returns the models the remote service offers.
	ListModels(ctx context.Context) ([]ModelDescriptor, error)

	// TestConnection verifies the service answers with the configured
	// credentials. A nil error means the connection works.
	TestConnection(ctx context.Context) error
}
