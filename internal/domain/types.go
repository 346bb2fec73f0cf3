// Package domain holds the pure data model shared by every Parley service:
// model descriptors, chat sessions, inference configuration, and the
// sentinel errors the router uses for its fallback decisions.
// No infrastructure dependencies belong here.
package domain

import "time"

// ─── Inference mode ─────────────────────────────────────────────────────────

// Mode selects which backend answers a question.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModeLocal || m == ModeRemote }

// ─── Models ─────────────────────────────────────────────────────────────────

// ModelDescriptor describes a model, either discovered in the remote
// registry or reported as installed by the local engine.
type ModelDescriptor struct {
	Name        string   `json:"name"`
	SizeBytes   int64    `json:"sizeBytes"`
	Tags        []string `json:"tags,omitempty"`
	Digest      string   `json:"digest,omitempty"`
	IsInstalled bool     `json:"isInstalled"`
	SourceURL   string   `json:"sourceUrl,omitempty"`
}

// LoadedModel is a model currently resident in the engine's memory.
type LoadedModel struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"sizeBytes"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ─── Inference configuration ────────────────────────────────────────────────

// RemoteConfig holds credentials for the hosted inference API.
// APIKey is sealed at rest when the secret store supports it.
type RemoteConfig struct {
	APIKey       string `json:"apiKey"`
	BaseURL      string `json:"baseUrl"`
	DefaultModel string `json:"defaultModel"`
}

// InferenceConfig is the single persisted mode/credentials record.
type InferenceConfig struct {
	Mode   Mode          `json:"mode"`
	Remote *RemoteConfig `json:"remoteConfig,omitempty"`
}

// ─── Chat sessions ──────────────────────────────────────────────────────────

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatMessage is one turn in a session. Immutable once appended.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSession is a conversation thread. Mode and Model are fixed at
// creation and never change for the life of the session.
type ChatSession struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Mode      Mode          `json:"mode"`
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// LegacyEntry is one question/answer pair from the pre-session flat
// history format. Answer may be empty for an unanswered question.
type LegacyEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ─── Results ────────────────────────────────────────────────────────────────

// AskResult is the router's answer to a question, naming the backend
// that actually produced it.
type AskResult struct {
	Response string `json:"response"`
	Source   Mode   `json:"source"`
	Model    string `json:"model"`
}

// ─── Disk space ─────────────────────────────────────────────────────────────

// DiskSpaceInfo is a live filesystem snapshot, never cached.
// Err is set (and the counters zeroed) when the OS query failed.
type DiskSpaceInfo struct {
	FreeBytes  int64  `json:"freeBytes"`
	TotalBytes int64  `json:"totalBytes"`
	UsedBytes  int64  `json:"usedBytes"`
	Err        string `json:"error,omitempty"`
}

// DiskSpaceCheck answers "does a model of this size fit".
type DiskSpaceCheck struct {
	HasEnoughSpace bool   `json:"hasEnoughSpace"`
	FreeBytes      int64  `json:"freeBytes"`
	RequiredBytes  int64  `json:"requiredBytes"`
	Err            string `json:"error,omitempty"`
}

// ─── Registry cache ─────────────────────────────────────────────────────────

// CacheStatus reports the registry cache state for catalog.status.
type CacheStatus struct {
	HasCache   bool  `json:"hasCache"`
	AgeSeconds int64 `json:"age"`
	IsExpired  bool  `json:"isExpired"`
}

// ─── Engine lifecycle ───────────────────────────────────────────────────────

// EngineState is the supervisor's process state machine.
type EngineState int32

const (
	EngineStopped EngineState = iota
	EngineStarting
	EngineRunning
	EngineStopping
)

func (s EngineState) String() string {
	switch s {
	case EngineStopped:
		return "stopped"
	case EngineStarting:
		return "starting"
	case EngineRunning:
		return "running"
	case EngineStopping:
		return "stopping"
	default:
		return "unknown"
	}
}
