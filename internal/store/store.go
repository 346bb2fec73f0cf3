// Package store provides SQLite-based persistent storage for Parley.
// It is the single keyed store behind the inference config, the model
// path, chat sessions, and the current-session pointer.
// Uses WAL mode for concurrent reads and crash-safe writes.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/parley-ai/parley/internal/domain"
)

// State keys in the keyed store.
const (
	keyModelsPath         = "modelsPath"
	keyInferenceConfig    = "inferenceConfig"
	keyLastUsedLocalModel = "lastUsedLocalModel"
	keyCurrentChatID      = "currentChatId"
)

// Store wraps a SQLite connection with WAL mode and migrations.
// API-key material is sealed at rest when the machine-local secret key
// is available; otherwise values are stored in clear text and
// SecretsEncrypted reports false.
type Store struct {
	db     *sql.DB
	sealer *sealer // nil when secret sealing is unavailable
	log    zerolog.Logger
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and a 5-second busy timeout.
func Open(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	s := &Store{db: db, log: log.With().Str("component", "store").Logger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	sl, err := newSealer(dir)
	if err != nil {
		s.log.Warn().Err(err).Msg("secret key unavailable — API keys will be stored in clear text")
	} else {
		s.sealer = sl
	}

	return s, nil
}

// Close cleanly shuts down the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// SecretsEncrypted reports whether API keys are sealed at rest.
func (s *Store) SecretsEncrypted() bool { return s.sealer != nil }

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS state (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chats (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			mode       TEXT NOT NULL,
			model      TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id        TEXT PRIMARY KEY,
			chat_id   TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			role      TEXT NOT NULL,
			content   TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_updated ON chats(updated_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Keyed state ────────────────────────────────────────────────────────────

// GetState retrieves a value from the keyed store. Missing keys return "".
func (s *Store) GetState(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetState stores a key-value pair, replacing any previous value.
func (s *Store) SetState(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// deleteState removes a key from the keyed store.
func (s *Store) deleteState(key string) error {
	_, err := s.db.Exec(`DELETE FROM state WHERE key = ?`, key)
	return err
}

// ModelsPath returns the configured model storage directory, or "".
func (s *Store) ModelsPath() (string, error) { return s.GetState(keyModelsPath) }

// SetModelsPath persists the model storage directory.
func (s *Store) SetModelsPath(path string) error { return s.SetState(keyModelsPath, path) }

// LastUsedLocalModel returns the most recently used local model, or "".
func (s *Store) LastUsedLocalModel() (string, error) { return s.GetState(keyLastUsedLocalModel) }

// SetLastUsedLocalModel records the most recently used local model.
func (s *Store) SetLastUsedLocalModel(name string) error {
	return s.SetState(keyLastUsedLocalModel, name)
}

// CurrentChatID returns the designated current session id, or "".
func (s *Store) CurrentChatID() (string, error) { return s.GetState(keyCurrentChatID) }

// SetCurrentChatID tracks the current session. An empty id clears it.
func (s *Store) SetCurrentChatID(id string) error {
	if id == "" {
		return s.deleteState(keyCurrentChatID)
	}
	return s.SetState(keyCurrentChatID, id)
}

// ─── Inference config ───────────────────────────────────────────────────────

// storedRemote is the at-rest shape of the credential sub-object.
// Encrypted marks whether APIKey went through the sealer.
type storedRemote struct {
	APIKey       string `json:"apiKey"`
	BaseURL      string `json:"baseUrl"`
	DefaultModel string `json:"defaultModel"`
	Encrypted    bool   `json:"_encrypted"`
}

type storedInference struct {
	Mode   string        `json:"mode"`
	Remote *storedRemote `json:"remoteConfig,omitempty"`
}

// InferenceConfig loads the persisted inference configuration, unsealing
// the API key when it was stored encrypted. Missing state yields the
// default: local mode, no remote credentials.
func (s *Store) InferenceConfig() (domain.InferenceConfig, error) {
	def := domain.InferenceConfig{Mode: domain.ModeLocal}

	raw, err := s.GetState(keyInferenceConfig)
	if err != nil || raw == "" {
		return def, err
	}

	var st storedInference
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return def, fmt.Errorf("decode inference config: %w", err)
	}

	cfg := domain.InferenceConfig{Mode: domain.Mode(st.Mode)}
	if !cfg.Mode.Valid() {
		cfg.Mode = domain.ModeLocal
	}
	if st.Remote != nil {
		key := st.Remote.APIKey
		if st.Remote.Encrypted {
			if s.sealer == nil {
				return def, fmt.Errorf("inference config: API key is sealed but no secret key is available")
			}
			key, err = s.sealer.Open(key)
			if err != nil {
				return def, fmt.Errorf("unseal API key: %w", err)
			}
		}
		cfg.Remote = &domain.RemoteConfig{
			APIKey:       key,
			BaseURL:      st.Remote.BaseURL,
			DefaultModel: st.Remote.DefaultModel,
		}
	}
	return cfg, nil
}

// SetInferenceConfig persists the inference configuration, sealing the
// API key when the secret key is available.
func (s *Store) SetInferenceConfig(cfg domain.InferenceConfig) error {
	st := storedInference{Mode: string(cfg.Mode)}
	if cfg.Remote != nil {
		r := storedRemote{
			APIKey:       cfg.Remote.APIKey,
			BaseURL:      cfg.Remote.BaseURL,
			DefaultModel: cfg.Remote.DefaultModel,
		}
		if s.sealer != nil && r.APIKey != "" {
			sealed, err := s.sealer.Seal(r.APIKey)
			if err != nil {
				return fmt.Errorf("seal API key: %w", err)
			}
			r.APIKey = sealed
			r.Encrypted = true
		}
		st.Remote = &r
	}

	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.SetState(keyInferenceConfig, string(data))
}

// ─── Chat repository ────────────────────────────────────────────────────────

// InsertChat stores a new session together with any seed messages.
func (s *Store) InsertChat(c domain.ChatSession) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO chats (id, title, mode, model, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, string(c.Mode), c.Model,
		c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return err
	}

	for _, m := range c.Messages {
		if _, err := tx.Exec(
			`INSERT INTO messages (id, chat_id, role, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
			m.ID, c.ID, m.Role, m.Content, m.Timestamp.UnixMilli(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetChat loads a session with its messages in append order.
func (s *Store) GetChat(id string) (*domain.ChatSession, error) {
	row := s.db.QueryRow(
		`SELECT id, title, mode, model, created_at, updated_at FROM chats WHERE id = ?`, id,
	)
	c, err := scanChat(row)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, domain.ErrChatNotFound
	}

	rows, err := s.db.Query(
		`SELECT id, role, content, timestamp FROM messages
		 WHERE chat_id = ? ORDER BY timestamp, rowid`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.ChatMessage
		var ts int64
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.Timestamp = time.UnixMilli(ts)
		c.Messages = append(c.Messages, m)
	}
	return c, rows.Err()
}

// ListChats returns all sessions (without messages) ordered by most
// recently updated.
func (s *Store) ListChats() ([]domain.ChatSession, error) {
	rows, err := s.db.Query(
		`SELECT id, title, mode, model, created_at, updated_at
		 FROM chats ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []domain.ChatSession
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

// DeleteChat removes a session and its messages.
func (s *Store) DeleteChat(id string) error {
	result, err := s.db.Exec(`DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return domain.ErrChatNotFound
	}
	// Belt and braces in case foreign keys are off on this connection.
	_, _ = s.db.Exec(`DELETE FROM messages WHERE chat_id = ?`, id)
	return nil
}

// AppendMessage adds a message to a session and bumps updated_at.
// The bump never moves updated_at backwards: migrated history carries
// synthetic past timestamps that must not change the session's place
// in the recency ordering.
func (s *Store) AppendMessage(chatID string, m domain.ChatMessage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE chats SET updated_at = MAX(updated_at, ?) WHERE id = ?`,
		m.Timestamp.UnixMilli(), chatID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrChatNotFound
	}

	if _, err := tx.Exec(
		`INSERT INTO messages (id, chat_id, role, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
		m.ID, chatID, m.Role, m.Content, m.Timestamp.UnixMilli(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateChatTitle renames a session.
func (s *Store) UpdateChatTitle(id, title string) error {
	result, err := s.db.Exec(`UPDATE chats SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return domain.ErrChatNotFound
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanChat(sc scanner) (*domain.ChatSession, error) {
	var c domain.ChatSession
	var mode string
	var createdAt, updatedAt int64

	err := sc.Scan(&c.ID, &c.Title, &mode, &c.Model, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, err
	}

	c.Mode = domain.Mode(mode)
	c.CreatedAt = time.UnixMilli(createdAt)
	c.UpdatedAt = time.UnixMilli(updatedAt)
	return &c, nil
}
