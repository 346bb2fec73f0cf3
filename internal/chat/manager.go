// Package chat manages conversation sessions: creation, switching,
// message exchange through the inference router, migration of the old
// flat question/answer history, and model pre-warming for local chats.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parley-ai/parley/internal/domain"
)

// chatStore is the slice of the store the manager persists through.
type chatStore interface {
	InsertChat(c domain.ChatSession) error
	GetChat(id string) (*domain.ChatSession, error)
	ListChats() ([]domain.ChatSession, error)
	DeleteChat(id string) error
	AppendMessage(chatID string, m domain.ChatMessage) error
	UpdateChatTitle(id, title string) error
	CurrentChatID() (string, error)
	SetCurrentChatID(id string) error
}

// asker is the slice of the router the manager sends questions through.
type asker interface {
	AskWithSource(ctx context.Context, query string, source domain.Mode, model string, history []domain.ChatMessage) (domain.AskResult, error)
}

// Manager implements chat session lifecycle and message exchange.
type Manager struct {
	store  chatStore
	router asker
	warmer *warmer // nil when no local engine is wired
	log    zerolog.Logger
}

// New creates a chat manager. engine may be nil, which disables
// pre-warming.
func New(store chatStore, router asker, engine domain.LocalEngine, log zerolog.Logger) *Manager {
	m := &Manager{
		store:  store,
		router: router,
		log:    log.With().Str("component", "chat").Logger(),
	}
	if engine != nil {
		m.warmer = newWarmer(engine, m.log)
	}
	return m
}

// Close stops the warm-up workers.
func (m *Manager) Close() {
	if m.warmer != nil {
		m.warmer.close()
	}
}

// ─── Session lifecycle ──────────────────────────────────────────────────────

// Create starts a new session with the given mode and model, makes it
// current, and kicks off a pre-warm for local sessions.
func (m *Manager) Create(mode domain.Mode, model, title string) (*domain.ChatSession, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid mode %q", mode)
	}
	if title == "" {
		title = "New chat"
	}

	now := time.Now()
	session := domain.ChatSession{
		ID:        uuid.NewString(),
		Title:     title,
		Mode:      mode,
		Model:     model,
		Messages:  []domain.ChatMessage{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.InsertChat(session); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	if err := m.store.SetCurrentChatID(session.ID); err != nil {
		m.log.Warn().Err(err).Msg("could not set current chat")
	}

	m.prewarm(mode, model)
	return &session, nil
}

// Get returns one session with its full message history.
func (m *Manager) Get(id string) (*domain.ChatSession, error) {
	return m.store.GetChat(id)
}

// All returns every session, most recently updated first, without
// message bodies.
func (m *Manager) All() ([]domain.ChatSession, error) {
	return m.store.ListChats()
}

// Current returns the id of the active session, or "".
func (m *Manager) Current() (string, error) {
	return m.store.CurrentChatID()
}

// Switch makes an existing session current and pre-warms its model for
// local sessions.
func (m *Manager) Switch(id string) (*domain.ChatSession, error) {
	session, err := m.store.GetChat(id)
	if err != nil {
		return nil, err
	}
	if err := m.store.SetCurrentChatID(id); err != nil {
		return nil, fmt.Errorf("switch chat: %w", err)
	}

	m.prewarm(session.Mode, session.Model)
	return session, nil
}

// Delete removes a session. Deleting the current session clears the
// current-chat pointer.
func (m *Manager) Delete(id string) error {
	if err := m.store.DeleteChat(id); err != nil {
		return err
	}
	if current, err := m.store.CurrentChatID(); err == nil && current == id {
		if err := m.store.SetCurrentChatID(""); err != nil {
			m.log.Warn().Err(err).Msg("could not clear current chat")
		}
	}
	return nil
}

// UpdateTitle renames a session.
func (m *Manager) UpdateTitle(id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title must not be empty")
	}
	return m.store.UpdateChatTitle(id, title)
}

// ─── Messaging ──────────────────────────────────────────────────────────────

// SendMessage appends the user's text to the session, asks the session's
// backend with the prior history, and appends the answer. The user
// message is retained even when inference fails so the user can retry.
func (m *Manager) SendMessage(ctx context.Context, chatID, text string) (*domain.ChatMessage, error) {
	session, err := m.store.GetChat(chatID)
	if err != nil {
		return nil, err
	}

	userMsg := domain.ChatMessage{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	}
	if err := m.store.AppendMessage(chatID, userMsg); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	history := make([]domain.ChatMessage, 0, len(session.Messages))
	for _, msg := range session.Messages {
		if msg.Role == domain.RoleSystem {
			continue
		}
		history = append(history, msg)
	}

	result, err := m.router.AskWithSource(ctx, text, session.Mode, session.Model, history)
	if err != nil {
		return nil, fmt.Errorf("chat %s: %w", chatID, err)
	}

	assistantMsg := domain.ChatMessage{
		ID:        uuid.NewString(),
		Role:      domain.RoleAssistant,
		Content:   result.Response,
		Timestamp: time.Now(),
	}
	if err := m.store.AppendMessage(chatID, assistantMsg); err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}
	return &assistantMsg, nil
}

// ─── Legacy migration ───────────────────────────────────────────────────────

// MigrateLegacy converts the old flat question/answer history into a
// single session. Entries keep their order via synthetic timestamps
// spaced one second apart; an unanswered question migrates without an
// assistant turn. Returns the new session and the migrated message count.
func (m *Manager) MigrateLegacy(entries []domain.LegacyEntry, mode domain.Mode, model string) (*domain.ChatSession, int, error) {
	if len(entries) == 0 {
		return nil, 0, fmt.Errorf("nothing to migrate")
	}
	if !mode.Valid() {
		mode = domain.ModeLocal
	}

	// Synthetic timestamps start far enough back that migrated turns
	// sort before anything written today.
	base := time.Now().Add(-time.Duration(2*len(entries)+1) * time.Second)
	now := time.Now()

	session := domain.ChatSession{
		ID:        uuid.NewString(),
		Title:     "Imported history",
		Mode:      mode,
		Model:     model,
		Messages:  []domain.ChatMessage{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.InsertChat(session); err != nil {
		return nil, 0, fmt.Errorf("migrate: %w", err)
	}

	count := 0
	tick := 0
	for _, e := range entries {
		if strings.TrimSpace(e.Question) == "" {
			continue
		}
		q := domain.ChatMessage{
			ID:        uuid.NewString(),
			Role:      domain.RoleUser,
			Content:   e.Question,
			Timestamp: base.Add(time.Duration(tick) * time.Second),
		}
		tick++
		if err := m.store.AppendMessage(session.ID, q); err != nil {
			return nil, count, fmt.Errorf("migrate question: %w", err)
		}
		count++

		if e.Answer == "" {
			continue
		}
		a := domain.ChatMessage{
			ID:        uuid.NewString(),
			Role:      domain.RoleAssistant,
			Content:   e.Answer,
			Timestamp: base.Add(time.Duration(tick) * time.Second),
		}
		tick++
		if err := m.store.AppendMessage(session.ID, a); err != nil {
			return nil, count, fmt.Errorf("migrate answer: %w", err)
		}
		count++
	}

	m.log.Info().Int("messages", count).Str("chat", session.ID).Msg("legacy history migrated")
	return &session, count, nil
}

// ─── Warm-up ────────────────────────────────────────────────────────────────

// prewarm queues a non-blocking warm-up for local sessions with a
// concrete model.
func (m *Manager) prewarm(mode domain.Mode, model string) {
	if m.warmer == nil || mode != domain.ModeLocal || model == "" {
		return
	}
	m.warmer.enqueue(model)
}
