package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/parley-ai/parley/internal/domain"
)

// decode reads a JSON request body into v. A missing body decodes to
// the zero value so parameterless POSTs stay simple.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrChatNotFound), errors.Is(err, domain.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAuth), errors.Is(err, domain.ErrRemoteUnconfigured):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrEngineUnavailable), errors.Is(err, domain.ErrNoValidModel):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// ─── Engine ─────────────────────────────────────────────────────────────────

func (s *Server) handleEngineInit(w http.ResponseWriter, r *http.Request) {
	started := s.engine.EnsureRunning(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"running": started,
		"state":   s.engine.State().String(),
	})
}

func (s *Server) handleEngineStop(w http.ResponseWriter, r *http.Request) {
	s.engine.Stop()
	writeJSON(w, http.StatusOK, map[string]any{
		"state": s.engine.State().String(),
	})
}

// ─── Catalog and disk ───────────────────────────────────────────────────────

func (s *Server) handleCatalogList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ForceRefresh bool `json:"forceRefresh"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	models := s.catalog.ListRegistry(r.Context(), req.ForceRefresh)
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) handleCatalogClearCache(w http.ResponseWriter, r *http.Request) {
	s.catalog.ClearCache()
	writeJSON(w, http.StatusOK, s.catalog.CacheStatus())
}

func (s *Server) handleCatalogStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.CacheStatus())
}

func (s *Server) handleDiskCheckForModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModelName string `json:"modelName"`
		SizeBytes int64  `json:"sizeBytes"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ModelName == "" && req.SizeBytes == 0 {
		writeError(w, http.StatusBadRequest, "modelName or sizeBytes is required")
		return
	}
	required := req.SizeBytes
	if required == 0 {
		required = s.catalog.EstimateSize(req.ModelName)
	}
	writeJSON(w, http.StatusOK, s.catalog.CheckDiskSpace(required))
}

func (s *Server) handleDiskInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.DiskSpaceInfo())
}

// ─── Models ─────────────────────────────────────────────────────────────────

func (s *Server) handleModelGetCurrent(w http.ResponseWriter, r *http.Request) {
	name, err := s.state.LastUsedLocalModel()
	if err != nil {
		s.fail(w, err)
		return
	}
	if name == "" {
		if loaded, err := s.engine.Loaded(r.Context()); err == nil && len(loaded) > 0 {
			name = loaded[0].Name
		}
	}
	installed := false
	if name != "" {
		if models, err := s.engine.ListModels(r.Context()); err == nil {
			for _, m := range models {
				if m.Name == name {
					installed = true
					break
				}
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model":     name,
		"installed": installed,
	})
}

func (s *Server) handleModelDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := s.engine.Delete(r.Context(), req.Name); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": req.Name})
}

// handleModelPullAndReplace downloads a new model and, once it is in
// place, deletes the model it replaces. The old model survives a failed
// pull.
func (s *Server) handleModelPullAndReplace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	previous, _ := s.state.LastUsedLocalModel()

	if err := s.engine.Pull(r.Context(), req.Name, nil); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.state.SetLastUsedLocalModel(req.Name); err != nil {
		s.log.Warn().Err(err).Msg("could not record new model")
	}

	replaced := ""
	if previous != "" && previous != req.Name {
		if err := s.engine.Delete(r.Context(), previous); err != nil {
			s.log.Warn().Err(err).Str("model", previous).Msg("could not delete replaced model")
		} else {
			replaced = previous
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model":    req.Name,
		"replaced": replaced,
	})
}

func (s *Server) handleModelAvailable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models": s.router.AvailableModels(r.Context()),
	})
}

// ─── Inference configuration ────────────────────────────────────────────────

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"mode": s.router.Mode()})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode domain.Mode `json:"mode"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.router.SetMode(req.Mode); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": req.Mode})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.router.Config()
	// The key never leaves the daemon; the UI only learns whether one
	// is set.
	resp := map[string]any{"mode": cfg.Mode}
	if cfg.Remote != nil {
		resp["remote"] = map[string]any{
			"hasApiKey":    cfg.Remote.APIKey != "",
			"baseUrl":      cfg.Remote.BaseURL,
			"defaultModel": cfg.Remote.DefaultModel,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var req domain.InferenceConfig
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.router.SetConfig(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": true})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.router.TestConnection(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"connected": false,
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": true})
}

// ─── Asking ─────────────────────────────────────────────────────────────────

// handleAsk answers a one-off question. forceSource overrides the
// configured mode for this question only.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query       string      `json:"query"`
		Model       string      `json:"model"`
		ForceSource domain.Mode `json:"forceSource"`
	}
	if err := decode(r, &req); err != nil || req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	var result domain.AskResult
	var err error
	if req.ForceSource != "" {
		if !req.ForceSource.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid forceSource %q", req.ForceSource))
			return
		}
		result, err = s.router.AskWithSource(r.Context(), req.Query, req.ForceSource, req.Model, nil)
	} else {
		result, err = s.router.Ask(r.Context(), req.Query, req.Model)
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ─── Chats ──────────────────────────────────────────────────────────────────

func (s *Server) handleChatCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode  domain.Mode `json:"mode"`
		Model string      `json:"model"`
		Title string      `json:"title"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Mode == "" {
		req.Mode = s.router.Mode()
	}
	session, err := s.chats.Create(req.Mode, req.Model, req.Title)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleChatGetAll(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.chats.All()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": sessions})
}

func (s *Server) handleChatGet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(r, &req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	session, err := s.chats.Get(req.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleChatGetCurrent(w http.ResponseWriter, r *http.Request) {
	id, err := s.chats.Current()
	if err != nil {
		s.fail(w, err)
		return
	}
	if id == "" {
		writeJSON(w, http.StatusOK, map[string]any{"chat": nil})
		return
	}
	session, err := s.chats.Get(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": session})
}

func (s *Server) handleChatSwitch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(r, &req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	session, err := s.chats.Switch(req.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleChatDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(r, &req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := s.chats.Delete(req.ID); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": req.ID})
}

func (s *Server) handleChatSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatID string `json:"chatId"`
		Text   string `json:"text"`
	}
	if err := decode(r, &req); err != nil || req.ChatID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "chatId and text are required")
		return
	}
	reply, err := s.chats.SendMessage(r.Context(), req.ChatID, req.Text)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleChatUpdateTitle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	if err := decode(r, &req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := s.chats.UpdateTitle(req.ID, req.Title); err != nil {
		if errors.Is(err, domain.ErrChatNotFound) {
			s.fail(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (s *Server) handleChatMigrate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Entries []domain.LegacyEntry `json:"entries"`
		Mode    domain.Mode          `json:"mode"`
		Model   string               `json:"model"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, count, err := s.chats.MigrateLegacy(req.Entries, req.Mode, req.Model)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chat":     session,
		"migrated": count,
	})
}
