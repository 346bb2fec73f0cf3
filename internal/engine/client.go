package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/parley-ai/parley/internal/domain"
)

// ─── Engine HTTP API ────────────────────────────────────────────────────────
// The running engine exposes an Ollama-compatible REST API. These methods
// proxy Parley's needs through it; they assume EnsureRunning has succeeded
// (a dead engine surfaces as a transport error).

// Chat runs a non-streaming chat completion.
func (e *Engine) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	type wireMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	msgs := make([]wireMsg, len(messages))
	for i, m := range messages {
		msgs[i] = wireMsg{Role: m.Role, Content: m.Content}
	}

	body, err := json.Marshal(map[string]any{
		"model":    model,
		"messages": msgs,
		"stream":   false,
	})
	if err != nil {
		return "", err
	}

	resp, err := e.post(ctx, "/api/chat", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Done bool `json:"done"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if out.Message.Content == "" {
		return "", fmt.Errorf("engine returned no content for model %q", model)
	}
	return out.Message.Content, nil
}

// ListModels returns the locally installed models.
func (e *Engine) ListModels(ctx context.Context) ([]domain.ModelDescriptor, error) {
	resp, err := e.get(ctx, "/api/tags")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var out struct {
		Models []struct {
			Name   string `json:"name"`
			Size   int64  `json:"size"`
			Digest string `json:"digest"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}

	models := make([]domain.ModelDescriptor, 0, len(out.Models))
	for _, m := range out.Models {
		if m.Name == "" {
			continue
		}
		models = append(models, domain.ModelDescriptor{
			Name:        m.Name,
			SizeBytes:   m.Size,
			Digest:      m.Digest,
			IsInstalled: true,
		})
	}
	return models, nil
}

// Loaded returns models currently resident in engine memory.
func (e *Engine) Loaded(ctx context.Context) ([]domain.LoadedModel, error) {
	resp, err := e.get(ctx, "/api/ps")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var out struct {
		Models []struct {
			Name      string    `json:"name"`
			Size      int64     `json:"size"`
			ExpiresAt time.Time `json:"expires_at"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ps: %w", err)
	}

	loaded := make([]domain.LoadedModel, len(out.Models))
	for i, m := range out.Models {
		loaded[i] = domain.LoadedModel{Name: m.Name, SizeBytes: m.Size, ExpiresAt: m.ExpiresAt}
	}
	return loaded, nil
}

// Pull downloads a model into the engine's local storage, reporting
// progress from the engine's NDJSON status stream.
func (e *Engine) Pull(ctx context.Context, name string, progress func(status string, pct float64)) error {
	body, err := json.Marshal(map[string]any{"name": name, "stream": true})
	if err != nil {
		return err
	}

	resp, err := e.post(ctx, "/api/pull", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line struct {
			Status    string `json:"status"`
			Total     int64  `json:"total"`
			Completed int64  `json:"completed"`
			Error     string `json:"error"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Error != "" {
			return fmt.Errorf("pull %s: %s", name, line.Error)
		}
		if progress != nil {
			pct := 0.0
			if line.Total > 0 {
				pct = float64(line.Completed) / float64(line.Total) * 100
			}
			progress(line.Status, pct)
		}
	}
	return scanner.Err()
}

// Delete removes a model from the engine's local storage.
func (e *Engine) Delete(ctx context.Context, name string) error {
	body, err := json.Marshal(map[string]any{"name": name})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, e.cfg.Host+"/api/delete", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("engine request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("delete %s: %w", name, domain.ErrModelNotFound)
	}
	return checkStatus(resp)
}

// Warm asks the engine to load a model into memory without generating
// anything, so the first real request is not delayed by a cold load.
func (e *Engine) Warm(ctx context.Context, model string) error {
	body, err := json.Marshal(map[string]any{
		"model":      model,
		"keep_alive": "10m",
	})
	if err != nil {
		return err
	}
	resp, err := e.post(ctx, "/api/generate", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Drain: the engine answers with a single done message once loaded.
	_, _ = io.Copy(io.Discard, resp.Body)
	return checkStatus(resp)
}

// ─── Request helpers ────────────────────────────────────────────────────────

func (e *Engine) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Host+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.apiClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine request failed: %w", err)
	}
	return resp, nil
}

func (e *Engine) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Host+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.apiClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine request failed: %w", err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("engine error %d: %s", resp.StatusCode, bytes.TrimSpace(data))
}
