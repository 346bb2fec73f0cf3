// Package remote implements a typed client for an OpenAI-compatible
// chat completion API, with bounded retry for transient failures.
package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-ai/parley/internal/domain"
)

// Client talks to an OpenAI-compatible API at BaseURL using APIKey.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger

	// backoffBase seeds the retry schedule. Tests shrink it.
	backoffBase time.Duration
}

// New creates a remote client. baseURL defaults to the OpenAI endpoint.
func New(cfg domain.RemoteConfig, log zerolog.Logger) *Client {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return &Client{
		baseURL:     base,
		apiKey:      cfg.APIKey,
		http:        &http.Client{Timeout: 2 * time.Minute},
		log:         log.With().Str("component", "remote").Logger(),
		backoffBase: 500 * time.Millisecond,
	}
}

// ─── Wire types ─────────────────────────────────────────────────────────────

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ─── Operations ─────────────────────────────────────────────────────────────

// ListModels returns the model ids the remote API advertises.
func (c *Client) ListModels(ctx context.Context) ([]domain.ModelDescriptor, error) {
	body, err := c.do(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &domain.StatusError{Kind: domain.KindParse, Message: fmt.Sprintf("model list: %v", err)}
	}

	models := make([]domain.ModelDescriptor, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		if m.ID == "" {
			continue
		}
		models = append(models, domain.ModelDescriptor{Name: m.ID})
	}
	return models, nil
}

// defaultTemperature is used for single-turn asks, where the caller has
// no tuning of its own.
const defaultTemperature = 0.7

// Chat performs a single non-streaming chat completion. A zero
// maxTokens is omitted from the request, leaving the service's limit.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage, temperature float64, maxTokens int) (string, error) {
	req := chatRequest{
		Model:       model,
		Messages:    toWire(messages),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	body, err := c.do(ctx, http.MethodPost, "/chat/completions", payload)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &domain.StatusError{Kind: domain.KindParse, Message: fmt.Sprintf("chat completion: %v", err)}
	}
	if parsed.Error != nil {
		return "", &domain.StatusError{Kind: domain.KindHTTP, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", &domain.StatusError{Kind: domain.KindParse, Message: "chat completion: no choices in response"}
	}
	return parsed.Choices[0].Message.Content, nil
}

// ChatStream streams a chat completion, invoking onDelta for each
// content fragment. Returns the assembled response.
func (c *Client) ChatStream(ctx context.Context, model string, messages []domain.ChatMessage, temperature float64, maxTokens int, onDelta func(string)) (string, error) {
	req := chatRequest{
		Model:       model,
		Messages:    toWire(messages),
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      true,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", &domain.StatusError{Kind: domain.KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", c.statusError(resp)
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // tolerate malformed keep-alive frames
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", &domain.StatusError{Kind: domain.KindNetwork, Message: fmt.Sprintf("stream read: %v", err)}
	}
	return full.String(), nil
}

// TestConnection verifies the configured endpoint and key by listing
// models. A nil error means the credentials work.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}

// Ask sends a single-turn question with bounded retry. The backoff
// doubles from the base up to an 8s cap. 400/401/403 fail immediately;
// an empty answer counts as a retryable failure.
func (c *Client) Ask(ctx context.Context, query, model string, retries int) (string, error) {
	if retries < 1 {
		retries = 1
	}
	backoff := c.backoffBase

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		answer, err := c.Chat(ctx, model, []domain.ChatMessage{{Role: domain.RoleUser, Content: query}}, defaultTemperature, 0)
		if err == nil && answer != "" {
			return answer, nil
		}
		if err == nil {
			err = &domain.StatusError{Kind: domain.KindParse, Message: "empty response"}
		}
		lastErr = err

		if !retryable(err) {
			return "", err
		}
		if attempt == retries {
			break
		}

		c.log.Debug().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("remote ask retrying")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 8*time.Second {
			backoff = 8 * time.Second
		}
	}
	return "", fmt.Errorf("remote ask failed after %d attempts: %w", retries, lastErr)
}

// retryable reports whether another attempt could help. Client mistakes
// (bad request, bad credentials) never do.
func retryable(err error) bool {
	var se *domain.StatusError
	if errors.As(err, &se) {
		switch se.Status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return false
		}
	}
	return true
}

// ─── Transport helpers ──────────────────────────────────────────────────────

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.StatusError{Kind: domain.KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}

// statusError converts a non-200 response into a StatusError carrying
// the API's own error message when one is present.
func (c *Client) statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(data))
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &parsed) == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}
	return &domain.StatusError{Status: resp.StatusCode, Kind: domain.KindHTTP, Message: msg}
}

func toWire(messages []domain.ChatMessage) []wireMessage {
	out := make([]wireMessage, len(messages))
	for i, m := range messages {
		out[i] = wireMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
