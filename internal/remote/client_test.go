package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-ai/parley/internal/domain"
)

func newClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c := New(domain.RemoteConfig{APIKey: "sk-test", BaseURL: ts.URL}, zerolog.Nop())
	c.backoffBase = time.Millisecond
	return c
}

func completionHandler(content string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		})
	})
	return mux
}

func TestChat(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Model       string  `json:"model"`
			Temperature float64 `json:"temperature"`
			MaxTokens   int     `json:"max_tokens"`
			Messages    []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Temperature != 0.2 || req.MaxTokens != 512 {
			t.Errorf("wire request tuning = (%v, %d), want (0.2, 512)", req.Temperature, req.MaxTokens)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "re: " + req.Messages[0].Content}},
			},
		})
	})

	c := newClient(t, mux)
	got, err := c.Chat(context.Background(), "gpt-4o-mini", []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "hi"},
	}, 0.2, 512)
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if got != "re: hi" {
		t.Errorf("Chat() = %q", got)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want bearer key", gotAuth)
	}
}

func TestChat_ZeroMaxTokensOmitted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]json.RawMessage
		json.NewDecoder(r.Body).Decode(&raw)
		if _, ok := raw["max_tokens"]; ok {
			t.Error("max_tokens should be omitted when zero")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		})
	})

	c := newClient(t, mux)
	if _, err := c.Chat(context.Background(), "gpt-4o-mini", []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "hi"},
	}, 0.7, 0); err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
}

func TestChat_HTTPError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid api key"},
		})
	})

	c := newClient(t, mux)
	_, err := c.Chat(context.Background(), "gpt-4o-mini", nil, 0.7, 0)
	if err == nil {
		t.Fatal("Chat() should fail on 401")
	}
	var se *domain.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %T, want *StatusError", err)
	}
	if se.Status != http.StatusUnauthorized || se.Message != "invalid api key" {
		t.Errorf("StatusError = %+v", se)
	}
	if !errors.Is(err, domain.ErrAuth) {
		t.Error("401 should satisfy errors.Is(err, ErrAuth)")
	}
}

func TestChatStream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, word := range []string{"hello", " ", "world"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", word)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	c := newClient(t, mux)
	var deltas []string
	got, err := c.ChatStream(context.Background(), "gpt-4o-mini", []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "hi"},
	}, 0.7, 0, func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("ChatStream() error: %v", err)
	}
	if got != "hello world" {
		t.Errorf("ChatStream() = %q", got)
	}
	if strings.Join(deltas, "") != "hello world" {
		t.Errorf("deltas = %q", deltas)
	}
}

func TestListModels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "gpt-4o-mini"}, {"id": "gpt-4o"}, {"id": ""},
			},
		})
	})

	c := newClient(t, mux)
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("len(models) = %d, want 2 (empty id skipped)", len(models))
	}
}

func TestTestConnection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"id": "gpt-4o"}}})
	})

	c := newClient(t, mux)
	if err := c.TestConnection(context.Background()); err != nil {
		t.Errorf("TestConnection() error: %v", err)
	}
}

func TestAsk_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		})
	})

	c := newClient(t, mux)
	got, err := c.Ask(context.Background(), "q", "gpt-4o-mini", 3)
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if got != "ok" {
		t.Errorf("Ask() = %q", got)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestAsk_NoRetryOnAuthFailure(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	c := newClient(t, mux)
	_, err := c.Ask(context.Background(), "q", "gpt-4o-mini", 5)
	if err == nil {
		t.Fatal("Ask() should fail on 401")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on auth failure)", calls.Load())
	}
}

func TestAsk_EmptyAnswerIsRetryable(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		content := ""
		if calls.Add(1) == 2 {
			content = "second time lucky"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": content}}},
		})
	})

	c := newClient(t, mux)
	got, err := c.Ask(context.Background(), "q", "gpt-4o-mini", 3)
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if got != "second time lucky" {
		t.Errorf("Ask() = %q", got)
	}
}

func TestAsk_ExhaustsRetries(t *testing.T) {
	c := newClient(t, completionHandler(""))

	_, err := c.Ask(context.Background(), "q", "gpt-4o-mini", 2)
	if err == nil {
		t.Fatal("Ask() should fail when every attempt returns empty")
	}
	if !strings.Contains(err.Error(), "2 attempts") {
		t.Errorf("error = %v, want attempt count", err)
	}
}
