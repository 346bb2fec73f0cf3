package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"

	"github.com/parley-ai/parley/internal/domain"
)

// fakeOllama mimics the subset of the engine API the client uses.
func fakeOllama(t *testing.T) *Engine {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		last := req.Messages[len(req.Messages)-1].Content
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{"role": "assistant", "content": "echo: " + last},
			"done":    true,
		})
	})

	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]any{
				{"name": "llama3.2", "size": 750_000_000, "digest": "sha256:aa"},
				{"name": "demo:7b", "size": 4_100_000_000, "digest": "sha256:bb"},
			},
		})
	})

	mux.HandleFunc("/api/ps", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]any{
				{"name": "llama3.2", "size": 750_000_000},
			},
		})
	})

	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		for i := 1; i <= 4; i++ {
			enc.Encode(map[string]any{
				"status":    "downloading",
				"total":     int64(400),
				"completed": int64(i * 100),
			})
		}
		enc.Encode(map[string]any{"status": "success"})
	})

	mux.HandleFunc("/api/delete", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Name != "llama3.2" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"done": true})
	})

	ts := fakeEngineServer(t, mux)
	return New(Config{Host: ts.URL}, zerolog.Nop())
}

func TestClient_Chat(t *testing.T) {
	e := fakeOllama(t)

	got, err := e.Chat(context.Background(), "llama3.2", []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "be brief"},
		{Role: domain.RoleUser, Content: "hello"},
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if got != "echo: hello" {
		t.Errorf("Chat() = %q, want %q", got, "echo: hello")
	}
}

func TestClient_ListModels(t *testing.T) {
	e := fakeOllama(t)

	models, err := e.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("len(models) = %d, want 2", len(models))
	}
	for _, m := range models {
		if !m.IsInstalled {
			t.Errorf("model %q should be marked installed", m.Name)
		}
	}
}

func TestClient_Loaded(t *testing.T) {
	e := fakeOllama(t)

	loaded, err := e.Loaded(context.Background())
	if err != nil {
		t.Fatalf("Loaded() error: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Name != "llama3.2" {
		t.Errorf("Loaded() = %+v, want single llama3.2", loaded)
	}
}

func TestClient_Pull_Progress(t *testing.T) {
	e := fakeOllama(t)

	var last float64
	var calls int
	err := e.Pull(context.Background(), "llama3.2", func(status string, pct float64) {
		calls++
		last = pct
	})
	if err != nil {
		t.Fatalf("Pull() error: %v", err)
	}
	if calls == 0 {
		t.Fatal("Pull() reported no progress")
	}
	if last < 0 || last > 100 {
		t.Errorf("final pct = %v, want within [0,100]", last)
	}
}

func TestClient_Delete_NotFound(t *testing.T) {
	e := fakeOllama(t)

	if err := e.Delete(context.Background(), "llama3.2"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	err := e.Delete(context.Background(), "missing")
	if err == nil {
		t.Fatal("Delete() of unknown model should fail")
	}
	if !errors.Is(err, domain.ErrModelNotFound) {
		t.Errorf("Delete() error = %v, want ErrModelNotFound", err)
	}
}

func TestClient_Warm(t *testing.T) {
	e := fakeOllama(t)

	if err := e.Warm(context.Background(), "llama3.2"); err != nil {
		t.Errorf("Warm() error: %v", err)
	}
}
