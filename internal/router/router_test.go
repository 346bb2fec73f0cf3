package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/parley-ai/parley/internal/domain"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakeStore struct {
	cfg      domain.InferenceConfig
	lastUsed string
	saves    int
}

func (f *fakeStore) InferenceConfig() (domain.InferenceConfig, error) { return f.cfg, nil }
func (f *fakeStore) SetInferenceConfig(cfg domain.InferenceConfig) error {
	f.cfg = cfg
	f.saves++
	return nil
}
func (f *fakeStore) LastUsedLocalModel() (string, error)     { return f.lastUsed, nil }
func (f *fakeStore) SetLastUsedLocalModel(name string) error { f.lastUsed = name; return nil }

type fakeEngine struct {
	running   bool
	installed []domain.ModelDescriptor
	loaded    []domain.LoadedModel
	pulled    []string
	pullErr   error
	chatModel string
	answer    string
	chatErr   error
}

func (f *fakeEngine) EnsureRunning(ctx context.Context) bool { return f.running }
func (f *fakeEngine) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	f.chatModel = model
	if f.chatErr != nil {
		return "", f.chatErr
	}
	return f.answer, nil
}
func (f *fakeEngine) ListModels(ctx context.Context) ([]domain.ModelDescriptor, error) {
	return f.installed, nil
}
func (f *fakeEngine) Loaded(ctx context.Context) ([]domain.LoadedModel, error) {
	return f.loaded, nil
}
func (f *fakeEngine) Pull(ctx context.Context, name string, progress func(string, float64)) error {
	f.pulled = append(f.pulled, name)
	if f.pullErr != nil {
		return f.pullErr
	}
	f.installed = append(f.installed, domain.ModelDescriptor{Name: name, IsInstalled: true})
	return nil
}
func (f *fakeEngine) Warm(ctx context.Context, model string) error { return nil }

type fakeRemote struct {
	answer      string
	err         error
	askModel    string
	temperature float64
	maxTokens   int
	models      []domain.ModelDescriptor
}

func (f *fakeRemote) Ask(ctx context.Context, query, model string, retries int) (string, error) {
	f.askModel = model
	return f.answer, f.err
}
func (f *fakeRemote) Chat(ctx context.Context, model string, messages []domain.ChatMessage, temperature float64, maxTokens int) (string, error) {
	f.askModel = model
	f.temperature = temperature
	f.maxTokens = maxTokens
	return f.answer, f.err
}
func (f *fakeRemote) ListModels(ctx context.Context) ([]domain.ModelDescriptor, error) {
	return f.models, f.err
}
func (f *fakeRemote) TestConnection(ctx context.Context) error { return f.err }

func newRouter(t *testing.T, st *fakeStore, eng *fakeEngine, rem *fakeRemote) *Router {
	t.Helper()
	factory := func(cfg domain.RemoteConfig) domain.RemoteBackend { return rem }
	r, err := New(st, eng, factory, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return r
}

func remoteStore() *fakeStore {
	return &fakeStore{cfg: domain.InferenceConfig{
		Mode:   domain.ModeRemote,
		Remote: &domain.RemoteConfig{APIKey: "sk-test"},
	}}
}

// ─── Mode and config ────────────────────────────────────────────────────────

func TestNew_DefaultsToLocalMode(t *testing.T) {
	r := newRouter(t, &fakeStore{}, &fakeEngine{}, nil)
	if r.Mode() != domain.ModeLocal {
		t.Errorf("Mode() = %v, want local", r.Mode())
	}
}

func TestSetMode_Persists(t *testing.T) {
	st := &fakeStore{}
	r := newRouter(t, st, &fakeEngine{}, nil)

	if err := r.SetMode(domain.ModeRemote); err != nil {
		t.Fatalf("SetMode() error: %v", err)
	}
	if st.cfg.Mode != domain.ModeRemote || st.saves != 1 {
		t.Errorf("store cfg = %+v after %d saves", st.cfg, st.saves)
	}
	if err := r.SetMode("cloud"); err == nil {
		t.Error("SetMode() should reject an unknown mode")
	}
}

func TestSetConfig_RebuildsRemote(t *testing.T) {
	st := &fakeStore{}
	rem := &fakeRemote{}
	r := newRouter(t, st, &fakeEngine{}, rem)

	cfg := domain.InferenceConfig{
		Mode:   domain.ModeRemote,
		Remote: &domain.RemoteConfig{APIKey: "sk-new", DefaultModel: "gpt-4o"},
	}
	if err := r.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig() error: %v", err)
	}
	if got := r.Config(); got.Remote == nil || got.Remote.DefaultModel != "gpt-4o" {
		t.Errorf("Config() = %+v", got)
	}
	if err := r.TestConnection(context.Background()); err != nil {
		t.Errorf("TestConnection() error after configure: %v", err)
	}
}

func TestTestConnection_Unconfigured(t *testing.T) {
	r := newRouter(t, &fakeStore{}, &fakeEngine{}, nil)
	err := r.TestConnection(context.Background())
	if !errors.Is(err, domain.ErrRemoteUnconfigured) {
		t.Errorf("TestConnection() = %v, want ErrRemoteUnconfigured", err)
	}
}

// ─── Local asks ─────────────────────────────────────────────────────────────

func TestAsk_Local(t *testing.T) {
	st := &fakeStore{}
	eng := &fakeEngine{
		running:   true,
		installed: []domain.ModelDescriptor{{Name: "mistral:7b", IsInstalled: true}},
		answer:    "42",
	}
	r := newRouter(t, st, eng, nil)

	got, err := r.Ask(context.Background(), "meaning of life?", "")
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if got.Response != "42" || got.Source != domain.ModeLocal || got.Model != "mistral:7b" {
		t.Errorf("Ask() = %+v", got)
	}
	if st.lastUsed != "mistral:7b" {
		t.Errorf("lastUsed = %q, want the resolved model recorded", st.lastUsed)
	}
}

func TestAsk_Local_EngineDown(t *testing.T) {
	r := newRouter(t, &fakeStore{}, &fakeEngine{running: false}, nil)
	_, err := r.Ask(context.Background(), "q", "")
	if !errors.Is(err, domain.ErrEngineUnavailable) {
		t.Errorf("Ask() error = %v, want ErrEngineUnavailable", err)
	}
}

func TestResolveLocalModel_Chain(t *testing.T) {
	ctx := context.Background()

	t.Run("explicit wins", func(t *testing.T) {
		r := newRouter(t, &fakeStore{}, &fakeEngine{}, nil)
		got, err := r.resolveLocalModel(ctx, "phi3:mini")
		if err != nil || got != "phi3:mini" {
			t.Errorf("resolveLocalModel() = %q, %v", got, err)
		}
	})

	t.Run("last used when still installed", func(t *testing.T) {
		st := &fakeStore{lastUsed: "mistral:7b"}
		eng := &fakeEngine{installed: []domain.ModelDescriptor{
			{Name: "llama3.2"}, {Name: "mistral:7b"},
		}}
		r := newRouter(t, st, eng, nil)
		if got, _ := r.resolveLocalModel(ctx, ""); got != "mistral:7b" {
			t.Errorf("resolveLocalModel() = %q, want last used", got)
		}
	})

	t.Run("last used gone falls through to loaded", func(t *testing.T) {
		st := &fakeStore{lastUsed: "deleted-model"}
		eng := &fakeEngine{
			installed: []domain.ModelDescriptor{{Name: "llama3.2"}, {Name: "qwen2.5:7b"}},
			loaded:    []domain.LoadedModel{{Name: "qwen2.5:7b"}},
		}
		r := newRouter(t, st, eng, nil)
		if got, _ := r.resolveLocalModel(ctx, ""); got != "qwen2.5:7b" {
			t.Errorf("resolveLocalModel() = %q, want the loaded model", got)
		}
	})

	t.Run("first installed", func(t *testing.T) {
		eng := &fakeEngine{installed: []domain.ModelDescriptor{{Name: "gemma2:2b"}}}
		r := newRouter(t, &fakeStore{}, eng, nil)
		if got, _ := r.resolveLocalModel(ctx, ""); got != "gemma2:2b" {
			t.Errorf("resolveLocalModel() = %q, want first installed", got)
		}
	})

	t.Run("nothing installed pulls default", func(t *testing.T) {
		eng := &fakeEngine{}
		r := newRouter(t, &fakeStore{}, eng, nil)
		got, err := r.resolveLocalModel(ctx, "")
		if err != nil || got != defaultLocalModel {
			t.Errorf("resolveLocalModel() = %q, %v", got, err)
		}
		if len(eng.pulled) != 1 || eng.pulled[0] != defaultLocalModel {
			t.Errorf("pulled = %v, want the default model", eng.pulled)
		}
	})

	t.Run("pull failure is ErrNoValidModel", func(t *testing.T) {
		eng := &fakeEngine{pullErr: errors.New("disk full")}
		r := newRouter(t, &fakeStore{}, eng, nil)
		_, err := r.resolveLocalModel(ctx, "")
		if !errors.Is(err, domain.ErrNoValidModel) {
			t.Errorf("error = %v, want ErrNoValidModel", err)
		}
	})
}

// ─── Remote asks and fallback ───────────────────────────────────────────────

func TestAsk_Remote(t *testing.T) {
	rem := &fakeRemote{answer: "remote says hi"}
	r := newRouter(t, remoteStore(), &fakeEngine{}, rem)

	got, err := r.Ask(context.Background(), "q", "")
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if got.Source != domain.ModeRemote || got.Response != "remote says hi" {
		t.Errorf("Ask() = %+v", got)
	}
	if rem.askModel != defaultRemoteModel {
		t.Errorf("model = %q, want default remote model", rem.askModel)
	}
}

func TestAsk_Remote_ConfiguredDefaultModel(t *testing.T) {
	st := remoteStore()
	st.cfg.Remote.DefaultModel = "gpt-4o"
	rem := &fakeRemote{answer: "ok"}
	r := newRouter(t, st, &fakeEngine{}, rem)

	r.Ask(context.Background(), "q", "")
	if rem.askModel != "gpt-4o" {
		t.Errorf("model = %q, want configured default", rem.askModel)
	}
}

func TestAskWithSource_Remote_PassesTuning(t *testing.T) {
	rem := &fakeRemote{answer: "ok"}
	r := newRouter(t, remoteStore(), &fakeEngine{}, rem)

	history := []domain.ChatMessage{{Role: domain.RoleUser, Content: "earlier"}}
	got, err := r.AskWithSource(context.Background(), "q", domain.ModeRemote, "", history)
	if err != nil {
		t.Fatalf("AskWithSource() error: %v", err)
	}
	if got.Source != domain.ModeRemote {
		t.Errorf("source = %v, want remote", got.Source)
	}
	if rem.temperature != remoteTemperature || rem.maxTokens != remoteMaxTokens {
		t.Errorf("tuning = (%v, %d), want (%v, %d)",
			rem.temperature, rem.maxTokens, remoteTemperature, remoteMaxTokens)
	}
}

func TestAsk_Remote_Unconfigured_NoFallback(t *testing.T) {
	st := &fakeStore{cfg: domain.InferenceConfig{Mode: domain.ModeRemote}}
	eng := &fakeEngine{running: true, installed: []domain.ModelDescriptor{{Name: "llama3.2"}}, answer: "local"}
	r := newRouter(t, st, eng, nil)

	_, err := r.Ask(context.Background(), "q", "")
	if !errors.Is(err, domain.ErrRemoteUnconfigured) {
		t.Fatalf("Ask() error = %v, want ErrRemoteUnconfigured", err)
	}
	if eng.chatModel != "" {
		t.Error("a missing API key must never fall back to local")
	}
}

func TestAsk_Remote_TransientFailure_FallsBack(t *testing.T) {
	rem := &fakeRemote{err: &domain.StatusError{Status: 503, Kind: domain.KindHTTP, Message: "overloaded"}}
	eng := &fakeEngine{
		running:   true,
		installed: []domain.ModelDescriptor{{Name: "llama3.2"}},
		answer:    "local answer",
	}
	r := newRouter(t, remoteStore(), eng, rem)

	got, err := r.Ask(context.Background(), "q", "")
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if got.Source != domain.ModeLocal {
		t.Errorf("Source = %v, want local after fallback", got.Source)
	}
	if !strings.Contains(got.Response, "local answer") || !strings.Contains(got.Response, "Note:") {
		t.Errorf("Response = %q, want answer with provenance note", got.Response)
	}
}

func TestAsk_Remote_AuthFailure_NoFallback(t *testing.T) {
	rem := &fakeRemote{err: &domain.StatusError{Status: 401, Kind: domain.KindHTTP, Message: "bad key"}}
	eng := &fakeEngine{running: true, answer: "local"}
	r := newRouter(t, remoteStore(), eng, rem)

	_, err := r.Ask(context.Background(), "q", "")
	if err == nil {
		t.Fatal("Ask() should surface the auth failure")
	}
	if eng.chatModel != "" {
		t.Error("auth failures must not fall back to local")
	}
}

func TestAsk_Remote_DoubleFailure(t *testing.T) {
	rem := &fakeRemote{err: &domain.StatusError{Status: 500, Kind: domain.KindHTTP, Message: "boom"}}
	eng := &fakeEngine{running: false}
	r := newRouter(t, remoteStore(), eng, rem)

	_, err := r.Ask(context.Background(), "q", "")
	if err == nil {
		t.Fatal("Ask() should fail when both backends fail")
	}
	msg := err.Error()
	if !strings.Contains(msg, "remote failed") || !strings.Contains(msg, "local fallback failed") {
		t.Errorf("error = %q, want both failures named", msg)
	}
}

func TestShouldFallbackToLocal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"400", &domain.StatusError{Status: 400}, false},
		{"401", &domain.StatusError{Status: 401}, false},
		{"403", &domain.StatusError{Status: 403}, false},
		{"500", &domain.StatusError{Status: 500}, true},
		{"503", &domain.StatusError{Status: 503}, true},
		{"network kind", &domain.StatusError{Kind: domain.KindNetwork, Message: "dial tcp"}, true},
		{"unauthorized text", errors.New("request unauthorized"), false},
		{"api key text", errors.New("missing api key"), false},
		{"bad request text", errors.New("bad request: unknown field"), false},
		{"timeout text", errors.New("context timeout exceeded"), true},
		{"econnrefused text", errors.New("dial: econnrefused"), true},
		{"unclassified", errors.New("something odd"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldFallbackToLocal(tt.err); got != tt.want {
				t.Errorf("ShouldFallbackToLocal(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// ─── Model union ────────────────────────────────────────────────────────────

func TestAvailableModels_Union(t *testing.T) {
	eng := &fakeEngine{installed: []domain.ModelDescriptor{
		{Name: "llama3.2", IsInstalled: true},
		{Name: "shared-model", IsInstalled: true},
	}}
	rem := &fakeRemote{models: []domain.ModelDescriptor{
		{Name: "gpt-4o-mini"},
		{Name: "shared-model"},
	}}
	r := newRouter(t, remoteStore(), eng, rem)

	models := r.AvailableModels(context.Background())
	if len(models) != 3 {
		t.Fatalf("len(models) = %d, want 3 deduplicated", len(models))
	}
}

func TestAvailableModels_RemoteDown(t *testing.T) {
	eng := &fakeEngine{installed: []domain.ModelDescriptor{{Name: "llama3.2"}}}
	rem := &fakeRemote{err: errors.New("remote down")}
	r := newRouter(t, remoteStore(), eng, rem)

	models := r.AvailableModels(context.Background())
	if len(models) != 1 || models[0].Name != "llama3.2" {
		t.Errorf("models = %+v, want local side only", models)
	}
}
