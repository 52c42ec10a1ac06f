package app_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/advisorsim/internal/app"
	"github.com/MrWong99/advisorsim/internal/config"
	"github.com/MrWong99/advisorsim/internal/feedback"
	"github.com/MrWong99/advisorsim/internal/health"
	"github.com/MrWong99/advisorsim/internal/observe"
	audiomock "github.com/MrWong99/advisorsim/pkg/audio/mock"
	chatmock "github.com/MrWong99/advisorsim/pkg/provider/chat/mock"
	"github.com/MrWong99/advisorsim/pkg/provider/llm"
	llmmock "github.com/MrWong99/advisorsim/pkg/provider/llm/mock"
	s2smock "github.com/MrWong99/advisorsim/pkg/provider/s2s/mock"
	"github.com/MrWong99/advisorsim/pkg/types"
)

// testConfig returns a minimal config without audio or report store.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Audio:  config.AudioConfig{Backend: config.AudioNone},
		Feedback: config.FeedbackConfig{
			Store: config.StoreNone,
		},
	}
}

type fixture struct {
	app  *app.App
	chat *chatmock.Provider
	llm  *llmmock.Provider
	s2s  *s2smock.Provider
}

func newFixture(t *testing.T, cfg *config.Config, opts ...app.Option) *fixture {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		chat: &chatmock.Provider{Channels: []*chatmock.Channel{{Reply: "Bonjour."}}},
		llm: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
			Content: "## Bilan\nBon travail.",
		}},
		s2s: &s2smock.Provider{},
	}
	opts = append([]app.Option{
		app.WithMetrics(m),
		app.WithDevices(&audiomock.Devices{}),
	}, opts...)
	a, err := app.New(context.Background(), cfg, &app.Providers{
		Chat: f.chat,
		LLM:  f.llm,
		S2S:  f.s2s,
	}, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	f.app = a
	return f
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	if got := f.app.Catalogue().Len(); got != 5 {
		t.Errorf("Catalogue().Len() = %d, want 5", got)
	}
	if f.app.Sessions() == nil {
		t.Fatal("Sessions() = nil")
	}
	if f.app.Sessions().IsActive() {
		t.Error("new app has an active session")
	}
}

func TestNew_NilProviders(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), nil, app.WithDevices(&audiomock.Devices{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = a.Sessions().Start(context.Background(), "julie")
	if err == nil {
		t.Fatal("Start without chat provider succeeded")
	}
	if a.Sessions().Mode().String() != "greeting" {
		t.Errorf("Mode = %s, want greeting", a.Sessions().Mode())
	}
}

func TestNew_ScenarioFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "extra.yaml")
	yml := `scenarios:
  - id: paul-succession
    title: "Paul - Succession"
    system_prompt: Tu es Paul.
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Scenarios.Files = []string{path}
	f := newFixture(t, cfg)
	if got := f.app.Catalogue().Len(); got != 6 {
		t.Errorf("Catalogue().Len() = %d, want 6", got)
	}

	cfg = testConfig()
	cfg.Scenarios.Files = []string{filepath.Join(dir, "missing.yaml")}
	if _, err := app.New(context.Background(), cfg, &app.Providers{}, app.WithDevices(&audiomock.Devices{})); err == nil {
		t.Error("New with a missing scenario file succeeded")
	}
}

func TestNew_TemplateFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rapport.txt")
	if err := os.WriteFile(path, []byte("Évalue la découverte client."), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.Feedback.TemplateFile = path
	f := newFixture(t, cfg)
	ctx := context.Background()

	sm := f.app.Sessions()
	if _, err := sm.Start(ctx, "julie"); err != nil {
		t.Fatal(err)
	}
	if _, err := sm.Send(ctx, "Bonjour Julie"); err != nil {
		t.Fatal(err)
	}
	out, err := sm.End(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out.Report != "## Bilan\nBon travail." {
		t.Errorf("report = %q", out.Report)
	}
	calls := f.llm.Calls()
	if len(calls) != 1 {
		t.Fatalf("llm calls = %d, want 1", len(calls))
	}
	if prompt := calls[0].Req.Messages[0].Content; !strings.HasPrefix(prompt, "Évalue la découverte client.") {
		t.Errorf("prompt = %q", prompt)
	}

	cfg = testConfig()
	cfg.Feedback.TemplateFile = filepath.Join(t.TempDir(), "missing.txt")
	if _, err := app.New(ctx, cfg, &app.Providers{}, app.WithDevices(&audiomock.Devices{})); err == nil {
		t.Error("New with a missing template succeeded")
	}
}

func TestCheckers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	f.chat.ValidateErr = types.ErrConfiguration

	rec := httptest.NewRecorder()
	health.New(f.app.Checkers()).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"live":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestCheckers_NoChatProvider(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), &app.Providers{}, app.WithDevices(&audiomock.Devices{}))
	if err != nil {
		t.Fatal(err)
	}
	checks := a.Checkers()
	if len(checks) != 1 || checks[0].Name != "chat" {
		t.Fatalf("checks = %+v", checks)
	}
	if err := checks[0].Check(context.Background()); err == nil {
		t.Error("missing chat provider passed its check")
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	if st := f.app.Status(); st["mode"] != "idle" || st["scenarios"] != "5" {
		t.Errorf("Status() = %v", st)
	}
	if _, err := f.app.Sessions().Start(context.Background(), "julie"); err != nil {
		t.Fatal(err)
	}
	st := f.app.Status()
	if st["mode"] != "greeting" || st["scenario"] != "julie-maternite-coop" || st["session"] == "" {
		t.Errorf("Status() = %v", st)
	}
}

func TestReload(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())

	path := filepath.Join(t.TempDir(), "more.yaml")
	yml := "scenarios:\n  - id: anne\n    title: Anne - Crédit auto\n    system_prompt: Tu es Anne.\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	next.Scenarios.Files = []string{path, filepath.Join(t.TempDir(), "missing.yaml")}

	var level slog.LevelVar
	f.app.Reload(testConfig(), next, &level)
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if got := f.app.Catalogue().Len(); got != 6 {
		t.Errorf("Catalogue().Len() = %d, want 6", got)
	}
	if _, ok := f.app.Catalogue().Find("anne"); !ok {
		t.Error("reloaded scenario not found")
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()

	store := feedback.NewFileStore(filepath.Join(t.TempDir(), "reports.jsonl"))
	f := newFixture(t, testConfig(), app.WithStore(store))

	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	// Idempotent.
	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestShutdown_ExpiredContext(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), &app.Providers{}, app.WithDevices(&audiomock.Devices{}))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); err == nil {
		t.Error("Shutdown with a cancelled context returned nil")
	}
}
