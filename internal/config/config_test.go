package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/advisorsim/internal/config"
	"github.com/MrWong99/advisorsim/pkg/provider/chat"
	chatmock "github.com/MrWong99/advisorsim/pkg/provider/chat/mock"
	"github.com/MrWong99/advisorsim/pkg/provider/llm"
	llmmock "github.com/MrWong99/advisorsim/pkg/provider/llm/mock"
	"github.com/MrWong99/advisorsim/pkg/provider/s2s"
	"github.com/MrWong99/advisorsim/pkg/provider/tts"
	ttsmock "github.com/MrWong99/advisorsim/pkg/provider/tts/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: "127.0.0.1:9464"
  log_level: debug

providers:
  chat:
    name: gemini
    model: gemini-2.5-flash
  llm:
    name: openai
    model: gpt-4o-mini
  llm_fallback:
    name: gemini
    model: gemini-2.5-flash
  s2s:
    name: gemini
    voice: Zephyr
    options:
      transcription: true
  tts:
    name: openai
    model: tts-1
  tts_fallback:
    name: elevenlabs
    options:
      voices:
        nova: el-nova
        onyx: el-onyx

audio:
  backend: none

scenarios:
  files:
    - scenarios/pharmacienne.yaml

feedback:
  template_file: rapport.txt
  timeout: 45s
  store: file
  path: /tmp/reports.jsonl
`

func fakeEnv(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── loading ──────────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != "127.0.0.1:9464" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.LLM.Name != "openai" || cfg.Providers.LLM.Model != "gpt-4o-mini" {
		t.Errorf("llm = %+v", cfg.Providers.LLM)
	}
	if !cfg.Providers.S2S.BoolOption("transcription", false) {
		t.Error("s2s transcription option not decoded")
	}
	voices := cfg.Providers.TTSFallback.StringMapOption("voices")
	if voices["nova"] != "el-nova" || voices["onyx"] != "el-onyx" {
		t.Errorf("voices = %v", voices)
	}
	if cfg.Audio.Backend != config.AudioNone {
		t.Errorf("audio.backend = %q", cfg.Audio.Backend)
	}
	if cfg.Feedback.Timeout != 45*time.Second || cfg.Feedback.Store != config.StoreFile {
		t.Errorf("feedback = %+v", cfg.Feedback)
	}
	if len(cfg.Scenarios.Files) != 1 {
		t.Errorf("scenarios.files = %v", cfg.Scenarios.Files)
	}
}

func TestLoadFromReader_EmptyGetsDefaults(t *testing.T) {
	t.Parallel()

	cfg := mustLoad(t, "")

	p := cfg.Providers
	if p.Chat.Name != "gemini" || p.Chat.Model != config.DefaultChatModel {
		t.Errorf("chat = %+v", p.Chat)
	}
	if p.LLM.Name != "gemini" || p.S2S.Name != "gemini" || p.TTS.Name != "openai" {
		t.Errorf("providers = %+v", p)
	}
	if p.TTSFallback.Enabled() || p.LLMFallback.Enabled() {
		t.Error("fallbacks must be opt-in")
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Audio.Backend != config.AudioPortAudio {
		t.Errorf("server/audio = %+v %+v", cfg.Server, cfg.Audio)
	}
	if cfg.Feedback.Store != config.StoreNone || cfg.Feedback.Timeout != config.DefaultTimeout {
		t.Errorf("feedback = %+v", cfg.Feedback)
	}
}

func TestLoadFromReader_FileStoreDefaultPath(t *testing.T) {
	t.Parallel()

	cfg := mustLoad(t, "feedback:\n  store: file\n")
	if cfg.Feedback.Path != config.DefaultReportPath {
		t.Errorf("path = %q, want %q", cfg.Feedback.Path, config.DefaultReportPath)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("npcs: []\n"))
	if err == nil || !strings.Contains(err.Error(), "npcs") {
		t.Errorf("err = %v, want unknown field error", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "advisorsim.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Feedback.Path != "/tmp/reports.jsonl" {
		t.Errorf("path = %q", cfg.Feedback.Path)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

// ── environment ──────────────────────────────────────────────────────────────

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := mustLoad(t, sampleYAML)
	cfg.Providers.LLM.APIKey = "from-file"
	config.ApplyEnv(cfg, fakeEnv(map[string]string{
		"API_KEY":                 "legacy-gemini",
		"OPENAI_API_KEY":          " sk-env ",
		"ELEVENLABS_API_KEY":      "el-env",
		"ADVISORSIM_POSTGRES_DSN": "postgres://env",
	}))

	p := cfg.Providers
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"chat gemini falls back to API_KEY", p.Chat.APIKey, "legacy-gemini"},
		{"llm keeps file key", p.LLM.APIKey, "from-file"},
		{"llm fallback gemini", p.LLMFallback.APIKey, "legacy-gemini"},
		{"s2s gemini", p.S2S.APIKey, "legacy-gemini"},
		{"tts openai trimmed", p.TTS.APIKey, "sk-env"},
		{"tts fallback elevenlabs", p.TTSFallback.APIKey, "el-env"},
		{"dsn", cfg.Feedback.DSN, "postgres://env"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestApplyEnv_PrefersGeminiKey(t *testing.T) {
	t.Parallel()

	cfg := mustLoad(t, "")
	config.ApplyEnv(cfg, fakeEnv(map[string]string{"GEMINI_API_KEY": "new", "API_KEY": "old"}))
	if cfg.Providers.Chat.APIKey != "new" {
		t.Errorf("chat key = %q, want new", cfg.Providers.Chat.APIKey)
	}
	if cfg.Providers.TTS.APIKey != "" {
		t.Errorf("tts key = %q, want empty without OPENAI_API_KEY", cfg.Providers.TTS.APIKey)
	}
}

// ── validation ───────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server:\n  log_level: verbose\n", "server.log_level"},
		{"chat provider", "providers:\n  chat:\n    name: watson\n", "providers.chat.name"},
		{"s2s provider", "providers:\n  s2s:\n    name: anthropic\n", "not a known s2s provider"},
		{"tts fallback same as primary", "providers:\n  tts:\n    name: openai\n  tts_fallback:\n    name: openai\n", "must differ"},
		{"llm fallback duplicate", "providers:\n  llm:\n    name: gemini\n    model: m\n  llm_fallback:\n    name: gemini\n    model: m\n", "duplicates"},
		{"audio backend", "audio:\n  backend: alsa\n", "audio.backend"},
		{"empty scenario file", "scenarios:\n  files: [\"\"]\n", "scenarios.files[0]"},
		{"store kind", "feedback:\n  store: redis\n", "feedback.store"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Server:   config.ServerConfig{LogLevel: "loud"},
		Audio:    config.AudioConfig{Backend: "jack"},
		Feedback: config.FeedbackConfig{Store: "s3"},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"log_level", "audio.backend", "feedback.store"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestLogLevel_Slog(t *testing.T) {
	t.Parallel()

	if config.LogDebug.Slog().String() != "DEBUG" || config.LogLevel("x").Slog().String() != "INFO" {
		t.Error("unexpected slog mapping")
	}
}

// ── registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nope"}
	checks := map[string]error{}
	_, checks["chat"] = r.CreateChat(entry)
	_, checks["llm"] = r.CreateLLM(entry)
	_, checks["s2s"] = r.CreateS2S(entry)
	_, checks["tts"] = r.CreateTTS(entry)
	for kind, err := range checks {
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("%s: err = %v, want ErrProviderNotRegistered", kind, err)
		}
		if err != nil && !strings.Contains(err.Error(), kind) {
			t.Errorf("%s: error %q does not name the kind", kind, err)
		}
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	var gotEntry config.ProviderEntry
	r.RegisterChat("gemini", func(e config.ProviderEntry) (chat.Provider, error) {
		gotEntry = e
		return &chatmock.Provider{}, nil
	})
	r.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	r.RegisterTTS("openai", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
	r.RegisterTTS("elevenlabs", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })

	p, err := r.CreateChat(config.ProviderEntry{Name: "gemini", Model: "m"})
	if err != nil || p == nil {
		t.Fatalf("CreateChat = %v, %v", p, err)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if gotEntry.Model != "m" {
		t.Errorf("factory got %+v", gotEntry)
	}
	if _, err := r.CreateLLM(config.ProviderEntry{Name: "openai"}); err != nil {
		t.Errorf("CreateLLM: %v", err)
	}
	if got := r.Names("tts"); len(got) != 2 || got[0] != "elevenlabs" || got[1] != "openai" {
		t.Errorf("Names(tts) = %v", got)
	}
	if got := r.Names("vad"); got != nil {
		t.Errorf("Names(vad) = %v, want nil", got)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	want := errors.New("no key")
	r.RegisterS2S("gemini", func(config.ProviderEntry) (s2s.Provider, error) { return nil, want })
	if _, err := r.CreateS2S(config.ProviderEntry{Name: "gemini"}); !errors.Is(err, want) {
		t.Errorf("err = %v, want factory error", err)
	}
}

func TestRegistry_Overwrite(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	first := &llmmock.Provider{}
	second := &llmmock.Provider{}
	r.RegisterLLM("gemini", func(config.ProviderEntry) (llm.Provider, error) { return first, nil })
	r.RegisterLLM("gemini", func(config.ProviderEntry) (llm.Provider, error) { return second, nil })
	got, err := r.CreateLLM(config.ProviderEntry{Name: "gemini"})
	if err != nil || got != second {
		t.Errorf("CreateLLM = %v, %v; want the later registration", got, err)
	}
}
