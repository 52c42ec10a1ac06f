package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultChatProvider = "gemini"
	DefaultChatModel    = "gemini-2.5-flash"
	DefaultLLMProvider  = "gemini"
	DefaultLLMModel     = "gemini-2.5-flash"
	DefaultS2SProvider  = "gemini"
	DefaultTTSProvider  = "openai"
	DefaultReportPath   = "advisorsim-reports.jsonl"
	DefaultTimeout      = 60 * time.Second
)

// KnownProviderNames lists the provider names accepted per provider kind.
// [Validate] rejects anything else.
var KnownProviderNames = map[string][]string{
	"chat": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp"},
	"llm":  {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp"},
	"s2s":  {"gemini", "openai"},
	"tts":  {"openai", "elevenlabs"},
}

// EnvKeys maps provider names to the environment variables holding their
// credential, in order of preference.
var EnvKeys = map[string][]string{
	"gemini":     {"GEMINI_API_KEY", "API_KEY"},
	"openai":     {"OPENAI_API_KEY"},
	"elevenlabs": {"ELEVENLABS_API_KEY"},
	"anthropic":  {"ANTHROPIC_API_KEY"},
	"mistral":    {"MISTRAL_API_KEY"},
	"groq":       {"GROQ_API_KEY"},
	"deepseek":   {"DEEPSEEK_API_KEY"},
}

// EnvPostgresDSN fills [FeedbackConfig.DSN] when the file leaves it empty.
const EnvPostgresDSN = "ADVISORSIM_POSTGRES_DSN"

// Load reads the YAML configuration file at path, fills credentials from
// the environment and returns the validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	return cfg, nil
}

// Default returns the configuration used when no file is given, with
// credentials filled from the environment.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.LookupEnv)
	return cfg
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Credentials are not read from the environment.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields of cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	p := &cfg.Providers
	if p.Chat.Name == "" {
		p.Chat.Name = DefaultChatProvider
		if p.Chat.Model == "" {
			p.Chat.Model = DefaultChatModel
		}
	}
	if p.LLM.Name == "" {
		p.LLM.Name = DefaultLLMProvider
		if p.LLM.Model == "" {
			p.LLM.Model = DefaultLLMModel
		}
	}
	if p.S2S.Name == "" {
		p.S2S.Name = DefaultS2SProvider
	}
	if p.TTS.Name == "" {
		p.TTS.Name = DefaultTTSProvider
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = AudioPortAudio
	}
	if cfg.Feedback.Timeout <= 0 {
		cfg.Feedback.Timeout = DefaultTimeout
	}
	if cfg.Feedback.Store == "" {
		cfg.Feedback.Store = StoreNone
	}
	if cfg.Feedback.Store == StoreFile && cfg.Feedback.Path == "" {
		cfg.Feedback.Path = DefaultReportPath
	}
}

// ApplyEnv fills empty API keys from the provider's environment variables
// (see [EnvKeys]) and the report store DSN from [EnvPostgresDSN]. lookup is
// usually [os.LookupEnv].
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	p := &cfg.Providers
	for _, e := range []*ProviderEntry{&p.Chat, &p.LLM, &p.LLMFallback, &p.S2S, &p.TTS, &p.TTSFallback} {
		if e.Name == "" || e.APIKey != "" {
			continue
		}
		for _, key := range EnvKeys[e.Name] {
			if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
				e.APIKey = strings.TrimSpace(v)
				break
			}
		}
	}
	if cfg.Feedback.DSN == "" {
		if v, ok := lookup(EnvPostgresDSN); ok {
			cfg.Feedback.DSN = v
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Missing credentials are not an error here; they surface when the
// corresponding service is first used.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	p := cfg.Providers
	errs = append(errs,
		validateProviderName("chat", "providers.chat", p.Chat.Name),
		validateProviderName("llm", "providers.llm", p.LLM.Name),
		validateProviderName("llm", "providers.llm_fallback", p.LLMFallback.Name),
		validateProviderName("s2s", "providers.s2s", p.S2S.Name),
		validateProviderName("tts", "providers.tts", p.TTS.Name),
		validateProviderName("tts", "providers.tts_fallback", p.TTSFallback.Name),
	)
	if p.TTSFallback.Enabled() && p.TTSFallback.Name == p.TTS.Name {
		errs = append(errs, fmt.Errorf("providers.tts_fallback must differ from providers.tts (%q)", p.TTS.Name))
	}
	if p.LLMFallback.Enabled() && p.LLMFallback.Name == p.LLM.Name && p.LLMFallback.Model == p.LLM.Model {
		errs = append(errs, fmt.Errorf("providers.llm_fallback duplicates providers.llm (%q)", p.LLM.Name))
	}

	if cfg.Audio.Backend != "" && !cfg.Audio.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: portaudio, none", cfg.Audio.Backend))
	}

	for i, f := range cfg.Scenarios.Files {
		if strings.TrimSpace(f) == "" {
			errs = append(errs, fmt.Errorf("scenarios.files[%d] is empty", i))
		}
	}

	fb := cfg.Feedback
	if fb.Timeout < 0 {
		errs = append(errs, fmt.Errorf("feedback.timeout %s must not be negative", fb.Timeout))
	}
	switch {
	case fb.Store != "" && !fb.Store.IsValid():
		errs = append(errs, fmt.Errorf("feedback.store %q is invalid; valid values: none, file, postgres", fb.Store))
	case fb.Store == StoreFile && fb.Path == "":
		errs = append(errs, errors.New("feedback.path is required when feedback.store is file"))
	}

	return errors.Join(errs...)
}

// validateProviderName reports an unknown provider name for kind. Empty
// names are accepted.
func validateProviderName(kind, field, name string) error {
	if name == "" {
		return nil
	}
	known := KnownProviderNames[kind]
	if slices.Contains(known, name) {
		return nil
	}
	return fmt.Errorf("%s.name %q is not a known %s provider; valid values: %s", field, name, kind, strings.Join(known, ", "))
}
