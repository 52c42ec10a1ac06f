package main

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/advisorsim/internal/app"
	"github.com/MrWong99/advisorsim/internal/config"
	"github.com/MrWong99/advisorsim/internal/resilience"
	"github.com/MrWong99/advisorsim/pkg/provider/chat"
	geminichat "github.com/MrWong99/advisorsim/pkg/provider/chat/gemini"
	"github.com/MrWong99/advisorsim/pkg/provider/chat/llmchat"
	"github.com/MrWong99/advisorsim/pkg/provider/llm"
	"github.com/MrWong99/advisorsim/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/advisorsim/pkg/provider/llm/openai"
	"github.com/MrWong99/advisorsim/pkg/provider/s2s"
	geminilive "github.com/MrWong99/advisorsim/pkg/provider/s2s/gemini"
	oais2s "github.com/MrWong99/advisorsim/pkg/provider/s2s/openai"
	"github.com/MrWong99/advisorsim/pkg/provider/tts"
	"github.com/MrWong99/advisorsim/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/advisorsim/pkg/provider/tts/openai"
	"github.com/MrWong99/advisorsim/pkg/types"
)

// keylessBackends run locally and need no credential.
var keylessBackends = []string{"ollama", "llamacpp"}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.StringOption("organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining backends share the same pattern through any-llm-go:
	// optional APIKey + optional BaseURL.
	for _, providerName := range anyllm.Backends {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			} else if !slices.Contains(keylessBackends, providerName) {
				return nil, fmt.Errorf("%s: API key missing: %w", providerName, types.ErrConfiguration)
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── Chat ──────────────────────────────────────────────────────────────────

	reg.RegisterChat("gemini", func(entry config.ProviderEntry) (chat.Provider, error) {
		var opts []geminichat.Option
		if entry.Model != "" {
			opts = append(opts, geminichat.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminichat.WithBaseURL(entry.BaseURL))
		}
		return geminichat.New(entry.APIKey, opts...), nil
	})

	// Other chat backends replay the history through the LLM registry. A
	// missing credential still yields a provider so Validate can report it.
	for _, providerName := range anyllm.Backends {
		if providerName == "gemini" {
			continue
		}
		reg.RegisterChat(providerName, func(entry config.ProviderEntry) (chat.Provider, error) {
			p, err := reg.CreateLLM(entry)
			if errors.Is(err, types.ErrConfiguration) {
				return llmchat.New(nil), nil
			}
			if err != nil {
				return nil, err
			}
			return llmchat.New(p), nil
		})
	}

	// ── S2S ───────────────────────────────────────────────────────────────────

	reg.RegisterS2S("gemini", func(entry config.ProviderEntry) (s2s.Provider, error) {
		opts := []geminilive.Option{
			geminilive.WithTranscription(entry.BoolOption("transcription", true)),
		}
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		if entry.Voice != "" {
			opts = append(opts, geminilive.WithVoice(entry.Voice))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterS2S("openai", func(entry config.ProviderEntry) (s2s.Provider, error) {
		opts := []oais2s.Option{
			oais2s.WithTranscription(entry.BoolOption("transcription", true)),
		}
		if entry.Model != "" {
			opts = append(opts, oais2s.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oais2s.WithBaseURL(entry.BaseURL))
		}
		if entry.Voice != "" {
			opts = append(opts, oais2s.WithVoice(entry.Voice))
		}
		return oais2s.New(entry.APIKey, opts...), nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []elevenlabs.Option{
			elevenlabs.WithModel(entry.Model),
			elevenlabs.WithOutputFormat(entry.StringOption("output_format")),
			elevenlabs.WithBaseURL(entry.BaseURL),
		}
		if voices := entry.StringMapOption("voices"); len(voices) > 0 {
			opts = append(opts, elevenlabs.WithVoices(voices))
		}
		if entry.Voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(entry.Voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"chat", "llm", "s2s", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. A missing credential leaves the slot empty with a warning; the
// feature then reports the problem when used.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	var err error

	if ps.Chat, err = create("chat", cfg.Providers.Chat, reg.CreateChat); err != nil {
		return nil, err
	}
	if ps.S2S, err = create("s2s", cfg.Providers.S2S, reg.CreateS2S); err != nil {
		return nil, err
	}

	primaryLLM, err := create("llm", cfg.Providers.LLM, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	fallbackLLM, err := create("llm_fallback", cfg.Providers.LLMFallback, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	switch {
	case primaryLLM != nil && fallbackLLM != nil:
		f := resilience.NewLLMFallback(primaryLLM, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		f.AddFallback(cfg.Providers.LLMFallback.Name, fallbackLLM)
		ps.LLM = f
	case primaryLLM != nil:
		ps.LLM = primaryLLM
	default:
		ps.LLM = fallbackLLM
	}

	primaryTTS, err := create("tts", cfg.Providers.TTS, reg.CreateTTS)
	if err != nil {
		return nil, err
	}
	fallbackTTS, err := create("tts_fallback", cfg.Providers.TTSFallback, reg.CreateTTS)
	if err != nil {
		return nil, err
	}
	switch {
	case primaryTTS != nil && fallbackTTS != nil:
		f := resilience.NewTTSFallback(primaryTTS, cfg.Providers.TTS.Name, resilience.FallbackConfig{})
		f.AddFallback(cfg.Providers.TTSFallback.Name, fallbackTTS)
		ps.TTS = f
	case primaryTTS != nil:
		ps.TTS = primaryTTS
	default:
		ps.TTS = fallbackTTS
	}

	return ps, nil
}

// create builds one provider slot. A disabled entry, an unregistered name or
// a missing credential yields the zero value and no error.
func create[P any](kind string, entry config.ProviderEntry, factory func(config.ProviderEntry) (P, error)) (P, error) {
	var zero P
	if !entry.Enabled() {
		return zero, nil
	}
	p, err := factory(entry)
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		slog.Debug("provider not implemented, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	case errors.Is(err, types.ErrConfiguration):
		slog.Warn("provider disabled: credential missing", "kind", kind, "name", entry.Name, "err", err)
		return zero, nil
	case err != nil:
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return p, nil
}
