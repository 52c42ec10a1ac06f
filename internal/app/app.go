// Package app wires the simulator subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the scenario catalogue,
// the report store, the feedback generator, the speech output, the text chat
// session and the voice call factory, and assembles them into one
// [conversation.Conversation]. Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithDevices,
// WithStore, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/MrWong99/advisorsim/internal/config"
	"github.com/MrWong99/advisorsim/internal/conversation"
	"github.com/MrWong99/advisorsim/internal/feedback"
	"github.com/MrWong99/advisorsim/internal/health"
	"github.com/MrWong99/advisorsim/internal/live"
	"github.com/MrWong99/advisorsim/internal/observe"
	"github.com/MrWong99/advisorsim/internal/scenario"
	"github.com/MrWong99/advisorsim/internal/session"
	"github.com/MrWong99/advisorsim/internal/speech"
	"github.com/MrWong99/advisorsim/pkg/audio"
	"github.com/MrWong99/advisorsim/pkg/provider/chat"
	"github.com/MrWong99/advisorsim/pkg/provider/llm"
	"github.com/MrWong99/advisorsim/pkg/provider/s2s"
	"github.com/MrWong99/advisorsim/pkg/provider/tts"
	"github.com/MrWong99/advisorsim/pkg/types"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Chat chat.Provider
	LLM  llm.Provider
	S2S  s2s.Provider
	TTS  tts.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	metrics   *observe.Metrics
	convOpts  []conversation.Option

	devices   audio.Devices
	catalogue *scenario.Catalogue
	store     feedback.Store
	pinger    func(ctx context.Context) error
	generator *feedback.Generator
	speaker   *speech.Speaker
	conv      *conversation.Conversation
	sessions  *SessionManager

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevices injects the audio devices instead of opening the configured
// backend.
func WithDevices(d audio.Devices) Option {
	return func(a *App) { a.devices = d }
}

// WithStore injects the report store instead of creating one from config.
func WithStore(s feedback.Store) Option {
	return func(a *App) { a.store = s }
}

// WithCatalogue injects the scenario catalogue instead of loading the
// built-in scenarios and the configured files.
func WithCatalogue(c *scenario.Catalogue) Option {
	return func(a *App) { a.catalogue = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithConversationOptions passes extra options, such as level and transcript
// observers, to the conversation.
func WithConversationOptions(opts ...conversation.Option) Option {
	return func(a *App) { a.convOpts = append(a.convOpts, opts...) }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Missing providers
// do not fail startup: the affected feature reports its configuration error
// when used.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initCatalogue(); err != nil {
		return nil, fmt.Errorf("app: init scenarios: %w", err)
	}
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init report store: %w", err)
	}
	if err := a.initGenerator(); err != nil {
		return nil, fmt.Errorf("app: init feedback: %w", err)
	}
	a.initDevices()
	a.initConversation()

	a.sessions = NewSessionManager(SessionManagerConfig{
		Conversation: a.conv,
		Catalogue:    a.catalogue,
		Store:        a.store,
		Logger:       a.log,
	})
	return a, nil
}

// initCatalogue loads the built-in scenarios and layers the configured
// scenario files on top.
func (a *App) initCatalogue() error {
	if a.catalogue != nil {
		return nil
	}
	cat, err := scenario.Builtin()
	if err != nil {
		return err
	}
	for _, path := range a.cfg.Scenarios.Files {
		if err := cat.LoadFile(path); err != nil {
			return fmt.Errorf("load scenario file %q: %w", path, err)
		}
		a.log.Info("loaded scenario file", "path", path)
	}
	a.catalogue = cat
	return nil
}

// initStore opens the configured report store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	switch a.cfg.Feedback.Store {
	case config.StoreFile:
		a.store = feedback.NewFileStore(a.cfg.Feedback.Path)
	case config.StorePostgres:
		ps, err := feedback.NewPostgresStore(ctx, a.cfg.Feedback.DSN)
		if err != nil {
			return err
		}
		a.store = ps
		a.pinger = ps.Ping
		a.closers = append(a.closers, func() error {
			ps.Close()
			return nil
		})
	default:
		a.store = feedback.NopStore{}
	}
	return nil
}

// initGenerator creates the report generator with the configured template.
func (a *App) initGenerator() error {
	opts := []feedback.Option{
		feedback.WithLogger(a.log),
		feedback.WithMetrics(a.metrics),
		feedback.WithTimeout(a.cfg.Feedback.Timeout),
	}
	if path := a.cfg.Feedback.TemplateFile; path != "" {
		tpl, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read template %q: %w", path, err)
		}
		opts = append(opts, feedback.WithTemplate(string(tpl)))
	}
	a.generator = feedback.NewGenerator(a.providers.LLM, opts...)
	return nil
}

// initDevices opens the configured audio backend unless devices were
// injected.
func (a *App) initDevices() {
	if a.devices != nil {
		return
	}
	a.devices = openDevices(a.cfg.Audio.Backend, a.log)
}

// initConversation assembles the text session, speech output and voice call
// factory into the conversation.
func (a *App) initConversation() {
	text := session.NewText(a.providers.Chat,
		session.WithLogger(a.log),
		session.WithMetrics(a.metrics),
	)
	a.speaker = speech.New(a.providers.TTS, a.devices,
		speech.WithLogger(a.log),
		speech.WithMetrics(a.metrics),
	)

	var newLive conversation.LiveFactory
	if a.providers.S2S != nil {
		liveOpts := []live.Option{
			live.WithLogger(a.log),
			live.WithMetrics(a.metrics),
		}
		if v := a.cfg.Providers.S2S.Voice; v != "" {
			liveOpts = append(liveOpts, live.WithVoice(types.VoiceProfile{ID: v, Provider: a.cfg.Providers.S2S.Name}))
		}
		newLive = func(cb live.Callbacks) conversation.LiveSession {
			return live.New(a.providers.S2S, a.devices, cb, liveOpts...)
		}
	}

	opts := append([]conversation.Option{
		conversation.WithLogger(a.log),
		conversation.WithMetrics(a.metrics),
	}, a.convOpts...)
	a.conv = conversation.New(conversation.Deps{
		Text:     text,
		NewLive:  newLive,
		Feedback: a.generator,
		Store:    a.store,
		Speaker:  a.speaker,
	}, opts...)
	a.closers = append(a.closers, a.conv.Close)
}

// Sessions returns the session manager driving the conversation.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Catalogue returns the scenario catalogue.
func (a *App) Catalogue() *scenario.Catalogue { return a.catalogue }

// Checkers returns the readiness checks of the configured providers and
// the report store.
func (a *App) Checkers() []health.Checker {
	var checks []health.Checker
	if p := a.providers.Chat; p != nil {
		checks = append(checks, health.Credential("chat", p.Validate))
	} else {
		checks = append(checks, health.Credential("chat", missing("chat")))
	}
	if p := a.providers.S2S; p != nil {
		checks = append(checks, health.Credential("live", p.Validate))
	}
	if a.pinger != nil {
		checks = append(checks, health.Ping("report_store", a.pinger))
	}
	return checks
}

// Status reports the conversation state for the liveness endpoint.
func (a *App) Status() map[string]string {
	st := map[string]string{
		"mode":      a.conv.Mode().String(),
		"scenarios": fmt.Sprint(a.catalogue.Len()),
	}
	if info, ok := a.sessions.Info(); ok {
		st["scenario"] = info.ScenarioID
		st["session"] = info.SessionID
	}
	return st
}

// Reload applies the hot-reloadable parts of a config change: the log level,
// added scenario files and the report template. Anything else is logged as
// requiring a restart.
func (a *App) Reload(old, next *config.Config, level *slog.LevelVar) {
	d := config.Diff(old, next)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && level != nil {
		level.Set(d.NewLogLevel.Slog())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	for _, path := range d.ScenarioFilesAdded {
		if err := a.catalogue.LoadFile(path); err != nil {
			a.log.Warn("scenario file not loaded", "path", path, "err", err)
			continue
		}
		a.log.Info("loaded scenario file", "path", path)
	}
	if d.TemplateChanged {
		a.log.Warn("report template changed; restart to apply", "path", next.Feedback.TemplateFile)
	}
	if d.RestartRequired {
		a.log.Warn("provider, audio or store settings changed; restart to apply")
	}
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

func missing(slot string) func() error {
	return func() error {
		return fmt.Errorf("%w: no %s provider configured", types.ErrConfiguration, slot)
	}
}
