// Command advisorsim is the terminal front end of the bank advisor training
// simulator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/advisorsim/internal/app"
	"github.com/MrWong99/advisorsim/internal/config"
	"github.com/MrWong99/advisorsim/internal/conversation"
	"github.com/MrWong99/advisorsim/internal/health"
	"github.com/MrWong99/advisorsim/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	listenAddr := flag.String("listen", "", "address of the metrics and health endpoint; overrides server.listen_addr")
	envFile := flag.String("env", ".env", "dotenv file holding API keys")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "advisorsim: read %s: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "advisorsim: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "advisorsim: %v\n", err)
		}
		return 1
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Slog())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("advisorsim starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Init(ctx, observe.TelemetryConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg, providers)

	con := newConsole(os.Stdout)
	application, err := app.New(ctx, cfg, providers,
		app.WithLogger(logger),
		app.WithMetrics(metrics),
		app.WithConversationOptions(
			conversation.WithLevelObserver(con.Level),
			conversation.WithTranscriptObserver(con.Turn),
		),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	con.voice = func() bool { return application.Sessions().Mode() == conversation.ModeVoiceActive }

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *configPath != "" {
		w, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
			application.Reload(old, next, &level)
		}, config.WithWatcherLogger(logger))
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	if addr := cfg.Server.ListenAddr; addr != "" {
		handler := opsHandler(application, metrics, tel.MetricsHandler())
		g.Go(func() error { return serveOps(gctx, addr, handler) })
	}
	g.Go(func() error {
		// Leaving the REPL stops everything else.
		defer stop()
		r := &repl{
			sessions:  application.Sessions(),
			catalogue: application.Catalogue(),
			con:       con,
			in:        os.Stdin,
		}
		return r.Run(gctx)
	})

	exit := 0
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exit
}

// loadConfig reads path, or builds the default config with credentials from
// the environment when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(path)
}

// opsHandler serves /metrics, /healthz and /readyz.
func opsHandler(application *app.App, metrics *observe.Metrics, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	health.New(application.Checkers(), health.WithStatus(application.Status)).Register(mux)
	return observe.Middleware(metrics)(mux)
}

// serveOps runs the operations server until ctx is done.
func serveOps(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("operations endpoint listening", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("operations server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("operations server shutdown: %w", err)
	}
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, ps *app.Providers) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      advisorsim - startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Chat", cfg.Providers.Chat, ps.Chat != nil)
	printProvider("Report", cfg.Providers.LLM, ps.LLM != nil)
	printProvider("Voice", cfg.Providers.S2S, ps.S2S != nil)
	printProvider("Speech", cfg.Providers.TTS, ps.TTS != nil)
	fmt.Printf("║  %-12s    : %-19s ║\n", "Audio", cfg.Audio.Backend)
	fmt.Printf("║  %-12s    : %-19s ║\n", "Reports", cfg.Feedback.Store)
	fmt.Printf("║  %-12s    : %-19d ║\n", "Scen. files", len(cfg.Scenarios.Files))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  %-12s    : %-19s ║\n", "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind string, entry config.ProviderEntry, ready bool) {
	value := entry.Name
	switch {
	case value == "":
		value = "(not configured)"
	case !ready:
		value += " (no key)"
	case entry.Model != "":
		value += " / " + entry.Model
	}
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
