// Command slashvoice is the main entry point for the Super Slash voice server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/superslash/slashvoice/internal/app"
	"github.com/superslash/slashvoice/internal/config"
	"github.com/superslash/slashvoice/internal/observe"
	"github.com/superslash/slashvoice/pkg/audio"
	"github.com/superslash/slashvoice/pkg/audio/local"
	"github.com/superslash/slashvoice/pkg/provider/chat"
	chatgemini "github.com/superslash/slashvoice/pkg/provider/chat/gemini"
	chatopenai "github.com/superslash/slashvoice/pkg/provider/chat/openai"
	"github.com/superslash/slashvoice/pkg/provider/live"
	livegemini "github.com/superslash/slashvoice/pkg/provider/live/gemini"
	liveopenai "github.com/superslash/slashvoice/pkg/provider/live/openai"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload hot-reloadable settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if application != nil {
			application.ApplyConfig(old, new)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "slashvoice: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "slashvoice: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("slashvoice starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "slashvoice",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if c, ok := providers.Audio.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				slog.Warn("audio platform close error", "err", err)
			}
		}()
	}

	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithMetrics(tel.Metrics),
		app.WithMetricsHandler(tel.Handler),
		app.WithLevelVar(&level),
	}
	if *watch {
		opts = append(opts, app.WithWatcher(watcher))

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-hup:
					slog.Info("SIGHUP received, reloading config")
					watcher.Reload()
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	application, err = app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Live ──────────────────────────────────────────────────────────────────

	reg.RegisterLive("gemini", func(entry config.ProviderEntry) (live.Provider, error) {
		if entry.APIKey == "" {
			return nil, errors.New("gemini live: api_key is required")
		}
		var opts []livegemini.Option
		if entry.Model != "" {
			opts = append(opts, livegemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, livegemini.WithBaseURL(entry.BaseURL))
		}
		return livegemini.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive("openai", func(entry config.ProviderEntry) (live.Provider, error) {
		if entry.APIKey == "" {
			return nil, errors.New("openai live: api_key is required")
		}
		var opts []liveopenai.Option
		if entry.Model != "" {
			opts = append(opts, liveopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, liveopenai.WithBaseURL(entry.BaseURL))
		}
		if model := optString(entry.Options, "transcription_model"); model != "" {
			opts = append(opts, liveopenai.WithTranscriptionModel(model))
		}
		return liveopenai.New(entry.APIKey, opts...), nil
	})

	// ── Chat ──────────────────────────────────────────────────────────────────

	reg.RegisterChat("gemini", func(entry config.ProviderEntry) (chat.Provider, error) {
		var opts []chatgemini.Option
		if entry.Model != "" {
			opts = append(opts, chatgemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, chatgemini.WithBaseURL(entry.BaseURL))
		}
		if prompt := optString(entry.Options, "system_prompt"); prompt != "" {
			opts = append(opts, chatgemini.WithSystemPrompt(prompt))
		}
		return chatgemini.New(entry.APIKey, opts...)
	})

	reg.RegisterChat("openai", func(entry config.ProviderEntry) (chat.Provider, error) {
		var opts []chatopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, chatopenai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, chatopenai.WithOrganization(org))
		}
		if prompt := optString(entry.Options, "system_prompt"); prompt != "" {
			opts = append(opts, chatopenai.WithSystemPrompt(prompt))
		}
		if model := optString(entry.Options, "transcription_model"); model != "" {
			opts = append(opts, chatopenai.WithTranscriptionModel(model))
		}
		return chatopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("local", func(entry config.ProviderEntry) (audio.Platform, error) {
		var opts []local.Option
		if ms := optInt(entry.Options, "period_ms"); ms > 0 {
			opts = append(opts, local.WithPeriod(ms))
		}
		return local.New(opts...)
	})

	for _, kind := range []string{"live", "chat", "audio"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	var err error

	if ps.Live, err = create("live", cfg.Providers.Live, reg.CreateLive); err != nil {
		return nil, err
	}
	if ps.Chat, err = create("chat", cfg.Providers.Chat, reg.CreateChat); err != nil {
		return nil, err
	}
	if ps.ChatFallback, err = create("chat_fallback", cfg.Providers.ChatFallback, reg.CreateChat); err != nil {
		return nil, err
	}
	if ps.Audio, err = create("audio", cfg.Providers.Audio, reg.CreateAudio); err != nil {
		return nil, err
	}
	return ps, nil
}

// create builds one provider slot. An empty name leaves the slot nil; an
// unregistered name is logged and skipped.
func create[T any](kind string, entry config.ProviderEntry, factory func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, nil
	}
	p, err := factory(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not registered, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, err
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Slashvoice - startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Live", cfg.Providers.Live.Name, cfg.Providers.Live.Model)
	printProvider("Chat", cfg.Providers.Chat.Name, cfg.Providers.Chat.Model)
	printProvider("Fallback", cfg.Providers.ChatFallback.Name, cfg.Providers.ChatFallback.Model)
	printProvider("Audio", cfg.Providers.Audio.Name, "")
	printValue("Voice", cfg.Session.Voice)
	printValue("Input rate", fmt.Sprintf("%d Hz", cfg.Session.InputSampleRate))
	printValue("Output rate", fmt.Sprintf("%d Hz", cfg.Session.OutputSampleRate))
	if cfg.Memory.PostgresDSN != "" {
		printValue("Archive", "postgres")
	} else {
		printValue("Archive", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printValue("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printValue(kind, value)
}

func printValue(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// whole numbers as int; other types yield 0.
func optInt(opts map[string]any, key string) int {
	n, _ := opts[key].(int)
	return n
}
