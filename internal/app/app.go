// Package app wires the slashvoice subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSessionStore, WithMetrics, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/superslash/slashvoice/internal/config"
	"github.com/superslash/slashvoice/internal/health"
	"github.com/superslash/slashvoice/internal/observe"
	"github.com/superslash/slashvoice/internal/resilience"
	"github.com/superslash/slashvoice/internal/session"
	"github.com/superslash/slashvoice/pkg/audio"
	"github.com/superslash/slashvoice/pkg/memory"
	"github.com/superslash/slashvoice/pkg/memory/postgres"
	"github.com/superslash/slashvoice/pkg/provider/chat"
	"github.com/superslash/slashvoice/pkg/provider/live"
)

// shutdownTimeout bounds the graceful HTTP shutdown started by Run.
const shutdownTimeout = 15 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Live         live.Provider
	Chat         chat.Provider
	ChatFallback chat.Provider
	Audio        audio.Platform
}

// pinger is implemented by stores that can probe their connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	store    memory.SessionStore
	archive  *session.MemoryGuard
	chat     *resilience.ChatFallback
	sessions *SessionManager

	metrics        *observe.Metrics
	metricsHandler http.Handler
	levelVar       *slog.LevelVar
	watcher        *config.Watcher
	listener       net.Listener

	handler http.Handler
	server  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a transcript archive instead of connecting to the
// configured PostgreSQL database.
func WithSessionStore(s memory.SessionStore) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics used by sessions, chat and the HTTP
// middleware. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets hot-reloaded log levels take effect on v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithWatcher runs w alongside the HTTP server.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithListener serves on l instead of listening on the configured address.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Transcript archive ────────────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	// ── 2. Chat with fallback ────────────────────────────────────────────
	a.initChat()

	// ── 3. Session manager ───────────────────────────────────────────────
	smOpts := []SessionManagerOption{WithSessionMetrics(a.metrics)}
	if a.archive != nil {
		smOpts = append(smOpts, WithArchive(a.archive))
	}
	a.sessions = NewSessionManager(providers.Audio, providers.Live, SessionConfigFrom(cfg.Session), smOpts...)

	// ── 4. HTTP ──────────────────────────────────────────────────────────
	a.handler = observe.Middleware(a.metrics)(a.routes())
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initMemory connects the transcript archive. Without a DSN and without an
// injected store, transcripts are not archived.
func (a *App) initMemory(ctx context.Context) error {
	if a.store == nil && a.cfg.Memory.PostgresDSN != "" {
		store, err := postgres.NewStore(ctx, a.cfg.Memory.PostgresDSN,
			postgres.WithMaxConns(a.cfg.Memory.MaxConns),
		)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	}
	if a.store != nil {
		a.archive = session.NewMemoryGuard(a.store)
	}
	return nil
}

func (a *App) initChat() {
	if a.providers.Chat == nil {
		return
	}
	a.chat = resilience.NewChatFallback(a.providers.Chat, a.cfg.Providers.Chat.Name, resilience.FallbackConfig{},
		resilience.WithChatMetrics(a.metrics),
	)
	if a.providers.ChatFallback != nil {
		a.chat.AddFallback(a.cfg.Providers.ChatFallback.Name, a.providers.ChatFallback)
	}
}

func (a *App) routes() *http.ServeMux {
	mux := http.NewServeMux()

	checkers := []health.Checker{
		health.Configured("live", a.providers.Live != nil && a.providers.Audio != nil),
	}
	if a.chat != nil {
		checkers = append(checkers, health.Flag("chat", func() bool { return !a.chat.Available() }, "all chat providers unavailable"))
	}
	if a.archive != nil {
		checkers = append(checkers, health.Flag("history", a.archive.IsDegraded, "transcript archive unavailable"))
		if p, ok := a.store.(pinger); ok {
			checkers = append(checkers, health.Checker{Name: "history_db", Check: p.Ping, Optional: true})
		}
	}
	health.New(checkers...).Register(mux)

	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}

	h := &handlers{sessions: a.sessions, archive: a.archive, metrics: a.metrics}
	if a.chat != nil {
		h.chat = a.chat
	}
	h.register(mux)
	return mux
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and, if configured, polls the config file until ctx is
// cancelled. It then shuts the server down gracefully and returns.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}
	slog.Info("server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	return g.Wait()
}

// ApplyConfig applies the hot-reloadable parts of a changed config file. It
// is meant to be passed to [config.NewWatcher] as the change callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged {
		a.sessions.SetConfig(SessionConfigFrom(new.Session))
		slog.Info("session settings changed, applying to next session",
			"voice_changed", d.VoiceChanged,
			"instructions_changed", d.InstructionsChanged,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "fields", d.RestartRequired)
	}
}

// SlogLevel converts a config log level to its slog equivalent. Unknown
// values map to Info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the active session, waits for its transcript to be
// archived and releases the stores. It is idempotent.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error
		if err := a.sessions.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		for _, c := range a.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}
