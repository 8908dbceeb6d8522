// Package app wires the parley server: configuration, logging, storage,
// HTTP routes and graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"parley/cmd/identity"
	authapi "parley/cmd/internal/auth/api"
	"parley/cmd/internal/auth/oauth"
	"parley/cmd/internal/auth/session"
	"parley/cmd/internal/chat"
	chatapi "parley/cmd/internal/chat/api"
	"parley/cmd/internal/metrics"
	"parley/cmd/internal/realtime"
	"parley/cmd/security/password"
	"parley/cmd/security/token"
)

// Deps are the pieces New assembles. Tests build them directly.
type Deps struct {
	Ledger   *identity.Ledger
	Sessions *session.Service
	Chats    *chat.Orchestrator
	Store    chat.Store
	Audit    authapi.AuditSink
	Pool     *pgxpool.Pool
	Registry *prometheus.Registry
	Metrics  *metrics.Collector
}

// App owns the HTTP server and every long-lived dependency.
type App struct {
	cfg  Config
	log  *slog.Logger
	deps Deps

	handler http.Handler
}

// New connects storage, loads package configs and builds the router.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	col := metrics.NewCollector(reg)

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		p, err := NewDBPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		pool = p
		log.Info("db.enabled", "schema", cfg.DBSchema, "migrate", cfg.DBMigrate)
	} else {
		log.Warn("db.disabled.memory_stores")
	}

	deps, err := buildDeps(cfg, log, pool, col)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}
	deps.Registry = reg

	a, err := newApp(cfg, log, deps)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}
	return a, nil
}

func buildDeps(cfg Config, log *slog.Logger, pool *pgxpool.Pool, col *metrics.Collector) (Deps, error) {
	passwords, err := password.FromEnv()
	if err != nil {
		return Deps{}, err
	}
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return Deps{}, err
	}
	hasher, err := token.HasherFromEnv(sessCfg.RequireTokenHMAC)
	if err != nil {
		return Deps{}, fmt.Errorf("%w: %w", session.ErrConfig, err)
	}
	chatCfg, err := chat.LoadConfigFromEnv()
	if err != nil {
		return Deps{}, err
	}
	llmCfg, err := chat.LoadLLMConfigFromEnv()
	if err != nil {
		return Deps{}, err
	}

	var (
		users    identity.Store
		entries  session.Store
		messages chat.Store
		audit    authapi.AuditSink = authapi.NopAudit{}
	)
	if pool != nil {
		if users, err = identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema)); err != nil {
			return Deps{}, err
		}
		if entries, err = session.NewPostgresStore(pool, cfg.DBSchema); err != nil {
			return Deps{}, err
		}
		if messages, err = chat.NewPostgresStore(pool, chat.WithSchema(cfg.DBSchema)); err != nil {
			return Deps{}, err
		}
		audit = authapi.NewPostgresAudit(pool, cfg.DBSchema, log)
	} else {
		users = identity.NewMemoryStore()
		entries = session.NewMemoryStore()
		messages = chat.NewMemoryStore()
	}

	sessions, err := session.NewService(sessCfg, entries,
		session.WithHasher(hasher),
		session.WithLogger(log),
		session.WithObserver(col),
	)
	if err != nil {
		return Deps{}, err
	}

	gen, err := chat.NewGenerator(llmCfg, nil)
	if err != nil {
		return Deps{}, err
	}
	orch, err := chat.NewOrchestrator(messages, gen, chatCfg, chat.WithLogger(log), chat.WithObserver(col))
	if err != nil {
		return Deps{}, err
	}
	log.Info("chat.generator", "provider", gen.Name(), "model", chatCfg.DefaultModel)

	return Deps{
		Ledger:   identity.NewLedger(users, passwords),
		Sessions: sessions,
		Chats:    orch,
		Store:    messages,
		Audit:    audit,
		Pool:     pool,
		Metrics:  col,
	}, nil
}

func newApp(cfg Config, log *slog.Logger, deps Deps) (*App, error) {
	authCfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	wsCfg, err := realtime.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	oauthCfg, err := oauth.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	var opts []authapi.HandlerOption
	if deps.Audit != nil {
		opts = append(opts, authapi.WithAudit(deps.Audit))
	}
	if oauthCfg.Google.Enabled() {
		opts = append(opts, authapi.WithOAuth(oauth.NewGoogle(oauthCfg.Google, nil), oauthCfg))
		log.Info("auth.oauth.enabled", "provider", "google")
	}
	auth, err := authapi.NewHandler(log, deps.Ledger, deps.Sessions, authCfg, opts...)
	if err != nil {
		return nil, err
	}

	rt := routes{
		log:  log,
		cfg:  cfg,
		pool: deps.Pool,
		auth: auth,
		chat: chatapi.NewHandler(log, deps.Chats, deps.Store),
		ws:   realtime.NewGateway(log, deps.Chats, wsCfg),
		reg:  deps.Registry,
		rec:  deps.Metrics,
	}
	return &App{cfg: cfg, log: log, deps: deps, handler: rt.handler()}, nil
}

// Handler is the fully wrapped root handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves until ctx is done, then shuts down in order: HTTP server,
// chat sessions, refresh-entry sweeper, database pool.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	// Live streams hold their handlers open; aborting them lets Shutdown drain.
	srv.RegisterOnShutdown(func() {
		sctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		_ = a.deps.Chats.Shutdown(sctx)
	})

	sweepCtx, stopSweep := context.WithCancel(context.WithoutCancel(ctx))
	var sweeper sync.WaitGroup
	sweeper.Go(func() { a.deps.Sessions.RunSweeper(sweepCtx) })

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.deps.Pool != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "signal")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		runErr = errors.Join(runErr, err)
	}
	if err := a.deps.Chats.Shutdown(shutdownCtx); err != nil {
		a.log.Error("chat.shutdown.fail", "err", err)
	}
	stopSweep()
	sweeper.Wait()
	a.Close()

	a.log.Info("server.stopped")
	return runErr
}

// Close releases the database pool.
func (a *App) Close() {
	if a.deps.Pool != nil {
		a.deps.Pool.Close()
	}
}
