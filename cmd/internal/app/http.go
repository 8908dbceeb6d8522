package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	authapi "parley/cmd/internal/auth/api"
	chatapi "parley/cmd/internal/chat/api"
	"parley/cmd/internal/metrics"
	"parley/cmd/internal/realtime"
)

type routes struct {
	log  *slog.Logger
	cfg  Config
	pool *pgxpool.Pool
	auth *authapi.Handler
	chat *chatapi.Handler
	ws   *realtime.Gateway
	reg  *prometheus.Registry
	rec  *metrics.Collector
}

func (rt routes) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(WithSecurityHeaders)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/readyz", rt.readyz)
	if rt.cfg.MetricsEnabled && rt.reg != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(rt.reg))
	}

	rt.auth.Routes(r)
	r.Group(func(r chi.Router) {
		r.Use(rt.auth.RequireAccess)
		rt.chat.Routes(r)
	})
	r.With(rt.auth.RequireAccessOrQuery).Get("/ws/chat", rt.ws.ServeHTTP)

	var h http.Handler = r
	if len(rt.cfg.CORSAllowedOrigins) > 0 {
		h = WithCORS(h, rt.cfg, rt.log)
	}
	var rec HTTPRecorder
	if rt.rec != nil {
		rec = rt.rec
	}
	return WithRequestLogging(h, rt.log, rec)
}

func (rt routes) readyz(w http.ResponseWriter, r *http.Request) {
	if rt.pool == nil {
		if rt.cfg.ReadinessRequireDB {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}
	} else if err := PingDB(r.Context(), rt.pool, 2*time.Second); err != nil {
		rt.log.Warn("readyz.db.not_ready", "err", err)
		http.Error(w, "db not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}
