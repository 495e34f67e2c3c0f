package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/credcore/credcore"
	"github.com/credcore/credcore/internal/httpapi"
	"github.com/credcore/credcore/internal/rate"
	"github.com/credcore/credcore/maintenance"
	promexport "github.com/credcore/credcore/metrics/export/prometheus"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the authentication API, Prometheus metrics and health probes
until SIGINT or SIGTERM, then drain in-flight requests.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g, cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	addServerFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, cfg appConfig) error {
	logger := newLogger(cfg.Log, nil)
	slog.SetDefault(logger)
	logger.Info("starting credcored", "addr", cfg.Server.Addr, "store", cfg.Store.Driver, "notifier", cfg.Notifier.Driver)

	b, err := openBackend(ctx, cfg.Store, cfg.Engine.Tokens.RefreshTTL, logger)
	if err != nil {
		return err
	}
	defer b.close()

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}
	engine, err := newEngine(cfg, b.repo, notifier, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	if b.sweeper != nil && cfg.Engine.Activity.Enabled {
		purger := maintenance.NewPurger(maintenance.ConfigFrom(cfg.Engine.Activity), b.sweeper, maintenance.WithLogger(logger))
		purger.Start(ctx)
		defer purger.Stop()
	}

	var ready atomic.Bool
	router := mux.NewRouter()
	opts := httpapi.Options{SessionFlags: b.flags, Logger: logger}
	if cfg.RateLimit.Enabled {
		opts.Limiter = rate.New(b.counter, cfg.Store.RedisPrefix+":rl", cfg.RateLimit.Windows)
	}
	httpapi.New(engine, opts).Register(router)

	ops := router
	if cfg.Server.MetricsAddr != "" {
		ops = mux.NewRouter()
	}
	mountOps(ops, engine, &ready, b.ping)

	var handler http.Handler = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{logger}))(router)
	handler = handlers.CombinedLoggingHandler(os.Stdout, handler)
	if cfg.Server.TrustProxy {
		handler = handlers.ProxyHeaders(handler)
	}

	servers := []*http.Server{newServer(cfg.Server, cfg.Server.Addr, handler)}
	if cfg.Server.MetricsAddr != "" {
		servers = append(servers, newServer(cfg.Server, cfg.Server.MetricsAddr, ops))
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func() {
			logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- oops.With("addr", srv.Addr).Wrap(err)
			}
		}()
	}
	ready.Store(true)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		logger.Error("server failed", "error", serveErr)
	}
	ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("forced shutdown", "addr", srv.Addr, "error", err)
		}
	}
	logger.Info("stopped", "audit_dropped", engine.AuditDropped())
	return serveErr
}

func newServer(cfg serverConfig, addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// mountOps adds /metrics and the Kubernetes-style probes to r.
func mountOps(r *mux.Router, engine *credcore.Engine, ready *atomic.Bool, ping func(context.Context) error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(promexport.NewCollector(engine))

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})).Methods(http.MethodGet)
	r.HandleFunc("/healthz/liveness", func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, http.StatusOK, "ok")
	}).Methods(http.MethodGet)
	r.HandleFunc("/healthz/readiness", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			writeProbe(w, http.StatusServiceUnavailable, "not ready")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ping(ctx); err != nil {
			writeProbe(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		writeProbe(w, http.StatusOK, "ready")
	}).Methods(http.MethodGet)
}

func writeProbe(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	w.Write([]byte(msg + "\n"))
}

// recoveryLogger routes gorilla/handlers panics to slog.
type recoveryLogger struct {
	logger *slog.Logger
}

func (l recoveryLogger) Println(v ...any) {
	l.logger.Error("handler panic", "panic", v)
}
