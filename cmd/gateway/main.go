// Command gateway is the wagateway entrypoint: it loads configuration,
// opens the instance store, recovers previously-active workers, starts
// the public HTTP surface, and shuts everything down gracefully on
// SIGINT/SIGTERM — grounded on the teacher's qi.Engine.serve/
// gracefulShutdown pair (see _examples/tokmz-qi/engine.go), reimplemented
// directly over net/http since this gateway doesn't need qi's generic
// route-binding layer.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/shridarpatil/wagateway/internal/authn"
	"github.com/shridarpatil/wagateway/internal/cache"
	"github.com/shridarpatil/wagateway/internal/config"
	"github.com/shridarpatil/wagateway/internal/httpapi"
	"github.com/shridarpatil/wagateway/internal/logging"
	"github.com/shridarpatil/wagateway/internal/metrics"
	"github.com/shridarpatil/wagateway/internal/openapidoc"
	"github.com/shridarpatil/wagateway/internal/proxy"
	"github.com/shridarpatil/wagateway/internal/queue"
	"github.com/shridarpatil/wagateway/internal/resolver"
	"github.com/shridarpatil/wagateway/internal/store"
	"github.com/shridarpatil/wagateway/internal/supervisor"
	"github.com/shridarpatil/wagateway/internal/webhook"
	"github.com/shridarpatil/wagateway/internal/wsmirror"
)

func main() {
	configFile := flag.String("config", "", "optional config file (toml/yaml/json)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("gateway exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return fmt.Errorf("base dir: %w", err)
	}
	if err := os.MkdirAll(cfg.SessionsDir, 0o755); err != nil {
		return fmt.Errorf("sessions dir: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.BaseDir, "gateway.db"), cfg.PortBase, cfg.PortMax)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	res, err := resolver.New(st)
	if err != nil {
		return fmt.Errorf("resolver: %w", err)
	}

	metricsReg := metrics.New()

	mirror := wsmirror.New(cfg.DefaultAdminUser, cfg.DefaultAdminPass, log)
	sink := metrics.WrapSink(metricsReg, &resolverInvalidatingSink{next: mirror, res: res})

	sup := supervisor.New(cfg, st, log, sink)

	queues := queue.NewManager(cfg.QueueSweepEvery, cfg.QueueMaxIdleTime, cfg.QueueJobTimeout)
	prox := proxy.New(cfg.DefaultAdminUser, cfg.DefaultAdminPass, cfg.SessionsDir, cfg.QRWaitDelay, log)
	dispatcher := webhook.New(st, log)

	c, err := cache.New(cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer c.Close()

	var authenticator authn.Authenticator = authn.AllowAll{}
	if cfg.JWTSecret != "" {
		jwtAuth, err := authn.NewJWTAuthenticator(cfg.JWTSecret)
		if err != nil {
			return fmt.Errorf("authn: %w", err)
		}
		authenticator = jwtAuth
	} else {
		log.Warn("no GATEWAY_JWT_SECRET configured: running with authentication disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.RecoverAll(ctx); err != nil {
		log.Error("startup recovery failed", zap.Error(err))
	}
	sup.RunHealthChecks(ctx)

	var metricsRegistry *metrics.Registry
	if cfg.MetricsEnabled {
		metricsRegistry = metricsReg
	}

	engine := httpapi.New(httpapi.Deps{
		Store:           st,
		Resolver:        res,
		Supervisor:      sup,
		Queues:          queues,
		Proxy:           prox,
		Dispatcher:      dispatcher,
		Mirror:          mirror,
		Metrics:         metricsRegistry,
		Cache:           c,
		Auth:            authenticator,
		Log:             log,
		StopTimeout:     cfg.WorkerStopTimeout,
		RateLimit:       cfg.RateLimitRequests,
		RateLimitWindow: cfg.RateLimitWindow,
		OpenAPISpec:     openapidoc.Spec(),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", zap.Int("port", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case <-quit:
		log.Info("shutdown signal received")
	}

	sup.StopHealthChecks()

	if err := httpapi.Shutdown(context.Background(), srv, cfg.ShutdownTimeout); err != nil {
		log.Warn("http server shutdown did not complete cleanly", zap.Error(err))
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stopCancel()
	sup.StopAll(stopCtx, cfg.WorkerStopTimeout)

	queues.Stop()
	log.Info("gateway stopped")
	return nil
}

// resolverInvalidatingSink drops the resolver's cached view of an
// instance whenever the supervisor reports a lifecycle transition, so a
// proxied request immediately after a start/stop/crash sees the fresh
// status instead of a stale cache entry — closes the gap spec.md §4.4's
// resolver cache would otherwise leave between a supervisor-driven status
// change and the next Resolve() call.
type resolverInvalidatingSink struct {
	next supervisor.EventSink
	res  *resolver.Resolver
}

func (s *resolverInvalidatingSink) WorkerStarted(hash string, port int) {
	s.res.Invalidate(hash)
	s.next.WorkerStarted(hash, port)
}

func (s *resolverInvalidatingSink) WorkerStopped(hash string) {
	s.res.Invalidate(hash)
	s.next.WorkerStopped(hash)
}

func (s *resolverInvalidatingSink) ProcessDied(hash string) {
	s.res.Invalidate(hash)
	s.next.ProcessDied(hash)
}
