package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lamim/examforge/internal/api"
	"github.com/lamim/examforge/internal/config"
	"github.com/lamim/examforge/internal/judge"
	"github.com/lamim/examforge/internal/keypool"
	"github.com/lamim/examforge/internal/metrics"
	"github.com/lamim/examforge/internal/orchestrator"
	"github.com/lamim/examforge/internal/store"
	"github.com/lamim/examforge/internal/writer"
)

// app holds everything a command needs once configuration is loaded
type app struct {
	cfg      *config.Config
	secrets  *config.Secrets
	logger   *slog.Logger
	logFile  *os.File
	session  *writer.SessionManager
	store    *store.Store
	pool     *keypool.Pool
	limiters *api.RateLimiterPool
	metrics  *metrics.Collector
}

type appOptions struct {
	session     bool   // create (or resume) a session directory with a log file
	resume      string // session name to resume
	credentials bool   // configure the key pool
}

func consoleLevel() (slog.Level, error) {
	if verbose {
		return slog.LevelDebug, nil
	}
	return writer.ParseLevel(logLevel)
}

func newApp(opts appOptions) (*app, error) {
	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return newAppWithConfig(cfg, secrets, opts)
}

func newAppWithConfig(cfg *config.Config, secrets *config.Secrets, opts appOptions) (*app, error) {
	level, err := consoleLevel()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, secrets: secrets}
	if opts.session {
		bootstrap := writer.NewConsoleLogger(os.Stdout, level)
		sm, err := writer.NewSessionManager(cfg.Storage.OutputDir, bootstrap, opts.resume)
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		logger, logFile, err := writer.SetupLogger(sm, os.Stdout, level)
		if err != nil {
			return nil, fmt.Errorf("failed to setup logger: %w", err)
		}
		sm.SetLogger(logger)
		a.session, a.logger, a.logFile = sm, logger, logFile
	} else {
		a.logger = writer.NewConsoleLogger(os.Stdout, level)
	}
	a.metrics = metrics.NewCollector(a.logger)

	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.store = st

	if opts.credentials {
		a.pool = keypool.New(a.logger,
			keypool.WithFailureThreshold(cfg.Credentials.FailureThreshold),
			keypool.WithMetrics(a.metrics))
		if err := a.pool.Configure(cfg.CredentialKeys(secrets)); err != nil {
			a.Close()
			return nil, fmt.Errorf("%w: set API_KEYS or credentials.keys", err)
		}
		a.limiters = api.NewRateLimiterPool(a.logger)
	}
	return a, nil
}

// Close releases the database and flushes the session log
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("Failed to close database", "error", err)
		}
	}
	if a.logFile != nil {
		_ = a.logFile.Sync()
		_ = a.logFile.Close()
	}
}

func (a *app) provider(role string) api.Provider {
	mc := a.cfg.Model(role)
	if mc.Provider == config.ProviderGemini {
		return api.NewGeminiProvider(mc, a.logger)
	}
	return api.NewOpenAIProvider(mc, a.logger)
}

// client builds a completion client for a role on the shared key pool
func (a *app) client(role string) *api.Client {
	mc := a.cfg.Model(role)
	return api.NewClient(a.provider(role), a.pool, a.logger,
		api.WithRateLimit(a.limiters, mc.RateLimitPerMinute),
		api.WithMetrics(a.metrics),
		api.WithCooldown(config.Seconds(a.cfg.Credentials.CooldownSeconds, api.DefaultCooldown)),
		api.WithAttemptsPerKey(a.cfg.Credentials.AttemptsPerKey))
}

func (a *app) clients() orchestrator.Clients {
	return orchestrator.Clients{
		Generator: a.client(config.RoleGenerator),
		Solver:    a.client(config.RoleSolver),
		Validator: judge.New(a.cfg, a.client(config.RoleValidator), a.logger),
	}
}

// runJob runs job until it returns, serving metrics alongside it when an
// address is configured. The first SIGINT/SIGTERM stops the job after the
// current item, a second one cancels it. SIGUSR1 toggles pause.
func (a *app) runJob(control *orchestrator.Control, job func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigs)
	go a.watchSignals(ctx, sigs, control, cancel)

	g, gctx := errgroup.WithContext(ctx)

	addr := metricsAddr
	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			a.logger.Info("Serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return job(gctx)
	})
	return g.Wait()
}

func (a *app) watchSignals(ctx context.Context, sigs <-chan os.Signal, control *orchestrator.Control, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			if sig == syscall.SIGUSR1 {
				if control.TogglePause() {
					a.logger.Warn("Paused; send SIGUSR1 again to resume")
				} else {
					a.logger.Warn("Resumed")
				}
				continue
			}
			if !control.IsStopped() {
				control.Stop()
				a.logger.Warn("Stopping after the current item; signal again to abort", "signal", sig.String())
				continue
			}
			a.logger.Warn("Aborting", "signal", sig.String())
			cancel()
			return
		}
	}
}
