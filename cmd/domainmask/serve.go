package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/domainmask/pkg/config"
	"github.com/polisai/domainmask/pkg/logging"
	"github.com/polisai/domainmask/pkg/metrics"
	"github.com/polisai/domainmask/pkg/proxy"
	"github.com/polisai/domainmask/pkg/telemetry"
)

const (
	telemetryShutdownTimeout = 5 * time.Second
	gracefulShutdownTimeout  = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the data plane and admin servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("data-listen"); v != "" {
				cfg.Server.DataAddress = v
			}
			if v, _ := cmd.Flags().GetString("admin-listen"); v != "" {
				cfg.Server.AdminAddress = v
			}
			if v, _ := cmd.Flags().GetString("log-level"); v != "" {
				cfg.Logging.Level = v
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().String("data-listen", "", "HTTP listen address for the data plane")
	cmd.Flags().String("admin-listen", "", "HTTP listen address for the admin endpoints")
	cmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	return config.Load(path)
}

// run orchestrates the server lifecycle until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	slog.SetDefault(logger)

	telemetryShutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:  telemetry.DefaultServiceName,
		Endpoint:     cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
		Environment:  cfg.Mask.Environment,
		ResourceTags: map[string]string{"log.level": cfg.Logging.Level},
	})
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}
	defer shutdownTelemetry(logger, telemetryShutdown)

	handler, m, err := buildHandler(cfg, logger)
	if err != nil {
		return err
	}

	dataLn, err := net.Listen("tcp", cfg.Server.DataAddress)
	if err != nil {
		return fmt.Errorf("data plane listen: %w", err)
	}
	adminLn, err := net.Listen("tcp", cfg.Server.AdminAddress)
	if err != nil {
		_ = dataLn.Close()
		return fmt.Errorf("admin listen: %w", err)
	}

	var ready atomic.Bool
	dataSrv := &http.Server{
		Handler:           otelhttp.NewHandler(handler, "domainmask.data"),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	adminSrv := &http.Server{
		Handler:           adminMux(m, &ready),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	serve := func(name string, srv *http.Server, ln net.Listener) {
		logger.Info("server listening", "server", name, "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}
	go serve("data", dataSrv, dataLn)
	go serve("admin", adminSrv, adminLn)
	ready.Store(true)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		logger.Error("server failed", "error", runErr)
	}
	ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := dataSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("data plane server shutdown error", "error", err)
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown error", "error", err)
	}
	return runErr
}

func buildHandler(cfg *config.Config, logger *slog.Logger) (*proxy.Handler, *metrics.Metrics, error) {
	domains, err := cfg.Mask.Domains()
	if err != nil {
		return nil, nil, err
	}
	m := metrics.New()

	aliases := make([]string, 0, len(domains.Aliases))
	for _, alias := range domains.Aliases {
		aliases = append(aliases, alias.String())
	}
	logger.Info("domain mask configured",
		"aliases", aliases,
		"target", domains.Target.String(),
		"environment", cfg.Mask.Environment,
		"cookie_domain_mode", string(cfg.Mask.CookieMode()),
		"pass_through_errors", cfg.Mask.PassThroughErrors,
	)

	return proxy.New(proxy.Config{
		Domains:           domains,
		CookieMode:        cfg.Mask.CookieMode(),
		AnalyticsHosts:    cfg.Mask.AnalyticsHostSet(),
		PassThroughErrors: cfg.Mask.PassThroughErrors,
		Timeouts:          cfg.Mask.Timeouts(),
		Logger:            logger,
		Metrics:           m,
	}), m, nil
}

func adminMux(m *metrics.Metrics, ready *atomic.Bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

func shutdownTelemetry(logger *slog.Logger, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error("telemetry shutdown error", "error", err)
	}
}
