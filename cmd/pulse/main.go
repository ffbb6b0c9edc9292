// Command pulse runs the market dashboard client against a live service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/pulse/config"
	"github.com/coachpo/pulse/internal/api"
	"github.com/coachpo/pulse/internal/chart"
	"github.com/coachpo/pulse/internal/dashboard"
	"github.com/coachpo/pulse/internal/inspect"
	"github.com/coachpo/pulse/internal/observability"
	"github.com/coachpo/pulse/internal/stream"
	"github.com/coachpo/pulse/internal/telemetry"
)

const (
	defaultConfigPath        = "config/pulse.yaml"
	defaultDotEnvPath        = ".env"
	pulseLoggerPrefix        = "pulse "
	shutdownTimeout          = 15 * time.Second
	inspectorShutdownTimeout = 5 * time.Second
	dashboardShutdownTimeout = 5 * time.Second
	lifecycleShutdownTimeout = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	statusReportInterval     = time.Minute
)

func main() {
	cfgPathFlag, envPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newPulseLogger()

	if err := config.LoadDotEnv(envPathFlag); err != nil {
		logger.Fatalf("load dotenv: %v", err)
	}
	configPath := resolveConfigPath(cfgPathFlag)
	settings, loadedFromFile, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	logger.Printf("configuration initialised: env=%s, stream=%s, api=%s",
		settings.Environment, settings.Stream.URL, settings.API.BaseURL)

	observability.SetLogger(observability.NewStdLogger(logger, settings.Debug))

	telemetryProvider, err := initTelemetry(ctx, logger, settings)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	board, err := buildDashboard(settings)
	if err != nil {
		logger.Fatalf("build dashboard: %v", err)
	}
	if err := board.Start(ctx); err != nil {
		logger.Fatalf("start dashboard: %v", err)
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() { reportStatus(ctx, logger, board) })

	var inspector *inspect.Server
	if settings.Inspector.Enabled {
		inspector = inspect.NewServer(board, inspect.Options{Addr: settings.Inspector.Addr, Debug: settings.Debug})
		lifecycle.Go(func() {
			if err := inspector.ListenAndServe(); err != nil {
				logger.Printf("inspector: %v", err)
			}
		})
	}

	logger.Print("pulse started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	err = performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		inspector:  inspector,
		dashboard:  board,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		telemetry:  telemetryProvider,
	})
	if err != nil {
		logger.Printf("shutdown completed with errors in %v", time.Since(shutdownStart))
		os.Exit(1)
	}
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() (string, string) {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to configuration file (default: %s)", defaultConfigPath))
	envPath := flag.String("env", defaultDotEnvPath, "Path to an optional .env file")
	flag.Parse()
	return *cfgPath, *envPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newPulseLogger() *log.Logger {
	return log.New(os.Stdout, pulseLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}

func initTelemetry(ctx context.Context, logger *log.Logger, settings config.Settings) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if settings.Telemetry.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = settings.Telemetry.OTLPEndpoint
	}
	if settings.Telemetry.ServiceName != "" {
		telemetryCfg.ServiceName = settings.Telemetry.ServiceName
	}
	telemetryCfg.Environment = string(settings.Environment)
	telemetryCfg.OTLPInsecure = settings.Telemetry.OTLPInsecure
	telemetryCfg.Enabled = settings.Telemetry.Enabled

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

func streamOptions(settings config.Settings) stream.Options {
	return stream.Options{
		ReconnectDelay:   settings.Stream.ReconnectDelay,
		MaxAttempts:      settings.Stream.MaxReconnectAttempts,
		PingInterval:     settings.Stream.PingInterval,
		HandshakeTimeout: settings.Stream.HandshakeTimeout,
		ReadLimit:        settings.Stream.ReadLimitBytes,
	}
}

func apiOptions(settings config.Settings) api.Options {
	return api.Options{
		BaseURL:           settings.API.BaseURL,
		Timeout:           settings.API.HTTPTimeout,
		RequestsPerSecond: settings.API.RequestsPerSecond,
		Burst:             settings.API.Burst,
	}
}

func dashboardConfig(settings config.Settings) (dashboard.Config, error) {
	res, err := chart.ParseResolution(settings.Chart.DefaultResolution)
	if err != nil {
		return dashboard.Config{}, fmt.Errorf("chart.defaultResolution: %w", err)
	}
	return dashboard.Config{
		URL:               settings.Stream.URL,
		PageSize:          settings.Feeds.PageSize,
		ChartResolution:   res,
		MaxPoints:         settings.Chart.MaxPoints,
		SentimentEnabled:  settings.Sentiment.Enabled,
		SentimentInterval: settings.Sentiment.Interval,
	}, nil
}

func buildDashboard(settings config.Settings) (*dashboard.Dashboard, error) {
	cfg, err := dashboardConfig(settings)
	if err != nil {
		return nil, err
	}
	conn := stream.NewManager(streamOptions(settings))
	client := api.NewClient(apiOptions(settings))
	return dashboard.New(cfg, conn, client), nil
}

func reportStatus(ctx context.Context, logger *log.Logger, board *dashboard.Dashboard) {
	ticker := time.NewTicker(statusReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := board.State()
			logger.Printf("status: connection=%s, attempts=%d, symbols=%d, messages=%d, news=%d, sentiment=%d",
				st.Connection.State, st.Connection.Attempts, len(st.Rows), len(st.Messages), len(st.News), st.Sentiment.Value)
		}
	}
}

type gracefulShutdownConfig struct {
	inspector  *inspect.Server
	dashboard  *dashboard.Dashboard
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) error {
	var failures []error
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.inspector != nil {
		shutdownStep("stopping inspector", inspectorShutdownTimeout, cfg.inspector.Shutdown)
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.dashboard != nil {
		shutdownStep("stopping dashboard", dashboardShutdownTimeout, cfg.dashboard.Stop)
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, cfg.telemetry.Shutdown)
	}

	return observability.AggregateErrors("shutdown", failures)
}
