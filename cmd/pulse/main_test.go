package main

import (
	"bytes"
	"context"
	"log"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/pulse/config"
	"github.com/coachpo/pulse/internal/chart"
	"github.com/coachpo/pulse/internal/telemetry"
)

func TestResolveConfigPathDefaults(t *testing.T) {
	require.Equal(t, "config/pulse.yaml", resolveConfigPath(""))
	require.Equal(t, "/etc/pulse.yaml", resolveConfigPath("/etc/pulse.yaml"))
}

func TestDashboardConfigFromSettings(t *testing.T) {
	settings := config.Default()
	settings.Chart.DefaultResolution = "4h"
	settings.Feeds.PageSize = 50

	cfg, err := dashboardConfig(settings)
	require.NoError(t, err)
	require.Equal(t, chart.Res4h, cfg.ChartResolution)
	require.Equal(t, 50, cfg.PageSize)
	require.Equal(t, settings.Stream.URL, cfg.URL)
	require.True(t, cfg.SentimentEnabled)

	settings.Chart.DefaultResolution = "7d"
	_, err = dashboardConfig(settings)
	require.Error(t, err)
}

func TestStreamAndAPIOptionsFromSettings(t *testing.T) {
	settings := config.Default()
	opts := streamOptions(settings)
	require.Equal(t, 3*time.Second, opts.ReconnectDelay)
	require.Equal(t, 10, opts.MaxAttempts)
	require.Equal(t, settings.Stream.ReadLimitBytes, opts.ReadLimit)

	apiOpts := apiOptions(settings)
	require.Equal(t, settings.API.BaseURL, apiOpts.BaseURL)
	require.Equal(t, settings.API.Burst, apiOpts.Burst)
}

func TestGracefulShutdownRunsSteps(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	provider, err := telemetry.NewProvider(context.Background(), telemetry.DefaultConfig())
	require.NoError(t, err)

	var lifecycle conc.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	lifecycle.Go(func() { <-ctx.Done() })

	err = performGracefulShutdown(context.Background(), logger, gracefulShutdownConfig{
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		telemetry:  provider,
	})
	require.NoError(t, err)
	require.Contains(t, buf.String(), "shutdown: waiting for lifecycle goroutines completed")
	require.Contains(t, buf.String(), "shutdown: shutting down telemetry completed")
}

func TestGracefulShutdownReportsTimeouts(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	block := make(chan struct{})
	defer close(block)
	var lifecycle conc.WaitGroup
	lifecycle.Go(func() { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := performGracefulShutdown(ctx, logger, gracefulShutdownConfig{lifecycle: &lifecycle})
	require.Error(t, err)
	require.Contains(t, err.Error(), "waiting for lifecycle goroutines")
}
