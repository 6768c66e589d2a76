package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/harun/callcore/internal/config"
	"github.com/harun/callcore/internal/logger"
	"github.com/harun/callcore/internal/observability"
	"github.com/harun/callcore/internal/tracing"
	"github.com/harun/callcore/pkg/agent"
	"github.com/harun/callcore/pkg/manifest"
	"github.com/spf13/cobra"
)

const defaultInstructions = "You are a helpful voice agent. Keep answers short and confirm details back to the caller."

// app bundles what every command loads before doing work
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *http.Server
}

func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if flag := cmd.Flags().Lookup("log-level"); flag != nil && flag.Changed {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}
	if cfg.Tracing.Enabled {
		err := tracing.InitOpenTelemetry(tracing.Config{
			ServiceName: "callcore",
			Version:     version,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Tracing disabled")
		}
	}
	if metricsAddr != "" {
		if err := a.serveMetrics(metricsAddr); err != nil {
			_ = log.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) serveMetrics(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	a.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := a.metrics.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
	a.log.Info().Str("addr", listener.Addr().String()).Msg("Serving metrics")
	return nil
}

func (a *app) close() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.metrics.Shutdown(ctx)
	}
	if a.cfg.Tracing.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			a.log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}
	_ = a.log.Close()
}

// resolverConfigs builds the session resolver configuration: instructions,
// model and session filler pools from the config, then the tool manifest.
func (a *app) resolverConfigs(manifestPath string) ([]agent.ResolverConfig, error) {
	instructions := defaultInstructions
	if a.cfg.InstructionsPath != "" {
		data, err := os.ReadFile(a.cfg.InstructionsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read instructions: %w", err)
		}
		instructions = string(data)
	}

	llm := a.cfg.AgentLLM()
	configs := []agent.ResolverConfig{{
		InstructionsTemplate: instructions,
		LLMConfig:            &llm,
		FillerPhrases:        a.cfg.Fillers.Phrases,
	}}

	if manifestPath == "" {
		manifestPath = a.cfg.Tools.ManifestPath
	}
	if manifestPath != "" {
		m, err := manifest.Load(manifestPath)
		if err != nil {
			return nil, err
		}
		configs = append(configs, m.ResolverConfig())
	}
	return configs, nil
}
