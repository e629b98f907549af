package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/tinytelemetry/sage/internal/logsource"
	"github.com/tinytelemetry/sage/internal/otlpserver"
	"github.com/tinytelemetry/sage/internal/tcpserver"
)

// NamedLogSource aliases the shared source abstraction to keep app-layer APIs explicit.
type NamedLogSource = logsource.LogSource

// InputSourcePlugin is a small plugin primitive for wiring log inputs.
type InputSourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (NamedLogSource, error)
}

// InputPluginConfig defines runtime input selection.
type InputPluginConfig struct {
	TCPEnabled  bool
	TCPAddr     string
	OTLPEnabled bool
	OTLPAddr    string
	Logger      *zap.Logger
}

func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	plugins := make([]InputSourcePlugin, 0, 3)
	plugins = append(plugins, tcpInputPlugin{
		addr:    cfg.TCPAddr,
		enabled: cfg.TCPEnabled,
		log:     log,
	})
	plugins = append(plugins, otlpInputPlugin{
		addr:    cfg.OTLPAddr,
		enabled: cfg.OTLPEnabled,
		log:     log,
	})
	plugins = append(plugins, stdinInputPlugin{log: log})
	return plugins
}

type tcpInputPlugin struct {
	addr    string
	enabled bool
	log     *zap.Logger
}

func (p tcpInputPlugin) Name() string { return "tcp" }

func (p tcpInputPlugin) Enabled() bool { return p.enabled }

func (p tcpInputPlugin) Build(_ context.Context) (NamedLogSource, error) {
	server := tcpserver.NewServer(p.addr, tcpserver.ServerConfig{Logger: p.log.Named("tcp")})
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start tcp server: %w", err)
	}
	return logsource.NewTCPSource(server), nil
}

type otlpInputPlugin struct {
	addr    string
	enabled bool
	log     *zap.Logger
}

func (p otlpInputPlugin) Name() string { return "otlp" }

func (p otlpInputPlugin) Enabled() bool { return p.enabled }

func (p otlpInputPlugin) Build(_ context.Context) (NamedLogSource, error) {
	server := otlpserver.NewServer(p.addr, otlpserver.ServerConfig{Logger: p.log.Named("otlp")})
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start otlp receiver: %w", err)
	}
	return logsource.NewOTLPSource(server), nil
}

type stdinInputPlugin struct {
	log *zap.Logger
}

func (p stdinInputPlugin) Name() string { return "stdin" }

func (p stdinInputPlugin) Enabled() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func (p stdinInputPlugin) Build(ctx context.Context) (NamedLogSource, error) {
	return logsource.NewStdinSource(ctx, logsource.StdinConfig{Logger: p.log.Named("stdin")}), nil
}
