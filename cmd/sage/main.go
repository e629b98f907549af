package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/sage/internal/model"
	"github.com/tinytelemetry/sage/internal/socketrpc"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

// GetVersionInfo returns the current version and commit information.
func GetVersionInfo() (string, string) {
	return version, commit
}

func main() {
	var (
		configPath  string
		showVersion bool
		dumpConfig  bool
		httpPort    int
		tcpPort     int
		dbPath      string

		doStatus   bool
		doInsights bool
		alertLimit int
		doTrigger  bool
	)

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/sage/config.yaml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.BoolVar(&dumpConfig, "dump-config", false, "print the effective configuration and exit")
	flag.IntVar(&httpPort, "http-port", 0, "override the HTTP API port")
	flag.IntVar(&tcpPort, "tcp-port", 0, "override the TCP intake port")
	flag.StringVar(&dbPath, "db", "", "override the DuckDB database path")
	flag.BoolVar(&doStatus, "status", false, "query a running instance for scheduler status")
	flag.BoolVar(&doInsights, "insights", false, "query a running instance for the current snapshot")
	flag.IntVar(&alertLimit, "alerts", 0, "query a running instance for the latest N alerts")
	flag.BoolVar(&doTrigger, "trigger", false, "ask a running instance to generate a snapshot now")
	flag.Parse()

	if showVersion {
		fmt.Printf("Sage - Log Telemetry Service\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	applyFlagOverrides(&cfg, httpPort, tcpPort, dbPath)

	if dumpConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(string(out))
		return
	}

	if doStatus || doInsights || alertLimit > 0 || doTrigger {
		if err := runControlCommand(cfg, doStatus, doInsights, alertLimit, doTrigger); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// applyFlagOverrides gives explicit command-line flags the last word
// over file and environment configuration.
func applyFlagOverrides(cfg *appConfig, httpPort, tcpPort int, dbPath string) {
	if httpPort > 0 {
		cfg.HTTPPort = httpPort
		cfg.HTTPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(httpPort))
	}
	if tcpPort > 0 {
		cfg.TCPPort = tcpPort
		cfg.TCPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(tcpPort))
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
}

// runControlCommand talks to a running instance over the control socket
// and prints the result as JSON.
func runControlCommand(cfg appConfig, doStatus, doInsights bool, alertLimit int, doTrigger bool) error {
	client, err := socketrpc.Dial(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("connect to %s (is sage running?): %w", cfg.SocketPath, err)
	}
	defer client.Close()

	var payload interface{}
	switch {
	case doStatus:
		payload, err = client.Status()
	case doInsights:
		payload, err = client.Insights()
	case alertLimit > 0:
		var alerts []model.AlertEvent
		alerts, err = client.Alerts(alertLimit)
		payload = alerts
	case doTrigger:
		payload, err = client.Generate()
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	stateDir := filepath.Join(home, ".local", "state", "sage")

	v := viper.New()
	v.SetEnvPrefix("SAGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("insights-enabled", true)
	v.SetDefault("insight-types", []string{"errorRate", "logLevels", "responseTimes", "warningRate"})
	v.SetDefault("insight-aggregations", []string{"average", "sum", "count", "min", "max"})
	v.SetDefault("insight-frequency-type", "everyUnit")
	v.SetDefault("insight-frequency", "1 hours")
	v.SetDefault("error-rate-threshold", 0.05)
	v.SetDefault("warning-rate-threshold", 0.10)
	v.SetDefault("insight-percentile", model.DefaultPercentile)
	v.SetDefault("insight-window", model.DefaultRollingWindow)
	v.SetDefault("insight-retention-days", defaultRetentionDays)
	v.SetDefault("state-store", "file")
	v.SetDefault("state-path", filepath.Join(stateDir, "scheduler.json"))
	v.SetDefault("state-failure-policy", string(model.SkipOnStateFailure))
	v.SetDefault("db-path", filepath.Join(home, ".local", "share", "sage", "sage.db"))
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("http-enabled", true)
	v.SetDefault("http-port", defaultHTTPPort)
	v.SetDefault("tcp-enabled", true)
	v.SetDefault("tcp-port", defaultTCPPort)
	v.SetDefault("otlp-grpc-port", defaultOTLPPort)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("mux-buffer-size", defaultMuxBufferSize)
	v.SetDefault("journal-enabled", true)
	v.SetDefault("journal-path", filepath.Join(stateDir, "alerts.journal"))
	v.SetDefault("insert-batch-size", defaultInsertBatchSize)
	v.SetDefault("insert-flush-interval", defaultInsertFlushInterval)
	v.SetDefault("insert-flush-queue-size", defaultInsertFlushQueue)
	v.SetDefault("nats-subject-prefix", "sage.insights")
	v.SetDefault("backup-enabled", false)
	v.SetDefault("backup-interval", defaultBackupInterval)
	v.SetDefault("backup-local-dir", filepath.Join(stateDir, "backups"))
	v.SetDefault("backup-keep-last", defaultBackupKeepLast)
	v.SetDefault("backup-s3-use-ssl", true)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-file", filepath.Join(stateDir, "sage.log"))

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		defaultConfigPath := filepath.Join(home, ".config", "sage", "config.yaml")
		v.SetConfigFile(defaultConfigPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	if err := validateConfig(&cfg, home); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg *appConfig, home string) error {
	if cfg.TCPPort <= 0 || cfg.TCPPort > 65535 {
		return fmt.Errorf("invalid tcp-port: %d", cfg.TCPPort)
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return fmt.Errorf("invalid http-port: %d", cfg.HTTPPort)
	}
	if cfg.OTLPPort < 0 || cfg.OTLPPort > 65535 {
		return fmt.Errorf("invalid otlp-grpc-port: %d", cfg.OTLPPort)
	}
	if cfg.ErrorRateThreshold < 0 || cfg.ErrorRateThreshold > 1 {
		return fmt.Errorf("invalid error-rate-threshold: %v (want 0..1)", cfg.ErrorRateThreshold)
	}
	if cfg.WarningRateThreshold < 0 || cfg.WarningRateThreshold > 1 {
		return fmt.Errorf("invalid warning-rate-threshold: %v (want 0..1)", cfg.WarningRateThreshold)
	}
	if cfg.InsightPercentile <= 0 || cfg.InsightPercentile > 100 {
		return fmt.Errorf("invalid insight-percentile: %v (want 0 < p <= 100)", cfg.InsightPercentile)
	}
	if cfg.InsightWindow < 1 {
		return fmt.Errorf("invalid insight-window: %d (want >= 1)", cfg.InsightWindow)
	}
	if cfg.RetentionDays < 0 {
		return fmt.Errorf("invalid insight-retention-days: %d (want >= 0)", cfg.RetentionDays)
	}
	switch cfg.StateStore {
	case "file", "memory", "duckdb":
	default:
		return fmt.Errorf("invalid state-store: %q (want file, memory or duckdb)", cfg.StateStore)
	}
	if _, ok := model.ParseStateFailurePolicy(cfg.StateFailurePolicy); !ok {
		return fmt.Errorf("invalid state-failure-policy: %q (want skip or fail)", cfg.StateFailurePolicy)
	}
	if cfg.BackupEnabled {
		if cfg.BackupInterval <= 0 {
			return fmt.Errorf("invalid backup-interval: %s", cfg.BackupInterval)
		}
		if cfg.BackupKeepLast < 0 {
			return fmt.Errorf("invalid backup-keep-last: %d", cfg.BackupKeepLast)
		}
		if cfg.BackupBucketURL != "" && (cfg.BackupS3AccessKey == "" || cfg.BackupS3SecretKey == "") {
			return fmt.Errorf("backup-s3-access-key and backup-s3-secret-key are required with backup-bucket-url")
		}
	}

	// Expand ~ in paths that commonly carry it.
	for _, p := range []*string{&cfg.DBPath, &cfg.StatePath, &cfg.JournalPath, &cfg.LogFile, &cfg.BackupLocalDir, &cfg.SnapshotFile} {
		if strings.HasPrefix(*p, "~/") {
			*p = filepath.Join(home, (*p)[2:])
		}
	}

	if cfg.Host == "" {
		cfg.Host = defaultBindHost
	}
	if cfg.TCPAddr == "" {
		cfg.TCPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.TCPPort))
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.HTTPPort))
	}
	if cfg.OTLPAddr == "" && cfg.OTLPPort > 0 {
		cfg.OTLPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.OTLPPort))
	}
	return nil
}
