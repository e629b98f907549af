package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/sage/internal/backup"
	"github.com/tinytelemetry/sage/internal/duckdb"
	"github.com/tinytelemetry/sage/internal/httpserver"
	"github.com/tinytelemetry/sage/internal/ingest"
	"github.com/tinytelemetry/sage/internal/insight"
	"github.com/tinytelemetry/sage/internal/journal"
	"github.com/tinytelemetry/sage/internal/model"
	"github.com/tinytelemetry/sage/internal/sink"
	"github.com/tinytelemetry/sage/internal/socketrpc"
	"github.com/tinytelemetry/sage/internal/statestore"
	"github.com/tinytelemetry/sage/internal/telemetry"
)

// runServer starts the telemetry pipeline: intake servers, the insight
// coordinator, persistence, delivery sinks and the API surfaces.
func runServer(cfg appConfig) error {
	log, closeLogger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer closeLogger()

	// Initialize the DuckDB store.
	store, err := duckdb.NewStore(cfg.DBPath, log.Named("duckdb"), cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()

	// Pick the scheduler bookkeeping store.
	stateStore, err := buildStateStore(cfg, store)
	if err != nil {
		return fmt.Errorf("failed to initialize state store: %w", err)
	}

	metrics := telemetry.New()

	coordinator, err := insight.NewCoordinator(buildInsightConfig(cfg, log), stateStore, log.Named("insight"), metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize insight engine: %w", err)
	}

	// Open the alert journal for crash-safe replay and durable buffering.
	var alertJournal *journal.Journal
	if cfg.JournalEnabled {
		alertJournal, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open alert journal: %w", err)
		}
		defer alertJournal.Close()
	}

	// Batched alert writes into DuckDB.
	insertBuffer := duckdb.NewInsertBuffer(store, duckdb.InsertBufferConfig{
		BatchSize:      cfg.InsertBatchSize,
		FlushInterval:  cfg.InsertFlushInterval,
		FlushQueueSize: cfg.InsertFlushQueue,
		Journal:        alertJournal,
		Logger:         log.Named("insert"),
	})
	defer insertBuffer.Stop()
	if err := insertBuffer.ReplayJournal(); err != nil {
		return fmt.Errorf("failed to replay alert journal: %w", err)
	}

	// Retention sweeper over persisted snapshots and alerts.
	retentionCleaner := duckdb.NewRetentionCleaner(store, duckdb.RetentionConfig{
		RetentionDays: cfg.RetentionDays,
		Logger:        log.Named("retention"),
	})
	if retentionCleaner != nil {
		defer retentionCleaner.Stop()
	}

	// Periodic database exports when enabled.
	backupManager, err := backup.NewManager(store, backup.Config{
		Enabled:        cfg.BackupEnabled,
		Interval:       cfg.BackupInterval,
		LocalDir:       cfg.BackupLocalDir,
		KeepLast:       cfg.BackupKeepLast,
		BucketURL:      cfg.BackupBucketURL,
		S3Endpoint:     cfg.BackupS3Endpoint,
		S3Region:       cfg.BackupS3Region,
		S3AccessKey:    cfg.BackupS3AccessKey,
		S3SecretKey:    cfg.BackupS3SecretKey,
		S3SessionToken: cfg.BackupS3SessionToken,
		S3UseSSL:       cfg.BackupS3UseSSL,
		Logger:         log.Named("backup"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize backups: %w", err)
	}
	if backupManager != nil {
		defer backupManager.Stop()
	}

	// Snapshot and alert delivery.
	sinks, closeSinks, err := buildSinks(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize sinks: %w", err)
	}
	defer closeSinks()

	var sinkManager *sink.Manager
	var publisher ingest.EventPublisher
	if len(sinks) > 0 {
		sinkManager = sink.NewManager(sinks, sink.ManagerConfig{Logger: log.Named("sink")})
		defer sinkManager.Stop()
		publisher = sinkManager
	}

	// HTTP API.
	if cfg.HTTPEnabled {
		apiConf := httpserver.Config{
			Addr:      cfg.HTTPAddr,
			Insights:  coordinator,
			Store:     store,
			Snapshots: store,
			Metrics:   metrics.Handler(),
			Logger:    log.Named("http"),
		}
		if sinkManager != nil {
			apiConf.Publisher = sinkManager
		}
		apiServer := httpserver.NewServer(apiConf)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	// Control socket for the CLI flags.
	sockConf := socketrpc.Config{
		SocketPath: cfg.SocketPath,
		Insights:   coordinator,
		Alerts:     store,
		Snapshots:  store,
		Logger:     log.Named("socket"),
	}
	if sinkManager != nil {
		sockConf.Publisher = sinkManager
	}
	sockServer := socketrpc.NewServer(sockConf)
	if err := sockServer.Start(); err != nil {
		log.Warn("control socket unavailable", zap.Error(err))
	} else {
		defer sockServer.Stop()
	}

	// Set up context and signal handling before the errgroup.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now — not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	// Build input plugins and the source multiplexer.
	plugins := buildInputPlugins(InputPluginConfig{
		TCPEnabled:  cfg.TCPEnabled,
		TCPAddr:     cfg.TCPAddr,
		OTLPEnabled: cfg.OTLPPort > 0,
		OTLPAddr:    cfg.OTLPAddr,
		Logger:      log,
	})

	sources := make([]NamedLogSource, 0, len(plugins))
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			log.Warn("input plugin failed to start",
				zap.String("plugin", plugin.Name()), zap.Error(err))
			continue
		}
		sources = append(sources, src)
	}

	mux := NewSourceMultiplexer(ctx, sources, cfg.MuxBufferSize)
	mux.Start()

	processor := ingest.NewProcessor(ingest.ProcessorConfig{
		Coordinator: coordinator,
		Alerts:      insertBuffer,
		Snapshots:   store,
		Publisher:   publisher,
		Metrics:     metrics,
		Logger:      log.Named("ingest"),
	})

	printStartupBanner(cfg, mux.HasSources())
	log.Info("sage started",
		zap.String("version", version),
		zap.Int("sources", len(sources)),
		zap.String("db", cfg.DBPath))

	g, gctx := errgroup.WithContext(ctx)

	// Ingestion loop: the single consumer of the multiplexed stream.
	// All coordinator access from this loop is serialized by design.
	if mux.HasSources() {
		g.Go(func() error {
			for env := range mux.Lines() {
				processor.ProcessEnvelope(env)
			}
			processor.Flush()
			return nil
		})
	}

	// Wait for context cancellation (from the signal handler).
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Warn("server loop exited with error", zap.Error(err))
	}

	cancel()
	mux.Stop()

	// If we reach here, graceful shutdown succeeded within the deadline.
	// The signal goroutine (if active) dies with the process.
	signal.Stop(sigCh)

	return nil
}

// buildStateStore picks the scheduler bookkeeping backend.
func buildStateStore(cfg appConfig, store *duckdb.Store) (model.StateStore, error) {
	switch cfg.StateStore {
	case "memory":
		return statestore.NewMemory(), nil
	case "duckdb":
		return store, nil
	default:
		return statestore.NewFileStore(cfg.StatePath)
	}
}

// buildInsightConfig converts raw configuration strings into the
// validated engine configuration. Unknown names degrade with a warning
// rather than failing startup.
func buildInsightConfig(cfg appConfig, log *zap.Logger) insight.Config {
	conf := insight.Config{
		Enabled: cfg.InsightsEnabled,
		Thresholds: insight.Thresholds{
			ErrorRate:   cfg.ErrorRateThreshold,
			WarningRate: cfg.WarningRateThreshold,
		},
		Percentile:   cfg.InsightPercentile,
		WindowSize:   cfg.InsightWindow,
		StateFailure: model.SkipOnStateFailure,
	}

	if policy, ok := model.ParseStateFailurePolicy(cfg.StateFailurePolicy); ok {
		conf.StateFailure = policy
	}

	for _, raw := range cfg.InsightTypes {
		t, ok := model.ParseInsightType(raw)
		if !ok {
			log.Warn("unknown insight type ignored", zap.String("type", raw))
			continue
		}
		conf.Types = append(conf.Types, t)
	}

	for _, raw := range cfg.InsightAggregations {
		kind, ok := model.ParseAggregationKind(raw)
		if !ok {
			log.Warn("unknown aggregation kind ignored", zap.String("kind", raw))
			continue
		}
		conf.Aggregations = append(conf.Aggregations, kind)
	}

	freqType, ok := model.ParseFrequencyType(cfg.InsightFrequencyType)
	if !ok {
		log.Warn("unknown insight frequency type, scheduling disabled",
			zap.String("type", cfg.InsightFrequencyType))
		conf.Policy = insight.DisabledPolicy()
		return conf
	}
	policy, err := insight.ParsePolicy(freqType, cfg.InsightFrequency)
	if err != nil {
		log.Warn("unparseable insight frequency, scheduling disabled",
			zap.String("frequency", cfg.InsightFrequency), zap.Error(err))
		conf.Policy = insight.DisabledPolicy()
		return conf
	}
	conf.Policy = policy
	return conf
}

// buildSinks constructs every configured delivery target. The returned
// closer shuts them down after the manager has stopped.
func buildSinks(cfg appConfig, log *zap.Logger) ([]sink.SnapshotSink, func(), error) {
	var sinks []sink.SnapshotSink
	var closers []func()

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.SnapshotFile != "" {
		fileSink, err := sink.NewFileSink(cfg.SnapshotFile)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("file sink: %w", err)
		}
		sinks = append(sinks, fileSink)
		closers = append(closers, func() { _ = fileSink.Close() })
	}

	if cfg.NATSURL != "" {
		natsSink, err := sink.NewNATSSink(cfg.NATSURL, cfg.NATSSubjectPrefix, log.Named("nats"))
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("nats sink: %w", err)
		}
		sinks = append(sinks, natsSink)
		closers = append(closers, natsSink.Close)
	}

	if cfg.WebhookURL != "" {
		sinks = append(sinks, sink.NewWebhookSink(cfg.WebhookURL, cfg.WebhookToken))
	}

	return sinks, closeAll, nil
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

// newLogger builds the process-wide zap logger writing JSON to the
// configured log file and a console stream to stderr.
func newLogger(cfg appConfig) (*zap.Logger, func(), error) {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.LogLevel); err != nil {
		return nil, nil, fmt.Errorf("log-level %q: %w", cfg.LogLevel, err)
	}

	cores := make([]zapcore.Core, 0, 2)

	consoleEnc := zap.NewDevelopmentEncoderConfig()
	cores = append(cores, zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleEnc),
		zapcore.Lock(os.Stderr),
		zapcore.WarnLevel,
	))

	closeFile := func() {}
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, err
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.Lock(f),
			level,
		))
		closeFile = func() { _ = f.Close() }
	}

	log := zap.New(zapcore.NewTee(cores...))
	return log, func() {
		_ = log.Sync()
		closeFile()
	}, nil
}

func printStartupBanner(cfg appConfig, hasSources bool) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔═╗╔═╗╔═╗╔═╗
    ╚═╗╠═╣║ ╦║╣
    ╚═╝╩ ╩╚═╝╚═╝`)

	ver := dim.Render("v" + version)

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+ver)
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	// Intake
	lines = append(lines, bold.Render("    Intake"))
	lines = append(lines, "")

	if cfg.TCPEnabled {
		lines = append(lines, fmt.Sprintf("    %s  TCP Lines      %s", check, cyan.Render(cfg.TCPAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  TCP Lines      %s", dot, dim.Render("disabled")))
	}
	if cfg.OTLPPort > 0 {
		lines = append(lines, fmt.Sprintf("    %s  OTLP gRPC      %s", check, cyan.Render(cfg.OTLPAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  OTLP gRPC      %s", dot, dim.Render("disabled")))
	}
	if !hasSources {
		lines = append(lines, fmt.Sprintf("    %s  Sources        %s", dot, yellow.Render("none active")))
	}
	lines = append(lines, "")

	// Surfaces
	lines = append(lines, bold.Render("    Surfaces"))
	lines = append(lines, "")

	if cfg.HTTPEnabled {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.HTTPAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, fmt.Sprintf("    %s  Unix Socket    %s", check, cyan.Render(shortenPath(cfg.SocketPath))))
	lines = append(lines, "")

	// Insights
	lines = append(lines, bold.Render("    Insights"))
	lines = append(lines, "")

	if cfg.InsightsEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Engine         %s", check, dim.Render(fmt.Sprintf("%s (%s)", cfg.InsightFrequencyType, cfg.InsightFrequency))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Engine         %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, fmt.Sprintf("    %s  Storage        %s", check, dim.Render(shortenPath(cfg.DBPath))))
	if cfg.BackupEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Backups        %s", check, dim.Render(shortenPath(cfg.BackupLocalDir))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Backups        %s", dot, dim.Render("disabled")))
	}

	lines = append(lines, "")
	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
