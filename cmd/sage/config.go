package main

import (
	"time"

	"github.com/tinytelemetry/sage/internal/model"
)

const (
	defaultBindHost            = "127.0.0.1"
	defaultTCPPort             = 7070
	defaultHTTPPort            = 8090
	defaultOTLPPort            = 4317
	defaultMuxBufferSize       = DefaultMuxBuffer
	defaultQueryTimeout        = 30 * time.Second
	defaultInsertBatchSize     = 2000
	defaultInsertFlushInterval = 100 * time.Millisecond
	defaultInsertFlushQueue    = 64
	defaultRetentionDays       = model.DefaultRetentionDays // days, 0 = keep forever
	defaultBackupInterval      = 24 * time.Hour
	defaultBackupKeepLast      = 14
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	// Insight engine.
	InsightsEnabled      bool     `mapstructure:"insights-enabled"`
	InsightTypes         []string `mapstructure:"insight-types"`
	InsightAggregations  []string `mapstructure:"insight-aggregations"`
	InsightFrequencyType string   `mapstructure:"insight-frequency-type"`
	InsightFrequency     string   `mapstructure:"insight-frequency"`
	ErrorRateThreshold   float64  `mapstructure:"error-rate-threshold"`
	WarningRateThreshold float64  `mapstructure:"warning-rate-threshold"`
	InsightPercentile    float64  `mapstructure:"insight-percentile"`
	InsightWindow        int      `mapstructure:"insight-window"`
	RetentionDays        int      `mapstructure:"insight-retention-days"`

	// Scheduler bookkeeping.
	StateStore         string `mapstructure:"state-store"` // file | memory | duckdb
	StatePath          string `mapstructure:"state-path"`
	StateFailurePolicy string `mapstructure:"state-failure-policy"` // skip | fail

	// Storage.
	DBPath       string        `mapstructure:"db-path"`
	QueryTimeout time.Duration `mapstructure:"query-timeout"`

	// Network surfaces.
	Host        string `mapstructure:"host"`
	HTTPEnabled bool   `mapstructure:"http-enabled"`
	HTTPPort    int    `mapstructure:"http-port"`
	HTTPAddr    string `mapstructure:"http-addr"`
	TCPEnabled  bool   `mapstructure:"tcp-enabled"`
	TCPPort     int    `mapstructure:"tcp-port"`
	TCPAddr     string `mapstructure:"tcp-addr"`
	OTLPPort    int    `mapstructure:"otlp-grpc-port"` // 0 disables the receiver
	OTLPAddr    string `mapstructure:"otlp-addr"`
	SocketPath  string `mapstructure:"socket-path"`

	// Ingestion.
	MuxBufferSize       int           `mapstructure:"mux-buffer-size"`
	JournalEnabled      bool          `mapstructure:"journal-enabled"`
	JournalPath         string        `mapstructure:"journal-path"`
	InsertBatchSize     int           `mapstructure:"insert-batch-size"`
	InsertFlushInterval time.Duration `mapstructure:"insert-flush-interval"`
	InsertFlushQueue    int           `mapstructure:"insert-flush-queue-size"`

	// Snapshot delivery.
	SnapshotFile      string `mapstructure:"snapshot-file"`
	NATSURL           string `mapstructure:"nats-url"`
	NATSSubjectPrefix string `mapstructure:"nats-subject-prefix"`
	WebhookURL        string `mapstructure:"webhook-url"`
	WebhookToken      string `mapstructure:"webhook-token"`

	// Backups.
	BackupEnabled        bool          `mapstructure:"backup-enabled"`
	BackupInterval       time.Duration `mapstructure:"backup-interval"`
	BackupLocalDir       string        `mapstructure:"backup-local-dir"`
	BackupKeepLast       int           `mapstructure:"backup-keep-last"`
	BackupBucketURL      string        `mapstructure:"backup-bucket-url"`
	BackupS3Endpoint     string        `mapstructure:"backup-s3-endpoint"`
	BackupS3Region       string        `mapstructure:"backup-s3-region"`
	BackupS3AccessKey    string        `mapstructure:"backup-s3-access-key"`
	BackupS3SecretKey    string        `mapstructure:"backup-s3-secret-key"`
	BackupS3SessionToken string        `mapstructure:"backup-s3-session-token"`
	BackupS3UseSSL       bool          `mapstructure:"backup-s3-use-ssl"`

	// Diagnostics.
	LogLevel string `mapstructure:"log-level"`
	LogFile  string `mapstructure:"log-file"`

	ConfigPath string `mapstructure:"-"` // not from config file
}
