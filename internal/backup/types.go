package backup

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Config controls periodic DuckDB exports.
type Config struct {
	Enabled   bool
	Interval  time.Duration
	LocalDir  string
	KeepLast  int
	BucketURL string

	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3SessionToken string
	S3UseSSL       bool

	Logger *zap.Logger
}

// Snapshotter is the minimal database export contract the manager
// depends on. The DuckDB store implements it.
type Snapshotter interface {
	DBPath() string
	SnapshotTo(dstPath string) error
}

// Uploader uploads one backup artifact.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string) error
}
