package duckdb

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"go.uber.org/zap"

	"github.com/tinytelemetry/sage/internal/duckdb/migrate"
)

// DefaultQueryTimeout bounds every statement the store issues.
const DefaultQueryTimeout = 30 * time.Second

// Store manages the DuckDB database holding insight snapshots, alert
// events, and scheduler bookkeeping.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	log          *zap.Logger
	QueryTimeout time.Duration
}

// NewStore opens or creates the DuckDB database at dbPath and applies
// pending migrations. An empty dbPath opens an in-memory database.
func NewStore(dbPath string, log *zap.Logger, queryTimeout ...time.Duration) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	dsn := ""
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}

	if err := migrate.NewRunner(db).Run(); err != nil {
		db.Close()
		return nil, err
	}

	qt := DefaultQueryTimeout
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		qt = queryTimeout[0]
	}

	return &Store{
		db:           db,
		dbPath:       dbPath,
		log:          log,
		QueryTimeout: qt,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for direct query access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// queryCtx returns a context with the store's configured query timeout.
func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}
