package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tinytelemetry/sage/internal/model"
)

// FileSink appends each snapshot as one JSON line. The file grows
// without bound; rotation belongs to external tooling.
type FileSink struct {
	path string
	mu   sync.Mutex
	f    *os.File
	enc  *json.Encoder
}

// NewFileSink opens (or creates) the snapshot file for appending.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open snapshot file %s: %w", path, err)
	}
	return &FileSink{path: path, f: f, enc: json.NewEncoder(f)}, nil
}

func (s *FileSink) Name() string { return "file" }

// WriteSnapshot appends the snapshot as a single JSON line.
func (s *FileSink) WriteSnapshot(_ context.Context, snap *model.InsightSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(snap); err != nil {
		return fmt.Errorf("append snapshot to %s: %w", s.path, err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
