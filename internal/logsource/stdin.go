package logsource

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/tinytelemetry/sage/internal/model"
)

const (
	// DefaultStdinBuffer is the default channel buffer size for stdin lines.
	DefaultStdinBuffer = 50_000

	// DefaultStdinMaxLineSize is the default maximum size in bytes of a
	// single stdin line.
	DefaultStdinMaxLineSize = 1024 * 1024
)

// StdinConfig holds tunable parameters for the stdin source.
type StdinConfig struct {
	BufferSize  int
	MaxLineSize int
	Logger      *zap.Logger
}

// StdinSource reads log lines from stdin.
type StdinSource struct {
	ch     chan model.IngestEnvelope
	cancel context.CancelFunc
	log    *zap.Logger
}

// NewStdinSource creates a StdinSource that reads stdin in a background
// goroutine.
func NewStdinSource(ctx context.Context, conf ...StdinConfig) *StdinSource {
	return newStdinSourceWithReader(ctx, os.Stdin, conf...)
}

// newStdinSourceWithReader backs NewStdinSource and lets tests substitute
// the input stream.
func newStdinSourceWithReader(ctx context.Context, r io.Reader, conf ...StdinConfig) *StdinSource {
	bufferSize := DefaultStdinBuffer
	maxLineSize := DefaultStdinMaxLineSize
	log := zap.NewNop()
	if len(conf) > 0 {
		if conf[0].BufferSize > 0 {
			bufferSize = conf[0].BufferSize
		}
		if conf[0].MaxLineSize > 0 {
			maxLineSize = conf[0].MaxLineSize
		}
		if conf[0].Logger != nil {
			log = conf[0].Logger
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &StdinSource{
		ch:     make(chan model.IngestEnvelope, bufferSize),
		cancel: cancel,
		log:    log,
	}
	go s.read(ctx, r, maxLineSize)
	return s
}

func (s *StdinSource) read(ctx context.Context, r io.Reader, maxLineSize int) {
	defer close(s.ch)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, maxLineSize), maxLineSize)

	// One goroutine owns the blocking Scan; the select below notices
	// cancellation without spawning a goroutine per line.
	results := make(chan string)
	go func() {
		defer close(results)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			select {
			case results <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				s.log.Warn("stdin line exceeded max size, stopping source",
					zap.Int("maxBytes", maxLineSize))
				return
			}
			s.log.Warn("stdin scanner error", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-results:
			if !ok {
				return
			}
			select {
			case s.ch <- model.IngestEnvelope{Source: s.Name(), Line: line}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *StdinSource) Lines() <-chan model.IngestEnvelope { return s.ch }
func (s *StdinSource) Stop()                              { s.cancel() }
func (s *StdinSource) Name() string                       { return "stdin" }
