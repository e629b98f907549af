// Package socketrpc exposes the insight engine on a local Unix socket
// speaking newline-delimited JSON-RPC 2.0, for the CLI status flags.
package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tinytelemetry/sage/internal/model"
)

const (
	// scannerInitBufSize is the initial buffer size for the per-connection scanner (1 MB).
	scannerInitBufSize = 1024 * 1024
	// scannerMaxTokenSize is the maximum token size the scanner will accept (10 MB).
	scannerMaxTokenSize = 10 * 1024 * 1024
)

// DefaultAlertLimit applies when an Alerts call carries no limit.
const DefaultAlertLimit = 20

// InsightReader is the coordinator surface the RPC server reads from.
type InsightReader interface {
	Snapshot() (*model.InsightSnapshot, error)
	SchedulerState() (model.SchedulerState, error)
	TrackedMetrics() []string
	Enabled() bool
}

// AlertStore serves persisted alert history.
type AlertStore interface {
	RecentAlerts(limit int) ([]model.AlertEvent, error)
}

// SnapshotPublisher fans explicitly generated snapshots out to the
// configured sinks.
type SnapshotPublisher interface {
	PublishSnapshot(snap *model.InsightSnapshot)
}

// Config wires the server's dependencies. Snapshots and Publisher may
// be nil; Generate then skips the matching step.
type Config struct {
	SocketPath string
	Insights   InsightReader
	Alerts     AlertStore
	Snapshots  model.SnapshotWriter
	Publisher  SnapshotPublisher
	Logger     *zap.Logger
}

// Server exposes the insight engine over a Unix domain socket using
// JSON-RPC 2.0.
type Server struct {
	socketPath string
	insights   InsightReader
	alerts     AlertStore
	snapshots  model.SnapshotWriter
	publisher  SnapshotPublisher
	log        *zap.Logger
	listener   net.Listener
	wg         sync.WaitGroup
	quit       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new socket RPC server.
func NewServer(conf Config) *Server {
	log := conf.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		socketPath: conf.SocketPath,
		insights:   conf.Insights,
		alerts:     conf.Alerts,
		snapshots:  conf.Snapshots,
		publisher:  conf.Publisher,
		log:        log,
		quit:       make(chan struct{}),
	}
}

// Start begins listening on the Unix socket and accepting connections.
func (s *Server) Start() error {
	// Ensure the parent directory exists.
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("socketrpc: mkdir: %w", err)
	}

	// Remove stale socket if it exists.
	if _, err := os.Stat(s.socketPath); err == nil {
		conn, dialErr := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
		if dialErr != nil {
			// Socket file exists but nobody is listening — stale.
			os.Remove(s.socketPath)
		} else {
			conn.Close()
			return fmt.Errorf("socketrpc: another server is already listening on %s", s.socketPath)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("socketrpc: listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info("control socket listening", zap.String("path", s.socketPath))
	return nil
}

// Stop closes the listener, waits for connections to drain, and removes
// the socket file. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()
		os.Remove(s.socketPath)
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.log.Warn("control socket accept error", zap.Error(err))
				// Continue on transient errors (e.g., fd limit) instead of
				// killing the entire accept loop.
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		select {
		case <-s.quit:
			return
		default:
		}

		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			resp := Response{JSONRPC: "2.0", ID: 0, Error: &RPCError{Code: -32700, Message: "parse error"}}
			encoder.Encode(resp)
			continue
		}

		resp := s.dispatch(req)
		if err := encoder.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	marshalResult := func(v interface{}, err error) Response {
		if err != nil {
			resp.Error = &RPCError{Code: -32000, Message: err.Error()}
			return resp
		}
		data, merr := json.Marshal(v)
		if merr != nil {
			resp.Error = &RPCError{Code: -32603, Message: merr.Error()}
			return resp
		}
		resp.Result = data
		return resp
	}

	invalidParams := func(err error) Response {
		resp.Error = &RPCError{Code: -32602, Message: fmt.Sprintf("invalid params: %v", err)}
		return resp
	}

	switch req.Method {
	case "Status":
		return marshalResult(s.status())

	case "Insights":
		return marshalResult(s.currentSnapshot())

	case "Alerts":
		var p struct{ Limit int }
		// Allow empty/null params for defaults; only reject genuinely malformed JSON.
		if err := json.Unmarshal(req.Params, &p); err != nil && len(req.Params) > 0 {
			return invalidParams(err)
		}
		limit := p.Limit
		if limit <= 0 {
			limit = DefaultAlertLimit
		}
		return marshalResult(s.alerts.RecentAlerts(limit))

	case "Generate":
		return marshalResult(s.generate())

	default:
		resp.Error = &RPCError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return resp
	}
}

func (s *Server) status() (StatusResult, error) {
	state, err := s.insights.SchedulerState()
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{
		Enabled:        s.insights.Enabled(),
		TrackedMetrics: s.insights.TrackedMetrics(),
		Scheduler:      state,
	}, nil
}

func (s *Server) currentSnapshot() (*model.InsightSnapshot, error) {
	if !s.insights.Enabled() {
		return nil, fmt.Errorf("insights are disabled")
	}
	return s.insights.Snapshot()
}

// generate materializes a snapshot on demand, persists and publishes
// it. Scheduler bookkeeping stays untouched, so a manual generation
// never delays the next scheduled one.
func (s *Server) generate() (*model.InsightSnapshot, error) {
	snap, err := s.currentSnapshot()
	if err != nil {
		return nil, err
	}
	if s.snapshots != nil {
		if err := s.snapshots.InsertSnapshot(snap); err != nil {
			s.log.Warn("snapshot persist failed", zap.Error(err))
		}
	}
	if s.publisher != nil {
		s.publisher.PublishSnapshot(snap)
	}
	return snap, nil
}
