package tcpserver

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/tinytelemetry/sage/internal/model"
)

const (
	// DefaultLineChannelSize is the default buffer size for the incoming
	// log line channel.
	DefaultLineChannelSize = 100_000

	// DefaultMaxLineSize is the default maximum size in bytes of a single
	// log line.
	DefaultMaxLineSize = 1024 * 1024
)

// ServerConfig holds tunable parameters for the TCP server.
type ServerConfig struct {
	LineChannelSize int
	MaxLineSize     int
	Logger          *zap.Logger
}

// Server listens for newline-delimited log payloads over TCP. Each line
// is emitted as an ingest envelope; classification happens downstream.
type Server struct {
	listener    net.Listener
	addr        string
	lineChan    chan model.IngestEnvelope
	maxLineSize int
	log         *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	stopOnce    sync.Once
}

// NewServer creates a TCP intake server. Default addr is "127.0.0.1:7070".
func NewServer(addr string, conf ...ServerConfig) *Server {
	if addr == "" {
		addr = "127.0.0.1:7070"
	}
	lineChannelSize := DefaultLineChannelSize
	maxLineSize := DefaultMaxLineSize
	log := zap.NewNop()
	if len(conf) > 0 {
		if conf[0].LineChannelSize > 0 {
			lineChannelSize = conf[0].LineChannelSize
		}
		if conf[0].MaxLineSize > 0 {
			maxLineSize = conf[0].MaxLineSize
		}
		if conf[0].Logger != nil {
			log = conf[0].Logger
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:        addr,
		lineChan:    make(chan model.IngestEnvelope, lineChannelSize),
		maxLineSize: maxLineSize,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins accepting TCP connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.log.Info("tcp log intake listening", zap.String("addr", listener.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
					continue
				}
			}
			s.wg.Add(1)
			go s.handleConnection(conn)
		}
	}()

	return nil
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, s.maxLineSize), s.maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		select {
		case s.lineChan <- model.IngestEnvelope{Source: "tcp", Line: line}:
		case <-s.ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			s.log.Warn("dropped connection, line exceeded max size",
				zap.String("remote", conn.RemoteAddr().String()),
				zap.Int("maxBytes", s.maxLineSize))
			return
		}
		s.log.Warn("connection read error",
			zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
	}
}

// Stop gracefully shuts down the TCP server and closes the line channel.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()
		close(s.lineChan)
	})
	return nil
}

// Lines returns the channel of received log lines.
func (s *Server) Lines() <-chan model.IngestEnvelope {
	return s.lineChan
}

// Addr returns the active listen address. Before Start, it returns the
// configured address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
