package logsource

import (
	"github.com/tinytelemetry/sage/internal/model"
	"github.com/tinytelemetry/sage/internal/tcpserver"
)

// TCPSource adapts a tcpserver.Server to the LogSource contract.
type TCPSource struct {
	server *tcpserver.Server
}

// NewTCPSource wraps an already-started TCP server.
func NewTCPSource(server *tcpserver.Server) *TCPSource {
	return &TCPSource{server: server}
}

func (t *TCPSource) Lines() <-chan model.IngestEnvelope { return t.server.Lines() }
func (t *TCPSource) Stop()                              { _ = t.server.Stop() }
func (t *TCPSource) Name() string                       { return "tcp" }
