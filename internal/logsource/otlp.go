package logsource

import (
	"github.com/tinytelemetry/sage/internal/model"
	"github.com/tinytelemetry/sage/internal/otlpserver"
)

// OTLPSource adapts an otlpserver.Server to the LogSource contract. Its
// envelopes carry pre-classified events rather than raw lines.
type OTLPSource struct {
	server *otlpserver.Server
}

// NewOTLPSource wraps an already-started OTLP receiver.
func NewOTLPSource(server *otlpserver.Server) *OTLPSource {
	return &OTLPSource{server: server}
}

func (o *OTLPSource) Lines() <-chan model.IngestEnvelope { return o.server.Envelopes() }
func (o *OTLPSource) Stop()                              { o.server.Stop() }
func (o *OTLPSource) Name() string                       { return "otlp" }
