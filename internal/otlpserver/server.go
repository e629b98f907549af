// Package otlpserver receives OTLP/gRPC log exports and feeds them into
// the pipeline as pre-classified ingest envelopes.
package otlpserver

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/tinytelemetry/sage/internal/ingest"
	"github.com/tinytelemetry/sage/internal/logparse"
	"github.com/tinytelemetry/sage/internal/model"
)

// DefaultEnvelopeBuffer is the default queue size between the receiver
// and the processor.
const DefaultEnvelopeBuffer = 50_000

// ServerConfig holds tunable parameters for the OTLP receiver.
type ServerConfig struct {
	EnvelopeBuffer int
	Logger         *zap.Logger
}

// Server implements the OTLP logs service over gRPC. Exported records
// are classified into events and queued; when the queue is full the
// overflow is reported back through OTLP partial success so clients can
// apply backpressure.
type Server struct {
	collogspb.UnimplementedLogsServiceServer

	addr     string
	grpcSrv  *grpc.Server
	listener net.Listener
	ch       chan model.IngestEnvelope
	log      *zap.Logger
	stopOnce sync.Once
}

// NewServer creates an OTLP receiver. Default addr is "127.0.0.1:4317",
// the conventional OTLP/gRPC port.
func NewServer(addr string, conf ...ServerConfig) *Server {
	if addr == "" {
		addr = "127.0.0.1:4317"
	}
	buffer := DefaultEnvelopeBuffer
	log := zap.NewNop()
	if len(conf) > 0 {
		if conf[0].EnvelopeBuffer > 0 {
			buffer = conf[0].EnvelopeBuffer
		}
		if conf[0].Logger != nil {
			log = conf[0].Logger
		}
	}
	return &Server{
		addr: addr,
		ch:   make(chan model.IngestEnvelope, buffer),
		log:  log,
	}
}

// Start binds the listener and begins serving gRPC.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("otlp listen %s: %w", s.addr, err)
	}
	s.listener = listener
	s.grpcSrv = grpc.NewServer()
	collogspb.RegisterLogsServiceServer(s.grpcSrv, s)

	go func() {
		if err := s.grpcSrv.Serve(listener); err != nil {
			s.log.Warn("otlp grpc server exited", zap.Error(err))
		}
	}()
	s.log.Info("otlp/grpc log receiver listening",
		zap.String("addr", listener.Addr().String()))
	return nil
}

// Export implements the OTLP logs service.
func (s *Server) Export(_ context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	received := time.Now()
	var total, rejected int64

	for _, rl := range req.GetResourceLogs() {
		resourceAttrs := flattenAttributes(rl.GetResource().GetAttributes(), nil)
		for _, sl := range rl.GetScopeLogs() {
			scopeName := sl.GetScope().GetName()
			for _, rec := range sl.GetLogRecords() {
				total++
				env := model.IngestEnvelope{
					Source: "otlp",
					Event:  recordEvent(rec, resourceAttrs, scopeName, received),
				}
				select {
				case s.ch <- env:
				default:
					rejected++
				}
			}
		}
	}

	resp := &collogspb.ExportLogsServiceResponse{}
	if rejected > 0 {
		resp.PartialSuccess = &collogspb.ExportLogsPartialSuccess{
			RejectedLogRecords: rejected,
			ErrorMessage:       "ingest queue full",
		}
		s.log.Warn("otlp export partially rejected",
			zap.Int64("rejected", rejected), zap.Int64("total", total))
	}
	return resp, nil
}

// recordEvent converts one OTLP log record to a classified event.
// severityNumber wins over severityText when both are present, matching
// the JSON intake path.
func recordEvent(rec *logspb.LogRecord, resourceAttrs map[string]string, scopeName string, received time.Time) *model.LogEvent {
	attrs := make(map[string]string, len(resourceAttrs)+len(rec.GetAttributes())+3)
	for k, v := range resourceAttrs {
		attrs[k] = v
	}
	flattenAttributes(rec.GetAttributes(), attrs)
	if scopeName != "" {
		attrs["scope.name"] = scopeName
	}
	if tid := rec.GetTraceId(); len(tid) > 0 {
		attrs["trace.id"] = hex.EncodeToString(tid)
	}
	if sid := rec.GetSpanId(); len(sid) > 0 {
		attrs["span.id"] = hex.EncodeToString(sid)
	}

	level := model.LevelInfo
	if n := int(rec.GetSeverityNumber()); n > 0 {
		if lv, ok := logparse.SeverityFromOTELNumber(n); ok {
			level = lv
		}
	} else if txt := rec.GetSeverityText(); txt != "" {
		level = logparse.NormalizeSeverity(txt)
	}

	var orig time.Time
	if ns := rec.GetTimeUnixNano(); ns > 0 {
		orig = time.Unix(0, int64(ns))
	} else if ns := rec.GetObservedTimeUnixNano(); ns > 0 {
		orig = time.Unix(0, int64(ns))
	}

	return &model.LogEvent{
		Timestamp:     received,
		OrigTimestamp: orig,
		Level:         level,
		Message:       ingest.SanitizeMessage(anyValueText(rec.GetBody())),
		Service:       ingest.ExtractService(attrs),
		Attributes:    attrs,
		Source:        "otlp",
		ResponseTime:  ingest.ResponseTimeFromAttrs(attrs),
	}
}

// flattenAttributes folds an OTLP attribute list into dst, allocating it
// when nil.
func flattenAttributes(kvs []*commonpb.KeyValue, dst map[string]string) map[string]string {
	if dst == nil {
		dst = make(map[string]string, len(kvs))
	}
	for _, kv := range kvs {
		if kv.GetKey() == "" {
			continue
		}
		dst[kv.GetKey()] = anyValueText(kv.GetValue())
	}
	return dst
}

// anyValueText renders an OTLP AnyValue as a string. Array and kvlist
// values keep their canonical proto JSON form, matching the JSON intake
// path.
func anyValueText(v *commonpb.AnyValue) string {
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(val.IntValue, 10)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(val.DoubleValue, 'f', -1, 64)
	case *commonpb.AnyValue_BoolValue:
		return strconv.FormatBool(val.BoolValue)
	case *commonpb.AnyValue_BytesValue:
		return base64.StdEncoding.EncodeToString(val.BytesValue)
	case *commonpb.AnyValue_ArrayValue, *commonpb.AnyValue_KvlistValue:
		if b, err := protojson.Marshal(v); err == nil {
			return string(b)
		}
	}
	return ""
}

// Envelopes returns the stream of classified ingest envelopes.
func (s *Server) Envelopes() <-chan model.IngestEnvelope {
	return s.ch
}

// Stop drains in-flight exports and closes the envelope stream.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if s.grpcSrv != nil {
			s.grpcSrv.GracefulStop()
		}
		close(s.ch)
	})
}

// Addr returns the active listen address. Before Start, it returns the
// configured address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
