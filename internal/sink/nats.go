package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/tinytelemetry/sage/internal/model"
)

// DefaultSubjectPrefix is used when no NATS subject prefix is
// configured.
const DefaultSubjectPrefix = "sage.insights"

// NATSSink publishes snapshots and alerts to a NATS subject pair
// derived from a configurable prefix.
type NATSSink struct {
	conn         *nats.Conn
	snapshotSubj string
	alertSubj    string
	log          *zap.Logger
}

// subjectsFor derives the snapshot and alert subjects from the prefix.
func subjectsFor(prefix string) (string, string) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + ".snapshots", prefix + ".alerts"
}

// NewNATSSink connects to the given server and publishes under
// <prefix>.snapshots and <prefix>.alerts.
func NewNATSSink(url, subjectPrefix string, logger *zap.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []nats.Option{
		nats.Name("sage"),
		nats.Timeout(10 * time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("server", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}

	snapSubj, alertSubj := subjectsFor(subjectPrefix)
	return &NATSSink{
		conn:         nc,
		snapshotSubj: snapSubj,
		alertSubj:    alertSubj,
		log:          logger,
	}, nil
}

func (s *NATSSink) Name() string { return "nats" }

// WriteSnapshot publishes the snapshot on the snapshots subject.
func (s *NATSSink) WriteSnapshot(_ context.Context, snap *model.InsightSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.conn.Publish(s.snapshotSubj, data); err != nil {
		return fmt.Errorf("publish %s: %w", s.snapshotSubj, err)
	}
	return nil
}

// WriteAlert publishes the alert on the alerts subject.
func (s *NATSSink) WriteAlert(_ context.Context, ev *model.AlertEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := s.conn.Publish(s.alertSubj, data); err != nil {
		return fmt.Errorf("publish %s: %w", s.alertSubj, err)
	}
	return nil
}

// Close flushes buffered publishes and closes the connection.
func (s *NATSSink) Close() {
	if err := s.conn.FlushTimeout(2 * time.Second); err != nil {
		s.log.Warn("nats flush on close failed", zap.Error(err))
	}
	s.conn.Close()
}
