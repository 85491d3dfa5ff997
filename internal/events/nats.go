package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Bulletin is the wire form of a reported event.
type Bulletin struct {
	Severity  string    `json:"severity"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NATSReporter publishes bulletins to a NATS subject so external monitors
// can observe queue trouble without scraping logs. Publishes are fire and
// forget; a failed publish is logged and dropped.
type NATSReporter struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

func NewNATSReporter(nc *nats.Conn, subject string, logger *zap.Logger) *NATSReporter {
	return &NATSReporter{nc: nc, subject: subject, logger: logger}
}

func (r *NATSReporter) ReportEvent(severity Severity, category, message string) {
	data, err := json.Marshal(Bulletin{
		Severity:  severity.String(),
		Category:  category,
		Message:   message,
		Timestamp: time.Now(),
	})
	if err != nil {
		r.logger.Error("failed to encode bulletin", zap.Error(err))
		return
	}
	if err := r.nc.Publish(r.subject, data); err != nil {
		r.logger.Warn("failed to publish bulletin", zap.Error(err), zap.String("subject", r.subject))
	}
}
