// Package notify delivers refund alerts. LogNotifier writes them to the
// structured log; KafkaNotifier publishes them as JSON to a topic.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/warp/refund-tracker/refund"
)

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("notifier closed")

// =============================================================================
// LOG NOTIFIER
// =============================================================================

// LogNotifier logs every alert at warn level.
type LogNotifier struct {
	Logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{Logger: logger.Named("alerts")}
}

func (n *LogNotifier) Notify(_ context.Context, a refund.Alert) error {
	fields := []zap.Field{
		zap.String("kind", string(a.Kind)),
		zap.String("case_id", a.CaseID),
		zap.String("company_id", a.CompanyID),
		zap.String("label", string(a.Label)),
		zap.Int("remaining_business_days", a.RemainingBusinessDays),
		zap.Stringer("deadline", a.Deadline),
	}
	if a.Slot != 0 {
		fields = append(fields, zap.Stringer("slot", a.Slot))
	}
	if a.DaysLeftToRespond != nil {
		fields = append(fields, zap.Int("days_left_to_respond", *a.DaysLeftToRespond))
	}
	n.Logger.Warn(a.Message, fields...)
	return nil
}

func (n *LogNotifier) Close() error { return nil }

// =============================================================================
// KAFKA NOTIFIER
// =============================================================================

// MessageWriter abstracts kafka.Writer for testing.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka writer.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaNotifier publishes alerts keyed by case id, so all alerts of a case
// land on the same partition in order.
type KafkaNotifier struct {
	writer MessageWriter
	logger *zap.Logger
	closed atomic.Bool
}

// NewKafkaNotifier builds a notifier on a kafka.Writer with a hash balancer.
func NewKafkaNotifier(cfg KafkaConfig, logger *zap.Logger) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("notify: kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("notify: kafka topic is required")
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           cfg.WriteTimeout,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaNotifierWithWriter(w, logger), nil
}

// NewKafkaNotifierWithWriter wraps an existing writer. The writer must have
// its topic set.
func NewKafkaNotifierWithWriter(w MessageWriter, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{writer: w, logger: logger.Named("kafka")}
}

func (n *KafkaNotifier) Notify(ctx context.Context, a refund.Alert) error {
	if n.closed.Load() {
		return ErrClosed
	}
	value, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("notify: encode alert: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(a.CaseID),
		Value: value,
		Time:  a.RaisedAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(a.Kind)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("notify: publish %s for case %s: %w", a.Kind, a.CaseID, err)
	}
	n.logger.Debug("alert published", zap.String("kind", string(a.Kind)), zap.String("case_id", a.CaseID))
	return nil
}

// Close flushes pending messages and closes the writer. Safe to call twice.
func (n *KafkaNotifier) Close() error {
	if n.closed.Swap(true) {
		return nil
	}
	return n.writer.Close()
}
