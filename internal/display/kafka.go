package display

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds the optional Kafka fan-out settings.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// messageWriter is the part of kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards display events to a Kafka topic keyed by cycle id.
// With no brokers configured it runs in log-only mode.
type KafkaSink struct {
	writer  messageWriter
	topic   string
	enabled bool
	logger  *slog.Logger
}

func NewKafkaSink(cfg KafkaConfig, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = discardLogger()
	}
	if len(cfg.Brokers) == 0 {
		logger.Info("kafka disabled, using log-only mode")
		return &KafkaSink{topic: cfg.Topic, logger: logger}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}

	logger.Info("kafka sink initialized", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return &KafkaSink{writer: w, topic: cfg.Topic, enabled: true, logger: logger}
}

func (s *KafkaSink) Enabled() bool {
	return s.enabled
}

// Publish writes one event. In log-only mode it only logs at debug level.
func (s *KafkaSink) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("failed to marshal display event", "error", err)
		return err
	}

	s.logger.Debug("publishing display event", "topic", s.topic, "cycle_id", ev.CycleID, "kind", ev.Kind)
	if !s.enabled || s.writer == nil {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(ev.CycleID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Error("failed to write to kafka", "topic", s.topic, "cycle_id", ev.CycleID, "error", err)
		return err
	}
	return nil
}

// Run publishes events until the channel closes or ctx ends.
func (s *KafkaSink) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_ = s.Publish(pctx, ev)
			cancel()
		}
	}
}

func (s *KafkaSink) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
