package appkafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaWriter publishes messages. Messages sharing a Key land on the same
// partition, so one author's fan-out jobs are consumed in order.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, messages ...kafka.Message) error
	Close() error
}

// KafkaReader consumes messages for a consumer group.
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaConfig holds configuration parameters for Kafka.
type KafkaConfig struct {
	Brokers      []string      // bootstrap brokers
	Topic        string        // fan-out topic
	GroupID      string        // consumer group ID
	WriteTimeout time.Duration // per-publish deadline when the caller sets none
	ReadTimeout  time.Duration // max wait for a fetch
	BatchTimeout time.Duration // how long a partial batch waits before flushing
}

const (
	defaultBroker       = "localhost:9092"
	defaultWriteTimeout = 10 * time.Second
	defaultBatchTimeout = 10 * time.Millisecond
)

func (c KafkaConfig) withDefaults() KafkaConfig {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{defaultBroker}
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = defaultBatchTimeout
	}
	return c
}

// RealKafkaWriter implements KafkaWriter on a kafka.Writer that hashes
// message keys across every partition of the topic.
type RealKafkaWriter struct {
	writer       *kafka.Writer
	writeTimeout time.Duration
}

// NewKafkaWriter builds a publisher for cfg.Topic. Connections are opened
// lazily on the first write.
func NewKafkaWriter(cfg KafkaConfig) (*RealKafkaWriter, error) {
	if cfg.Topic == "" {
		return nil, errors.New("kafka writer: topic is required")
	}
	cfg = cfg.withDefaults()

	return &RealKafkaWriter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: cfg.BatchTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		writeTimeout: cfg.WriteTimeout,
	}, nil
}

// WriteMessages publishes synchronously. The caller's deadline wins if it is
// sooner than the configured write timeout.
func (w *RealKafkaWriter) WriteMessages(ctx context.Context, messages ...kafka.Message) error {
	ctx, cancel := w.writeContext(ctx)
	defer cancel()
	return w.writer.WriteMessages(ctx, messages...)
}

func (w *RealKafkaWriter) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) <= w.writeTimeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, w.writeTimeout)
}

func (w *RealKafkaWriter) Close() error {
	return w.writer.Close()
}

// RealKafkaReader implements KafkaReader using kafka.Reader (consumer group).
type RealKafkaReader struct {
	reader *kafka.Reader
}

// NewKafkaReader joins cfg.GroupID on cfg.Topic. Offsets are committed once a
// message is read.
func NewKafkaReader(cfg KafkaConfig) KafkaReader {
	cfg = cfg.withDefaults()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        cfg.ReadTimeout,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})
	return &RealKafkaReader{reader: r}
}

func (r *RealKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	return r.reader.ReadMessage(ctx)
}

func (r *RealKafkaReader) Close() error {
	return r.reader.Close()
}
