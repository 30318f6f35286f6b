package livesync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"marinaops/internal/config"
	"marinaops/internal/types"
)

// KafkaReader is the subset of *kafkago.Reader the feed uses.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaWriter is the subset of *kafkago.Writer the publisher uses.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// ConsumerGroup returns the group an instance reads the change topic in.
// Every instance memoizes its own weeks and must see every event, so each
// one gets a group of its own under the configured prefix.
func ConsumerGroup(cfg config.SyncConfig, instance string) string {
	if instance == "" {
		return cfg.KafkaGroupID
	}
	return cfg.KafkaGroupID + "-" + instance
}

// NewKafkaReader builds the reader of one instance. A new group starts at
// the end of the topic: its memoized weeks are empty, so nothing earlier
// needs replaying.
func NewKafkaReader(cfg config.SyncConfig, instance string) *kafkago.Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		GroupID:        ConsumerGroup(cfg, instance),
		StartOffset:    kafkago.LastOffset,
		Topic:          cfg.KafkaTopic,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        time.Second,
		CommitInterval: 0,
	})
}

// NewKafkaWriter builds a producer for the change topic.
func NewKafkaWriter(cfg config.SyncConfig) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
}

// KafkaFeed reads change events from a Kafka topic. Offsets are committed
// only after the listener has applied an event.
type KafkaFeed struct {
	reader KafkaReader
	logger *slog.Logger
}

// NewKafkaFeed wraps reader.
func NewKafkaFeed(reader KafkaReader, logger *slog.Logger) *KafkaFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaFeed{reader: reader, logger: logger}
}

func (f *KafkaFeed) Next(ctx context.Context) (Delivery, error) {
	msg, err := f.reader.FetchMessage(ctx)
	if err != nil {
		return Delivery{}, fmt.Errorf("livesync: kafka fetch: %w", err)
	}
	ev, malformed := decodeEvent(msg.Value)
	if malformed {
		f.logger.WarnContext(ctx, "malformed change event",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
	}
	return Delivery{
		Event:     ev,
		Malformed: malformed,
		Ack: func(ctx context.Context) error {
			return f.reader.CommitMessages(ctx, msg)
		},
	}, nil
}

func (f *KafkaFeed) Close() error {
	return f.reader.Close()
}

// KafkaPublisher writes change events keyed by task id, so every event for
// one task lands on the same partition in order.
type KafkaPublisher struct {
	writer KafkaWriter
}

// NewKafkaPublisher wraps writer.
func NewKafkaPublisher(writer KafkaWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev types.ChangeEvent) error {
	msg, err := toKafkaMessage(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("livesync: kafka publish %s: %w", ev.ID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func toKafkaMessage(ev types.ChangeEvent) (kafkago.Message, error) {
	data, err := encodeEvent(ev)
	if err != nil {
		return kafkago.Message{}, err
	}
	return kafkago.Message{
		Key:   []byte(ev.TaskID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: attrKind, Value: []byte(ev.Kind)},
			{Key: attrSiteID, Value: []byte(ev.SiteID)},
			{Key: attrOccurredAt, Value: []byte(occurredAt(ev))},
		},
	}, nil
}
