// Package bus adapts the Kafka topics the pipeline components exchange
// records over. Two logical topics exist: metrics and alarms.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/skywatchhq/skywatch/internal/errors"
)

// Topic names shared by every process.
const (
	TopicMetrics = "metrics"
	TopicAlarms  = "alarms"
)

// Config holds the bus connection settings.
type Config struct {
	URI        string        // broker address, host:port
	Group      string        // consumer group
	WaitTime   time.Duration // reconnect back-off
	AckTime    time.Duration // send ack timeout
	MaxRetry   int           // reconnect attempts on send failure
	AutoCommit bool          // commit offsets as records are read
	Async      bool          // fire-and-forget sends
	Compact    bool          // true: send bodies verbatim; false: fan out list entries
	Partitions []int         // explicit partition assignment without a group
	DropData   bool          // test mode: acknowledge without sending
}

func (c Config) withDefaults() Config {
	if c.WaitTime <= 0 {
		c.WaitTime = time.Second
	}
	if c.AckTime <= 0 {
		c.AckTime = 20 * time.Second
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 3
	}
	return c
}

// Consumer delivers raw records from one topic.
type Consumer interface {
	// Fetch blocks until a record is available, the context is cancelled
	// or the consumer is closed.
	Fetch(ctx context.Context) ([]byte, error)
	Close() error
}

// Producer sends records to one topic. Send returns an HTTP-style status
// code that the ingress passes through verbatim.
type Producer interface {
	Send(ctx context.Context, payload []byte) (int, error)
	Close() error
}

// kafkaReader is the subset of kafka.Reader the consumer uses.
type kafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// kafkaWriter is the subset of kafka.Writer the producer uses.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type consumer struct {
	topic      string
	autoCommit bool
	reader     kafkaReader
}

// NewConsumer opens a reader on the topic. With a group, partitions are
// broker-assigned; without one, the first configured partition is read.
func NewConsumer(cfg Config, topic string) (Consumer, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("%w: bus uri is not configured", errors.ErrInvalidInput)
	}
	cfg = cfg.withDefaults()
	rc := kafka.ReaderConfig{
		Brokers: []string{cfg.URI},
		Topic:   topic,
		MaxWait: cfg.WaitTime,
	}
	if cfg.Group != "" {
		rc.GroupID = cfg.Group
	} else if len(cfg.Partitions) > 0 {
		rc.Partition = cfg.Partitions[0]
	}
	log.Debug().Str("topic", topic).Str("group", cfg.Group).Msg("Bus consumer initialized")
	return &consumer{
		topic:      topic,
		autoCommit: cfg.AutoCommit,
		reader:     kafka.NewReader(rc),
	}, nil
}

func (c *consumer) Fetch(ctx context.Context) ([]byte, error) {
	if c.autoCommit {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			return nil, errors.WrapUpstream("bus.fetch", c.topic, err)
		}
		return msg.Value, nil
	}
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, errors.WrapUpstream("bus.fetch", c.topic, err)
	}
	return msg.Value, nil
}

func (c *consumer) Close() error { return c.reader.Close() }

type producer struct {
	topic     string
	cfg       Config
	writer    kafkaWriter
	newWriter func() kafkaWriter
	sleep     func(time.Duration)
}

// NewProducer opens a writer on the topic.
func NewProducer(cfg Config, topic string) (Producer, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("%w: bus uri is not configured", errors.ErrInvalidInput)
	}
	cfg = cfg.withDefaults()
	newWriter := func() kafkaWriter {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.URI),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			Async:        cfg.Async,
			WriteTimeout: cfg.AckTime,
			RequiredAcks: kafka.RequireOne,
		}
	}
	log.Debug().Str("topic", topic).Msg("Bus producer initialized")
	return &producer{
		topic:     topic,
		cfg:       cfg,
		writer:    newWriter(),
		newWriter: newWriter,
		sleep:     time.Sleep,
	}, nil
}

// Send posts the payload to the topic. In compact mode the body goes out
// verbatim as one record; otherwise a JSON list fans out into one record
// per entry. A failed write reconnects and retries up to MaxRetry times.
func (p *producer) Send(ctx context.Context, payload []byte) (int, error) {
	if len(payload) == 0 || p.cfg.DropData {
		return http.StatusNoContent, nil
	}

	msgs, err := p.split(payload)
	if err != nil {
		return http.StatusBadRequest, fmt.Errorf("%w: %v", errors.ErrInvalidInput, err)
	}

	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetry; attempt++ {
		if attempt > 0 {
			p.writer.Close()
			p.writer = p.newWriter()
			p.sleep(p.cfg.WaitTime)
		}
		if lastErr = p.writer.WriteMessages(ctx, msgs...); lastErr == nil {
			return http.StatusNoContent, nil
		}
		log.Warn().Err(lastErr).Str("topic", p.topic).Int("attempt", attempt+1).Msg("Bus send failed")
	}
	return http.StatusBadRequest, errors.WrapUpstream("bus.send", p.topic, lastErr)
}

func (p *producer) split(payload []byte) ([]kafka.Message, error) {
	if p.cfg.Compact {
		return []kafka.Message{{Value: payload}}, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(payload, &entries); err != nil {
		// Not a list; a single object goes out as-is.
		if !json.Valid(payload) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return []kafka.Message{{Value: payload}}, nil
	}
	msgs := make([]kafka.Message, 0, len(entries))
	for _, entry := range entries {
		msgs = append(msgs, kafka.Message{Value: entry})
	}
	return msgs, nil
}

func (p *producer) Close() error { return p.writer.Close() }
