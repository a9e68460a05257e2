package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message is a record to publish. Value may be []byte, string or anything
// encoding/json accepts.
type Message struct {
	Key     []byte
	Value   interface{}
	Headers map[string]string
}

// Producer writes synchronously: Publish returns once the configured acks arrived.
type Producer struct {
	w       *kafka.Writer
	codec   string
	now     func() time.Time
	metrics *clientMetrics
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := defaultProducerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// hashing keeps every record of one key on one partition, in order
	var balancer kafka.Balancer = &kafka.LeastBytes{}
	if cfg.HashByKey {
		balancer = &kafka.Hash{}
	}

	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     balancer,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:  codecs[cfg.Compression],
			MaxAttempts:  cfg.MaxAttempts,
			BatchSize:    cfg.BatchSize,
			BatchBytes:   int64(cfg.BatchBytes),
			BatchTimeout: cfg.BatchTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		codec:   cfg.Compression,
		now:     time.Now,
		metrics: kafkaMetrics(),
	}, nil
}

// Publish writes msgs to topic in one call. Nothing is written when a value fails to
// encode.
func (p *Producer) Publish(ctx context.Context, topic string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	records, size, err := p.records(topic, msgs)
	if err != nil {
		return err
	}

	start := p.now()
	err = p.w.WriteMessages(ctx, records...)
	p.metrics.publishTime.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.published.WithLabelValues(topic, "error").Add(float64(len(records)))
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	p.metrics.published.WithLabelValues(topic, "ok").Add(float64(len(records)))
	p.metrics.bytesOut.WithLabelValues(topic, p.codec).Add(float64(size))
	return nil
}

func (p *Producer) records(topic string, msgs []Message) ([]kafka.Message, int, error) {
	out := make([]kafka.Message, len(msgs))
	size := 0
	ts := p.now()
	for i, m := range msgs {
		value, err := encodeValue(m.Value)
		if err != nil {
			return nil, 0, err
		}
		out[i] = kafka.Message{Topic: topic, Key: m.Key, Value: value, Time: ts}
		for k, v := range m.Headers {
			out[i].Headers = append(out[i].Headers, kafka.Header{Key: k, Value: []byte(v)})
		}
		size += len(value)
	}
	return out, size, nil
}

// Close flushes pending batches.
func (p *Producer) Close() error {
	return p.w.Close()
}

func encodeValue(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return b, nil
}
