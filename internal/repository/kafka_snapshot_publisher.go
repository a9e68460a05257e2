package repository

import (
	"context"
	"strconv"

	"VolSurface/internal/domain/models"
	"VolSurface/internal/services/snapshot"
	pkgkafka "VolSurface/pkg/kafka"
)

const (
	HeaderSnapshotID   = "snapshot_id"
	HeaderCodecVersion = "codec_version"
)

// KafkaSnapshotPublisher sends encoded snapshots keyed by ticker, so one ticker's
// history stays ordered within a partition.
type KafkaSnapshotPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaSnapshotPublisher(producer *pkgkafka.Producer, topic string) *KafkaSnapshotPublisher {
	return &KafkaSnapshotPublisher{producer: producer, topic: topic}
}

func (p *KafkaSnapshotPublisher) Save(ctx context.Context, s *models.Snapshot) error {
	payload, err := snapshot.Encode(s)
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, p.topic, pkgkafka.Message{
		Key:   []byte(s.Ticker),
		Value: payload,
		Headers: map[string]string{
			HeaderSnapshotID:   s.ID,
			HeaderCodecVersion: strconv.Itoa(snapshot.CodecVersion),
		},
	})
}

func (p *KafkaSnapshotPublisher) Close() error {
	return p.producer.Close()
}
