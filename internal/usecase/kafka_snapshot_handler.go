package usecase

import (
	"context"
	"errors"
	"time"

	domrepo "VolSurface/internal/domain/repository"
	"VolSurface/internal/services/snapshot"
	pkgkafka "VolSurface/pkg/kafka"
	"VolSurface/pkg/logger"
)

// KafkaSnapshotHandler consumes published snapshots and writes them to the store.
// Redelivered snapshots are acknowledged without a second write.
type KafkaSnapshotHandler struct {
	topic   string
	store   domrepo.SnapshotStore
	metrics domrepo.Metrics
	backend string
	l       *logger.Logger
}

func NewKafkaSnapshotHandler(topic string, store domrepo.SnapshotStore, metrics domrepo.Metrics, backend string, l *logger.Logger) *KafkaSnapshotHandler {
	return &KafkaSnapshotHandler{topic: topic, store: store, metrics: metrics, backend: backend, l: l}
}

func (h *KafkaSnapshotHandler) Topic() string { return h.topic }

func (h *KafkaSnapshotHandler) Handle(ctx context.Context, b []byte) error {
	snap, err := snapshot.Decode(b)
	if err != nil {
		h.metrics.RecordError("consumer_decode")
		return err
	}
	h.metrics.RecordLatency("snapshot_e2e", time.Since(snap.Timestamp).Seconds())

	start := time.Now()
	err = h.store.Save(ctx, snap)
	h.metrics.RecordLatency("store_insert", time.Since(start).Seconds())
	if errors.Is(err, domrepo.ErrSnapshotExists) {
		h.l.Debug("snapshot already stored", logger.String("ticker", snap.Ticker), logger.String("id", snap.ID))
		return nil
	}
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordSnapshotStored(h.backend, snap.Ticker)
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaSnapshotHandler)(nil)
