package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domrepo "VolSurface/internal/domain/repository"
	mid "VolSurface/internal/middleware"
	"VolSurface/pkg/queue"
)

// JobTakeSnapshot is the queue message type of an on-demand snapshot.
const JobTakeSnapshot = "snapshot.take"

// TakeSnapshotPayload is the body of a snapshot.take message.
type TakeSnapshotPayload struct {
	Ticker      string `json:"ticker"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// SnapshotJob runs the collector for one ticker when a snapshot.take message arrives.
type SnapshotJob struct {
	collector *SnapshotCollector
}

func NewSnapshotJob(collector *SnapshotCollector) *SnapshotJob {
	return &SnapshotJob{collector: collector}
}

func (j *SnapshotJob) Name() string { return "take_snapshot" }
func (j *SnapshotJob) Type() string { return JobTakeSnapshot }

// Handle fails only for errors worth a retry; empty, throttled or duplicate snapshots
// are final.
func (j *SnapshotJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[TakeSnapshotPayload](payload)
	if err != nil {
		return err
	}
	ticker := normTicker(p.Ticker)
	if ticker == "" {
		return fmt.Errorf("snapshot job: empty ticker")
	}
	_, err = j.collector.TakeSnapshot(ctx, ticker)
	switch {
	case err == nil,
		errors.Is(err, ErrEmptySurface),
		errors.Is(err, mid.ErrThrottled),
		errors.Is(err, mid.ErrBuffered),
		errors.Is(err, domrepo.ErrSnapshotExists):
		return nil
	}
	return err
}

// DedupeKey collapses triggers for a ticker that is already queued.
func (j *SnapshotJob) DedupeKey(payload interface{}) string {
	p, err := queue.ParsePayload[TakeSnapshotPayload](payload)
	if err != nil {
		return ""
	}
	return normTicker(p.Ticker)
}

func normTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

var (
	_ queue.Job     = (*SnapshotJob)(nil)
	_ queue.Deduper = (*SnapshotJob)(nil)
)
