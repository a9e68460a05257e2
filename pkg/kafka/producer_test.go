package kafka

import (
	"context"
	"testing"
	"time"
)

func TestProducerRecords(t *testing.T) {
	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}))
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	defer p.Close()
	at := time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	recs, size, err := p.records("surfaces", []Message{
		{Key: []byte("SPY"), Value: []byte("abc"), Headers: map[string]string{"snapshot_id": "1"}},
		{Key: []byte("QQQ"), Value: map[string]int{"n": 1}},
	})
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(recs) != 2 || size != 3+len(`{"n":1}`) {
		t.Fatalf("records = %d, size = %d", len(recs), size)
	}
	if recs[0].Topic != "surfaces" || string(recs[0].Key) != "SPY" || !recs[0].Time.Equal(at) {
		t.Fatalf("first record = %+v", recs[0])
	}
	if len(recs[0].Headers) != 1 || recs[0].Headers[0].Key != "snapshot_id" || string(recs[0].Headers[0].Value) != "1" {
		t.Fatalf("headers = %+v", recs[0].Headers)
	}
	if len(recs[1].Headers) != 0 {
		t.Fatalf("unexpected headers on second record")
	}
}

func TestPublishFailsBeforeWriting(t *testing.T) {
	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}))
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	defer p.Close()

	if err := p.Publish(context.Background(), "surfaces"); err != nil {
		t.Fatalf("empty publish: %v", err)
	}
	if err := p.Publish(context.Background(), "surfaces", Message{Value: make(chan int)}); err == nil {
		t.Fatalf("expected encode error")
	}
}
