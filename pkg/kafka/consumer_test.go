package kafka

import (
	"testing"
	"time"
)

func TestBackoffWithJitter(t *testing.T) {
	min, max := 100*time.Millisecond, time.Second
	cases := []struct {
		attempt int
		ceil    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{40, time.Second},
	}
	for _, tc := range cases {
		for i := 0; i < 50; i++ {
			got := backoffWithJitter(min, max, tc.attempt)
			if got > tc.ceil || got < tc.ceil/2 {
				t.Fatalf("attempt %d: %v outside [%v, %v]", tc.attempt, got, tc.ceil/2, tc.ceil)
			}
		}
	}
}

func TestEncodeValue(t *testing.T) {
	cases := []struct {
		in   interface{}
		want string
	}{
		{[]byte("raw"), "raw"},
		{"text", "text"},
		{map[string]int{"n": 1}, `{"n":1}`},
	}
	for _, tc := range cases {
		got, err := encodeValue(tc.in)
		if err != nil || string(got) != tc.want {
			t.Fatalf("encodeValue(%v) = %s, %v", tc.in, got, err)
		}
	}
	if _, err := encodeValue(func() {}); err == nil {
		t.Fatalf("expected marshal error")
	}
}

func TestProducerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    []ProducerOption
		wantErr bool
	}{
		{"defaults", []ProducerOption{WithBrokers([]string{"k:9092"})}, false},
		{"no brokers", nil, true},
		{"bad codec", []ProducerOption{WithBrokers([]string{"k:9092"}), WithCompression("brotli")}, true},
		{"bad acks", []ProducerOption{WithBrokers([]string{"k:9092"}), WithRequiredAcks(3)}, true},
		{"no compression", []ProducerOption{WithBrokers([]string{"k:9092"}), WithCompression("none")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultProducerConfig()
			for _, o := range tt.opts {
				o(cfg)
			}
			if err := cfg.validate(); (err != nil) != tt.wantErr {
				t.Fatalf("validate = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWithBatchingKeepsDefaults(t *testing.T) {
	cfg := defaultProducerConfig()
	WithBatching(0, 4096, 0)(cfg)
	if cfg.BatchSize != 16 || cfg.BatchBytes != 4096 || cfg.BatchTimeout != 50*time.Millisecond {
		t.Fatalf("batching = %d %d %v", cfg.BatchSize, cfg.BatchBytes, cfg.BatchTimeout)
	}
}

func TestConsumerConfigValidate(t *testing.T) {
	cfg := defaultConsumerConfig()
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected missing brokers error")
	}
	cfg.Brokers = []string{"k:9092"}
	cfg.StartOffset = "middle"
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected start offset error")
	}
	cfg.StartOffset = "latest"
	cfg.WorkerCount = 0
	cfg.BackoffMin, cfg.BackoffMax = time.Second, time.Millisecond
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.WorkerCount != 1 || cfg.BackoffMax != time.Second {
		t.Fatalf("normalised = %d workers, max backoff %v", cfg.WorkerCount, cfg.BackoffMax)
	}
}
