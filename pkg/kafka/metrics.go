package kafka

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// clientMetrics are shared by every producer and consumer of the process.
type clientMetrics struct {
	published   *prometheus.CounterVec
	bytesOut    *prometheus.CounterVec
	publishTime *prometheus.HistogramVec
	queueDepth  *prometheus.GaugeVec
	handleTime  *prometheus.HistogramVec
	deadLetters *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *clientMetrics
)

func kafkaMetrics() *clientMetrics {
	metricsOnce.Do(func() {
		metrics = &clientMetrics{
			published: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "volsurface_kafka_producer_messages_total",
				Help: "Messages written to Kafka by result",
			}, []string{"topic", "result"}),
			bytesOut: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "volsurface_kafka_producer_bytes_total",
				Help: "Uncompressed payload bytes written",
			}, []string{"topic", "compression"}),
			publishTime: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "volsurface_kafka_producer_publish_seconds",
				Help:    "Time spent in one write call",
				Buckets: prometheus.DefBuckets,
			}, []string{"topic"}),
			queueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "volsurface_kafka_consumer_queue_depth",
				Help: "Messages waiting for a consumer worker",
			}, []string{"topic"}),
			handleTime: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name: "volsurface_kafka_consumer_handle_seconds",
				Help: "Handling time per message, retries included",
			}, []string{"topic"}),
			deadLetters: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "volsurface_kafka_consumer_dead_letters_total",
				Help: "Messages forwarded to the dead letter topic",
			}, []string{"topic"}),
		}
	})
	return metrics
}
