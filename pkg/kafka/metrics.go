package kafka

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// clientMetrics are shared by every producer and consumer in the process.
type clientMetrics struct {
	published  *prometheus.CounterVec
	pubBytes   *prometheus.CounterVec
	pubSeconds *prometheus.HistogramVec

	consumed      *prometheus.CounterVec
	handleSeconds *prometheus.HistogramVec
	backlog       *prometheus.GaugeVec
	deadLettered  *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	shared      *clientMetrics
)

func kafkaMetrics() *clientMetrics {
	metricsOnce.Do(func() {
		f := promauto.With(prometheus.DefaultRegisterer)
		shared = &clientMetrics{
			published: f.NewCounterVec(prometheus.CounterOpts{
				Name: "forge_kafka_published_total",
				Help: "Messages handed to the Kafka writer",
			}, []string{"topic", "result"}),
			pubBytes: f.NewCounterVec(prometheus.CounterOpts{
				Name: "forge_kafka_published_bytes_total",
				Help: "Encoded payload bytes handed to the Kafka writer",
			}, []string{"topic", "compression"}),
			pubSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "forge_kafka_publish_seconds",
				Help:    "Kafka write latency per batch",
				Buckets: prometheus.DefBuckets,
			}, []string{"topic"}),
			consumed: f.NewCounterVec(prometheus.CounterOpts{
				Name: "forge_kafka_consumed_total",
				Help: "Messages handled by the consumer, by outcome",
			}, []string{"topic", "result"}),
			handleSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "forge_kafka_handle_seconds",
				Help:    "Handler time per message including retries",
				Buckets: prometheus.DefBuckets,
			}, []string{"topic"}),
			backlog: f.NewGaugeVec(prometheus.GaugeOpts{
				Name: "forge_kafka_consumer_backlog",
				Help: "Fetched messages waiting for a worker",
			}, []string{"topic"}),
			deadLettered: f.NewCounterVec(prometheus.CounterOpts{
				Name: "forge_kafka_dead_lettered_total",
				Help: "Messages forwarded to the dead-letter topic",
			}, []string{"topic"}),
		}
	})
	return shared
}

func (m *clientMetrics) observePublish(topic, comp string, n int, bytes int64, dur time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.published.WithLabelValues(topic, result).Add(float64(n))
	m.pubBytes.WithLabelValues(topic, comp).Add(float64(bytes))
	m.pubSeconds.WithLabelValues(topic).Observe(dur.Seconds())
}
