package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	WSClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "forge",
			Subsystem: "stream",
			Name:      "ws_clients",
			Help:      "Websocket clients receiving frames",
		},
	)

	WSDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "stream",
			Name:      "ws_write_errors_total",
			Help:      "Frames that could not be written to a websocket client",
		},
	)

	ValidationPassed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "forge",
			Subsystem: "validation",
			Name:      "tests_passed",
			Help:      "Passing tests in the latest validation run",
		},
	)
)

// Register adds the stream collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(WSClients, WSDropped, ValidationPassed)
	})
}
