package batchimport

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	itemsTotal   *prometheus.CounterVec
	retriesTotal *prometheus.CounterVec
	runsTotal    *prometheus.CounterVec

	batchLatency *prometheus.HistogramVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		itemsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "batchimport",
			Name:      "items_total",
			Help:      "Total number of imported items by outcome.",
		}, []string{"kind", "result"}),
		retriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "batchimport",
			Name:      "retries_total",
			Help:      "Total number of item retries.",
		}, []string{"kind"}),
		runsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "batchimport",
			Name:      "runs_total",
			Help:      "Total number of finished import runs by outcome.",
		}, []string{"result"}),
		batchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "batchimport",
			Name:      "batch_latency_seconds",
			Help:      "Latency distribution for one batch including retries.",
			Buckets: []float64{
				0.005, 0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5, 10, 30,
			},
		}, []string{"result"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
