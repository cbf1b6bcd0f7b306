package queue

import (
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespaceQueue = "relay_queue"

type Options struct {
	// Name labels log lines and metrics, e.g. "edge" or "cloud".
	Name        string
	PollTimeout time.Duration
	Logger      *slog.Logger
	// Registerer is optional; nil leaves the metrics unregistered.
	Registerer prometheus.Registerer
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "default"
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

type metrics struct {
	depth     prometheus.Gauge
	enqueued  prometheus.Counter
	processed prometheus.Counter
	failed    prometheus.Counter
	dropped   prometheus.Counter
	duration  prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer, name string) *metrics {
	f := promauto.With(reg)
	labels := prometheus.Labels{"queue": name}
	return &metrics{
		depth: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespaceQueue,
			Name:        "depth",
			Help:        "number of items waiting for the worker",
			ConstLabels: labels,
		}),
		enqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespaceQueue,
			Name:        "enqueued_total",
			Help:        "count of items accepted by the queue",
			ConstLabels: labels,
		}),
		processed: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespaceQueue,
			Name:        "processed_total",
			Help:        "count of items processed without error",
			ConstLabels: labels,
		}),
		failed: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespaceQueue,
			Name:        "failed_total",
			Help:        "count of items whose processing returned an error or panicked",
			ConstLabels: labels,
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespaceQueue,
			Name:        "dropped_total",
			Help:        "count of items discarded at stop",
			ConstLabels: labels,
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespaceQueue,
			Name:        "processing_seconds",
			Help:        "time spent processing one item",
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 10),
			ConstLabels: labels,
		}),
	}
}
