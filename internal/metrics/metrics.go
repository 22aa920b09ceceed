// Package metrics exposes Prometheus collectors for the classification
// service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zeroshot"

// Collectors groups every collector the server records into.
type Collectors struct {
	ClassifyRequests *prometheus.CounterVec
	ClassifyDuration *prometheus.HistogramVec
	ClassifyPairs    *prometheus.CounterVec
	ModelLoads       *prometheus.HistogramVec
	LoadedModels     prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		ClassifyRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "classify_requests_total",
				Help:      "Total number of classification requests",
			},
			[]string{"model", "mode", "status"},
		),
		ClassifyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "classify_duration_seconds",
				Help:      "Classification latency in seconds, including tokenization",
				Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"model", "mode"},
		),
		ClassifyPairs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "classify_pairs_total",
				Help:      "Premise/hypothesis pairs run through the network",
			},
			[]string{"model"},
		),
		ModelLoads: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_load_duration_seconds",
				Help:      "Time to load a model from disk",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"model_type"},
		),
		LoadedModels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loaded_models",
			Help:      "Models currently cached in memory",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"code", "method"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"code", "method"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			c.ClassifyRequests,
			c.ClassifyDuration,
			c.ClassifyPairs,
			c.ModelLoads,
			c.LoadedModels,
			c.httpRequests,
			c.httpDuration,
		)
	}
	return c
}

// ObserveClassify records one classification call. A nil receiver is a no-op.
func (c *Collectors) ObserveClassify(model, mode string, pairs int, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.ClassifyRequests.WithLabelValues(model, mode, status).Inc()
	if err != nil {
		return
	}
	c.ClassifyDuration.WithLabelValues(model, mode).Observe(elapsed.Seconds())
	c.ClassifyPairs.WithLabelValues(model).Add(float64(pairs))
}

// ObserveLoad records a completed model load.
func (c *Collectors) ObserveLoad(modelType string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.ModelLoads.WithLabelValues(modelType).Observe(elapsed.Seconds())
	c.LoadedModels.Inc()
}

// InstrumentHandler wraps h with request count and duration metrics.
func (c *Collectors) InstrumentHandler(h http.Handler) http.Handler {
	if c == nil {
		return h
	}
	return promhttp.InstrumentHandlerCounter(c.httpRequests,
		promhttp.InstrumentHandlerDuration(c.httpDuration, h))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// StatusLabel formats an HTTP status code the way promhttp labels it.
func StatusLabel(code int) string { return strconv.Itoa(code) }
