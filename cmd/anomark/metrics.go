package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/CTAG07/anomark/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the scoring server. Each
// server gets its own registry.
type Metrics struct {
	registry      *prometheus.Registry
	recordsScored *prometheus.CounterVec
	anomalies     *prometheus.CounterVec
	scores        *prometheus.HistogramVec
}

func NewMetrics(s *store.Store, cache *ScorerCache, logger *slog.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		recordsScored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anomark",
			Name:      "records_scored_total",
			Help:      "Records scored through the API.",
		}, []string{"model"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anomark",
			Name:      "anomalies_total",
			Help:      "Scored records that fell below the anomaly threshold.",
		}, []string{"model"}),
		scores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "anomark",
			Name:      "record_score",
			Help:      "Mean log-likelihood of scored records.",
			Buckets:   prometheus.LinearBuckets(-12, 1, 12),
		}, []string{"model"}),
	}
	m.registry.MustRegister(
		m.recordsScored,
		m.anomalies,
		m.scores,
		newStoreCollector(s, cache, logger),
	)
	return m
}

// Observe records one scored record.
func (m *Metrics) Observe(model string, score float64, anomalous bool) {
	m.recordsScored.WithLabelValues(model).Inc()
	m.scores.WithLabelValues(model).Observe(score)
	if anomalous {
		m.anomalies.WithLabelValues(model).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// storeCollector reports the size of every stored model at scrape time.
type storeCollector struct {
	store  *store.Store
	cache  *ScorerCache
	logger *slog.Logger

	models      *prometheus.Desc
	cached      *prometheus.Desc
	contexts    *prometheus.Desc
	transitions *prometheus.Desc
	weight      *prometheus.Desc
}

func newStoreCollector(s *store.Store, cache *ScorerCache, logger *slog.Logger) *storeCollector {
	return &storeCollector{
		store:       s,
		cache:       cache,
		logger:      logger,
		models:      prometheus.NewDesc("anomark_models", "Models held in the store.", nil, nil),
		cached:      prometheus.NewDesc("anomark_cached_scorers", "Frozen scorers held in memory.", nil, nil),
		contexts:    prometheus.NewDesc("anomark_model_contexts", "Distinct contexts of a stored model.", []string{"model"}, nil),
		transitions: prometheus.NewDesc("anomark_model_transitions", "Transitions of a stored model.", []string{"model"}, nil),
		weight:      prometheus.NewDesc("anomark_model_total_weight", "Summed transition weights of a stored model.", []string{"model"}, nil),
	}
}

func (c *storeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.models
	ch <- c.cached
	ch <- c.contexts
	ch <- c.transitions
	ch <- c.weight
}

func (c *storeCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.cached, prometheus.GaugeValue, float64(c.cache.Len()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dbStats, err := c.store.GetStats(ctx)
	if err != nil {
		c.logger.Error("Failed to collect store statistics", "error", err)
		ch <- prometheus.NewInvalidMetric(c.models, err)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.models, prometheus.GaugeValue, float64(len(dbStats.Models)))
	for _, info := range dbStats.Models {
		stats := dbStats.Stats[info.Id]
		ch <- prometheus.MustNewConstMetric(c.contexts, prometheus.GaugeValue, float64(stats.Contexts), info.Name)
		ch <- prometheus.MustNewConstMetric(c.transitions, prometheus.GaugeValue, float64(stats.Transitions), info.Name)
		ch <- prometheus.MustNewConstMetric(c.weight, prometheus.GaugeValue, stats.TotalWeight, info.Name)
	}
}
