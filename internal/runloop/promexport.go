package runloop

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arlowright/oddcrawl/internal/scoring"
	"github.com/arlowright/oddcrawl/internal/triage"
)

// PromExporter mirrors the run's live counters as Prometheus metrics.
// It owns a private registry so multiple runs (and tests) never collide
// on duplicate registration; expose Handler on an HTTP mux to scrape.
type PromExporter struct {
	registry *prometheus.Registry

	pagesProcessed prometheus.Counter
	actionsTotal   *prometheus.CounterVec
	errorsTotal    prometheus.Counter
	illegalSkipped prometheus.Counter
	llmCallsTotal  prometheus.Counter

	bytesDownloaded prometheus.Counter
	fetchDuration   prometheus.Histogram
	pageScore       prometheus.Histogram

	frontierSize prometheus.Gauge

	cascadeStageTotal *prometheus.CounterVec
}

// NewPromExporter builds and registers the exporter's metric set.
func NewPromExporter() *PromExporter {
	e := &PromExporter{
		registry: prometheus.NewRegistry(),

		pagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oddcrawl_pages_processed_total",
			Help: "Total pages popped, fetched, and resolved to a decision",
		}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oddcrawl_actions_total",
			Help: "Decision outcomes by action (skip, persist, llm)",
		}, []string{"action"}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oddcrawl_errors_total",
			Help: "Step errors (fetch, extract, storage)",
		}),
		illegalSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oddcrawl_illegal_skipped_total",
			Help: "Pages discarded by the illegal-keyword scanner",
		}),
		llmCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oddcrawl_llm_calls_total",
			Help: "Analyst escalations dispatched",
		}),

		bytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oddcrawl_bytes_downloaded_total",
			Help: "Response body bytes fetched",
		}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oddcrawl_fetch_duration_seconds",
			Help:    "Distribution of per-fetch wall time",
			Buckets: prometheus.DefBuckets,
		}),
		pageScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oddcrawl_page_score",
			Help:    "Distribution of fused oddness scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.35, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9},
		}),

		frontierSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oddcrawl_frontier_size",
			Help: "Jobs currently queued across the main and delay heaps",
		}),

		cascadeStageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oddcrawl_cascade_stage_total",
			Help: "Cascade stage outcomes by stage and status",
		}, []string{"stage", "status"}),
	}

	e.registry.MustRegister(
		e.pagesProcessed,
		e.actionsTotal,
		e.errorsTotal,
		e.illegalSkipped,
		e.llmCallsTotal,
		e.bytesDownloaded,
		e.fetchDuration,
		e.pageScore,
		e.frontierSize,
		e.cascadeStageTotal,
	)
	return e
}

// Handler serves the exporter's registry in the Prometheus text format.
func (e *PromExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func (e *PromExporter) ObserveFetch(bytes int64, durationSeconds float64) {
	e.bytesDownloaded.Add(float64(bytes))
	e.fetchDuration.Observe(durationSeconds)
}

func (e *PromExporter) ObserveDecision(decision scoring.Decision) {
	e.pagesProcessed.Inc()
	e.actionsTotal.WithLabelValues(string(decision.Action)).Inc()
	e.pageScore.Observe(decision.Score)
}

func (e *PromExporter) ObserveSkip() {
	e.pagesProcessed.Inc()
	e.actionsTotal.WithLabelValues("skip").Inc()
}

func (e *PromExporter) ObserveCascade(decision triage.Decision) {
	for _, stage := range decision.Stages {
		e.cascadeStageTotal.WithLabelValues(stage.Stage(), string(stage.Status())).Inc()
	}
}

func (e *PromExporter) ObserveError() {
	e.errorsTotal.Inc()
}

func (e *PromExporter) ObserveIllegal() {
	e.illegalSkipped.Inc()
}

func (e *PromExporter) ObserveLLMCall() {
	e.llmCallsTotal.Inc()
}

func (e *PromExporter) SetFrontierSize(n int) {
	e.frontierSize.Set(float64(n))
}
