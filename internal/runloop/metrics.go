package runloop

import (
	"sort"
	"sync"
	"time"

	"github.com/arlowright/oddcrawl/internal/scoring"
	"github.com/arlowright/oddcrawl/internal/triage"
)

/*
Metrics is the run's rolling counter set. Most quantities here are also
derivable from telemetry.jsonl, but not all: error events carry no host,
so failure_hosts cannot be rebuilt from the stream, and only scored page
events carry fetch duration and bytes, so fetch_stats for skipped pages
cannot either. This struct keeps the rollups hot so checkpoints can
rewrite metrics.json and reports/summary.json without replaying the
stream.
*/
type Metrics struct {
	mu sync.Mutex

	startedAt time.Time

	pagesProcessed int
	actions        map[string]int
	illegalSkipped int
	errorCount     int
	llmCalls       int
	totalScore     float64
	reasons        map[string]int
	cachedFailures int
	failureHosts   map[string]int

	fetchRequests   int
	fetchBytes      int64
	fetchDurationMS int64

	cascadeSkips     int
	cascadePasses    int
	cascadeWarns     int
	cascadeStages    map[string]map[string]int
	cascadeOverrides map[string]int
}

// NewMetrics starts an empty rollup anchored at startedAt.
func NewMetrics(startedAt time.Time) *Metrics {
	return &Metrics{
		startedAt:        startedAt,
		actions:          make(map[string]int),
		reasons:          make(map[string]int),
		failureHosts:     make(map[string]int),
		cascadeStages:    make(map[string]map[string]int),
		cascadeOverrides: make(map[string]int),
	}
}

// RecordFetch accounts one completed HTTP fetch.
func (m *Metrics) RecordFetch(bytes int64, durationMS int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchRequests++
	m.fetchBytes += bytes
	m.fetchDurationMS += durationMS
}

// RecordDecision accounts one scored page.
func (m *Metrics) RecordDecision(decision scoring.Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pagesProcessed++
	m.actions[string(decision.Action)]++
	m.totalScore += decision.Score
	for _, reason := range decision.Reasons {
		m.reasons[reason]++
	}
}

// RecordSkip accounts a page that never reached scoring (cascade skip,
// illegal match, robots disallow).
func (m *Metrics) RecordSkip(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pagesProcessed++
	m.actions["skip"]++
	if reason != "" {
		m.reasons[reason]++
	}
}

// RecordCascade accounts every stage outcome of one cascade decision.
func (m *Metrics) RecordCascade(decision triage.Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if decision.ShouldSkip {
		m.cascadeSkips++
	} else {
		m.cascadePasses++
	}
	for _, stage := range decision.Stages {
		byStatus, ok := m.cascadeStages[stage.Stage()]
		if !ok {
			byStatus = make(map[string]int)
			m.cascadeStages[stage.Stage()] = byStatus
		}
		byStatus[string(stage.Status())]++
		if stage.Status() == triage.StatusWarn {
			m.cascadeWarns++
			m.cascadeOverrides[stage.Stage()]++
		}
	}
}

// RecordIllegal accounts a policy skip from the illegal-keyword scanner.
func (m *Metrics) RecordIllegal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.illegalSkipped++
}

// RecordError accounts a step error (fetch, extract, storage).
func (m *Metrics) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount++
}

// RecordLLMCall accounts one analyst invocation.
func (m *Metrics) RecordLLMCall() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.llmCalls++
}

// RecordFailureHost accounts a per-host failure.
func (m *Metrics) RecordFailureHost(host string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureHosts[host]++
}

// SetCachedFailures reflects the failure cache's current size.
func (m *Metrics) SetCachedFailures(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cachedFailures = n
}

// FailureHostCount reports the accounted failures for one host.
func (m *Metrics) FailureHostCount(host string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failureHosts[host]
}

// FetchStats is the fetch rollup block of metrics.json.
type FetchStats struct {
	Requests          int     `json:"requests"`
	TotalBytes        int64   `json:"total_bytes"`
	TotalDurationMS   int64   `json:"total_duration_ms"`
	AverageBytes      float64 `json:"average_bytes"`
	AverageDurationMS float64 `json:"average_duration_ms"`
}

// TimingStats is the derived runtime/rate block.
type TimingStats struct {
	TotalRuntimeSeconds float64 `json:"total_runtime_seconds"`
	PagesPerMinute      float64 `json:"pages_per_minute"`
	PagesPerHour        float64 `json:"pages_per_hour"`
}

// CostStats is the derived bandwidth/LLM cost block.
type CostStats struct {
	BandwidthBytes int64   `json:"bandwidth_bytes"`
	BandwidthMiB   float64 `json:"bandwidth_mib"`
	PerPageKiB     float64 `json:"per_page_kib"`
	LLMCalls       int     `json:"llm_calls"`
}

// OddHitStats is the persist+llm hit rollup.
type OddHitStats struct {
	Total int     `json:"total"`
	Ratio float64 `json:"ratio"`
}

// CascadeStats is the per-stage cascade rollup.
type CascadeStats struct {
	Skips     int                       `json:"skips"`
	Passes    int                       `json:"passes"`
	Warns     int                       `json:"warns"`
	Stages    map[string]map[string]int `json:"stages"`
	Overrides map[string]int            `json:"overrides"`
}

// Document is the full metrics.json shape.
type Document struct {
	PagesProcessed int            `json:"pages_processed"`
	Actions        map[string]int `json:"actions"`
	IllegalSkipped int            `json:"illegal_skipped"`
	Errors         int            `json:"errors"`
	LLMCalls       int            `json:"llm_calls"`
	TotalScore     float64        `json:"total_score"`
	AverageScore   float64        `json:"average_score"`
	Reasons        map[string]int `json:"reasons"`
	CachedFailures int            `json:"cached_failures"`
	FailureHosts   map[string]int `json:"failure_hosts"`
	FetchStats     FetchStats     `json:"fetch_stats"`
	Timing         TimingStats    `json:"timing"`
	Cost           CostStats      `json:"cost"`
	OddHits        OddHitStats    `json:"odd_hits"`
	Cascade        CascadeStats   `json:"cascade"`
}

// Snapshot projects the rollups into the metrics.json document as of now.
func (m *Metrics) Snapshot(now time.Time) Document {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := Document{
		PagesProcessed: m.pagesProcessed,
		Actions:        copyCounts(m.actions),
		IllegalSkipped: m.illegalSkipped,
		Errors:         m.errorCount,
		LLMCalls:       m.llmCalls,
		TotalScore:     m.totalScore,
		Reasons:        copyCounts(m.reasons),
		CachedFailures: m.cachedFailures,
		FailureHosts:   copyCounts(m.failureHosts),
		FetchStats: FetchStats{
			Requests:        m.fetchRequests,
			TotalBytes:      m.fetchBytes,
			TotalDurationMS: m.fetchDurationMS,
		},
		Cost: CostStats{
			BandwidthBytes: m.fetchBytes,
			BandwidthMiB:   float64(m.fetchBytes) / (1024 * 1024),
			LLMCalls:       m.llmCalls,
		},
		Cascade: CascadeStats{
			Skips:     m.cascadeSkips,
			Passes:    m.cascadePasses,
			Warns:     m.cascadeWarns,
			Stages:    copyStageCounts(m.cascadeStages),
			Overrides: copyCounts(m.cascadeOverrides),
		},
	}

	if m.pagesProcessed > 0 {
		doc.AverageScore = m.totalScore / float64(m.pagesProcessed)
		doc.Cost.PerPageKiB = float64(m.fetchBytes) / 1024 / float64(m.pagesProcessed)
	}
	if m.fetchRequests > 0 {
		doc.FetchStats.AverageBytes = float64(m.fetchBytes) / float64(m.fetchRequests)
		doc.FetchStats.AverageDurationMS = float64(m.fetchDurationMS) / float64(m.fetchRequests)
	}

	runtime := now.Sub(m.startedAt).Seconds()
	doc.Timing.TotalRuntimeSeconds = runtime
	if runtime > 0 {
		doc.Timing.PagesPerMinute = float64(m.pagesProcessed) / runtime * 60
		doc.Timing.PagesPerHour = float64(m.pagesProcessed) / runtime * 3600
	}

	odd := m.actions["persist"] + m.actions["llm"]
	doc.OddHits.Total = odd
	if m.pagesProcessed > 0 {
		doc.OddHits.Ratio = float64(odd) / float64(m.pagesProcessed)
	}

	return doc
}

// CountRow is one entry of a summary top-N table.
type CountRow struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Summary is the denormalized, stable reports/summary.json projection.
type Summary struct {
	GeneratedAt     string         `json:"generated_at"`
	PagesProcessed  int            `json:"pages_processed"`
	Actions         map[string]int `json:"actions"`
	OddHits         OddHitStats    `json:"odd_hits"`
	AverageScore    float64        `json:"average_score"`
	Errors          int            `json:"errors"`
	IllegalSkipped  int            `json:"illegal_skipped"`
	LLMCalls        int            `json:"llm_calls"`
	CachedFailures  int            `json:"cached_failures"`
	CascadeSkipRate float64        `json:"cascade_skip_rate"`
	Reasons         []CountRow     `json:"reasons"`
	TopFailureHosts []CountRow     `json:"top_failure_hosts"`
	FetchStats      FetchStats     `json:"fetch_stats"`
	Timing          TimingStats    `json:"timing"`
	Cost            CostStats      `json:"cost"`
}

const summaryTopN = 10

// Summarize projects the snapshot into the operator-facing summary,
// with the reasons histogram and the top failure hosts ranked.
func (m *Metrics) Summarize(now time.Time) Summary {
	doc := m.Snapshot(now)

	summary := Summary{
		GeneratedAt:    now.UTC().Format(time.RFC3339),
		PagesProcessed: doc.PagesProcessed,
		Actions:        doc.Actions,
		OddHits:        doc.OddHits,
		AverageScore:   doc.AverageScore,
		Errors:         doc.Errors,
		IllegalSkipped: doc.IllegalSkipped,
		LLMCalls:       doc.LLMCalls,
		CachedFailures: doc.CachedFailures,
		Reasons:        rankCounts(doc.Reasons, 0),
		TopFailureHosts: rankCounts(doc.FailureHosts, summaryTopN),
		FetchStats:     doc.FetchStats,
		Timing:         doc.Timing,
		Cost:           doc.Cost,
	}

	cascadeTotal := doc.Cascade.Skips + doc.Cascade.Passes
	if cascadeTotal > 0 {
		summary.CascadeSkipRate = float64(doc.Cascade.Skips) / float64(cascadeTotal)
	}
	return summary
}

func copyCounts(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copyStageCounts(src map[string]map[string]int) map[string]map[string]int {
	dst := make(map[string]map[string]int, len(src))
	for stage, byStatus := range src {
		dst[stage] = copyCounts(byStatus)
	}
	return dst
}

// rankCounts orders a histogram by descending count (key ascending for
// ties, keeping the projection stable across runs). topN <= 0 keeps all.
func rankCounts(counts map[string]int, topN int) []CountRow {
	rows := make([]CountRow, 0, len(counts))
	for key, count := range counts {
		rows = append(rows, CountRow{Key: key, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Key < rows[j].Key
	})
	if topN > 0 && len(rows) > topN {
		rows = rows[:topN]
	}
	return rows
}
