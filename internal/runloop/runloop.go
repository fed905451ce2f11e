package runloop

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/arlowright/oddcrawl/internal/config"
	"github.com/arlowright/oddcrawl/internal/extractor"
	"github.com/arlowright/oddcrawl/internal/fetcher"
	"github.com/arlowright/oddcrawl/internal/frontier"
	"github.com/arlowright/oddcrawl/internal/graph"
	"github.com/arlowright/oddcrawl/internal/llm"
	"github.com/arlowright/oddcrawl/internal/metadata"
	"github.com/arlowright/oddcrawl/internal/robots"
	"github.com/arlowright/oddcrawl/internal/safety"
	"github.com/arlowright/oddcrawl/internal/scoring"
	"github.com/arlowright/oddcrawl/internal/storage"
	"github.com/arlowright/oddcrawl/internal/triage"
	"github.com/arlowright/oddcrawl/pkg/failure"
	"github.com/arlowright/oddcrawl/pkg/fileutil"
	"github.com/arlowright/oddcrawl/pkg/hashutil"
	"github.com/arlowright/oddcrawl/pkg/retry"
	"github.com/arlowright/oddcrawl/pkg/timeutil"
	"github.com/arlowright/oddcrawl/pkg/urlutil"
)

/*
 RunLoop is the sole control-plane authority of the crawl.

 It drives one step at a time: pop a URL from the frontier, fetch it
 under the politeness gates, run the triage cascade, extract and score
 the observation, record the link graph, persist artifacts, and feed
 the outcome back to the frontier. Pipeline stages detect and classify
 failure, but the run loop alone decides retry, continuation, and
 abortion.

 Every checkpointInterval steps (and once on exit) it checkpoints:
 frontier snapshot, failure cache, metrics.json, reports/summary.json,
 graph flush, blocklist flush. Telemetry is append-only with per-line
 writes, so the stream survives any crash mid-step.
*/

// DefaultSkipStatuses are the HTTP statuses the failure cache treats as
// hard skips.
var DefaultSkipStatuses = []int{http.StatusNotFound}

// snippetBytes is how much of the body the cascade decodes (first 8 KiB).
const snippetBytes = 8192

// starvationPoll is how long Run sleeps when the frontier is non-empty
// but every host is token-starved.
const starvationPoll = 250 * time.Millisecond

// RobotPolicy is the robots.txt authority consulted before each fetch.
type RobotPolicy interface {
	Decide(u url.URL) (robots.Decision, *robots.RobotsError)
}

// PageExtractor is the DOM content-extraction boundary.
type PageExtractor interface {
	Extract(sourceUrl url.URL, htmlByte []byte) (extractor.ExtractionResult, failure.ClassifiedError)
}

// StepResult summarizes one completed step for the caller.
type StepResult struct {
	URL         string
	Action      string
	Score       float64
	CascadeSkip bool
	Illegal     bool
	Failed      bool
}

type RunLoop struct {
	cfg          config.Config
	metadataSink metadata.MetadataSink

	frontier   *frontier.Frontier
	fetcher    fetcher.Fetcher
	robot      RobotPolicy
	cascade    *triage.Cascade
	extractor  PageExtractor
	scanner    safety.IllegalScanner
	gate       *safety.Gate
	graph      *graph.Store
	engine     *scoring.Engine
	sink       storage.Sink
	analyst    llm.Analyst
	failures   *FailureCache
	telemetry  *Telemetry
	metrics    *Metrics
	prom       *PromExporter

	retryParam   retry.RetryParam
	extractParam extractor.ExtractParam

	clock   func() time.Time
	sleeper timeutil.Sleeper

	processed            int
	stepsSinceCheckpoint int
}

// New wires a RunLoop from configuration: restores the frontier, failure
// cache, graph, and blocklist from their on-disk snapshots when present,
// and builds the default pipeline components around them.
func New(cfg config.Config, metadataSink metadata.MetadataSink) (*RunLoop, error) {
	clock := time.Now
	sleeper := timeutil.NewRealSleeper()

	stateDir := filepath.Join(cfg.RunDir(), "state")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(cfg.RunDir(), "reports"), 0o755); err != nil {
		return nil, err
	}

	fr, err := loadFrontier(filepath.Join(stateDir, "frontier.json"), cfg.FrontierSettings(), clock)
	if err != nil {
		return nil, err
	}

	failures, err := LoadFailureCache(
		filepath.Join(stateDir, "failures.json"),
		DefaultSkipStatuses,
		cfg.FailureCacheSeconds(),
		clock,
	)
	if err != nil {
		return nil, err
	}

	graphStore, graphErr := graph.Load(filepath.Join(cfg.BaseDir(), "graphs", "link_graph.json"), 1)
	if graphErr != nil {
		return nil, graphErr
	}

	gateSettings := cfg.TorGateSettings()
	if !filepath.IsAbs(gateSettings.BlocklistPath) {
		gateSettings.BlocklistPath = filepath.Join(cfg.BaseDir(), gateSettings.BlocklistPath)
	}
	gate, gateErr := safety.LoadGate(gateSettings, clock, sleeper)
	if gateErr != nil {
		return nil, gateErr
	}
	for _, hostlist := range []string{
		filepath.Join(cfg.BaseDir(), "safety", "urlhaus.txt"),
		filepath.Join(cfg.BaseDir(), "config", "safety", "blocklist_hosts.txt"),
	} {
		if _, importErr := gate.ImportHostlist(hostlist, "hostlist"); importErr != nil {
			return nil, importErr
		}
	}

	telemetry, err := OpenTelemetry(filepath.Join(cfg.RunDir(), "telemetry.jsonl"))
	if err != nil {
		return nil, err
	}

	dialer := safety.NewDirectDialer()
	httpClient := &http.Client{
		Timeout:   cfg.DownloadTimeout(),
		Transport: dialer.Transport(),
	}
	htmlFetcher := fetcher.NewHtmlFetcher(metadataSink)
	htmlFetcher.Init(httpClient, cfg.UserAgent())
	htmlFetcher.SetViaTor(dialer.ViaTor())

	var robot RobotPolicy
	if cfg.ObeyRobotsTxt() {
		cachedRobot := robots.NewCachedRobot(metadataSink)
		cachedRobot.Init(cfg.UserAgent())
		robot = &cachedRobot
	}

	cascade := triage.NewCascade(
		cfg.CascadeSettings(),
		triage.NewSeenSet(),
		triage.NewHeuristicPrefilter(cfg.PrefilterSettings()),
	)

	extractParam := extractor.DefaultExtractParam()
	if maxChars := cfg.StorageSettings().Excerpts.MaxChars; maxChars > 0 {
		extractParam.MaxExcerptChars = maxChars
	}
	domExtractor := extractor.NewDomExtractorWithParams(metadataSink, extractParam)

	sink := storage.NewLocalSink(cfg.BaseDir(), cfg.StorageSettings(), metadataSink)

	return &RunLoop{
		cfg:          cfg,
		metadataSink: metadataSink,
		frontier:     fr,
		fetcher:      &htmlFetcher,
		robot:        robot,
		cascade:      cascade,
		extractor:    &domExtractor,
		scanner:      safety.NewIllegalScanner(cfg.IllegalKeywords(), cfg.MinKeywordMatches()),
		gate:         gate,
		graph:        graphStore,
		engine:       scoring.NewEngine(cfg.ScoringWeights()),
		sink:         &sink,
		analyst:      nil,
		failures:     failures,
		telemetry:    telemetry,
		metrics:      NewMetrics(clock()),
		prom:         NewPromExporter(),
		retryParam:   cfg.RetryParam(),
		extractParam: extractParam,
		clock:        clock,
		sleeper:      sleeper,
	}, nil
}

// NewWithDeps creates a RunLoop with injected dependencies for testing.
// This constructor allows tests to provide fake implementations of every
// boundary without relying on real infrastructure.
func NewWithDeps(
	cfg config.Config,
	metadataSink metadata.MetadataSink,
	fr *frontier.Frontier,
	htmlFetcher fetcher.Fetcher,
	robot RobotPolicy,
	cascade *triage.Cascade,
	pageExtractor PageExtractor,
	scanner safety.IllegalScanner,
	gate *safety.Gate,
	graphStore *graph.Store,
	engine *scoring.Engine,
	sink storage.Sink,
	analyst llm.Analyst,
	failures *FailureCache,
	telemetry *Telemetry,
	metrics *Metrics,
	prom *PromExporter,
	clock func() time.Time,
	sleeper timeutil.Sleeper,
) *RunLoop {
	extractParam := extractor.DefaultExtractParam()
	if maxChars := cfg.StorageSettings().Excerpts.MaxChars; maxChars > 0 {
		extractParam.MaxExcerptChars = maxChars
	}
	return &RunLoop{
		cfg:          cfg,
		metadataSink: metadataSink,
		frontier:     fr,
		fetcher:      htmlFetcher,
		robot:        robot,
		cascade:      cascade,
		extractor:    pageExtractor,
		scanner:      scanner,
		gate:         gate,
		graph:        graphStore,
		engine:       engine,
		sink:         sink,
		analyst:      analyst,
		failures:     failures,
		telemetry:    telemetry,
		metrics:      metrics,
		prom:         prom,
		retryParam:   cfg.RetryParam(),
		extractParam: extractParam,
		clock:        clock,
		sleeper:      sleeper,
	}
}

func loadFrontier(path string, settings frontier.Settings, clock func() time.Time) (*frontier.Frontier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return frontier.New(settings, clock), nil
		}
		return nil, err
	}
	var state frontier.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return frontier.FromState(state, clock)
}

// Frontier exposes the loop's frontier, primarily for seeding and tests.
func (r *RunLoop) Frontier() *frontier.Frontier {
	return r.frontier
}

// Metrics exposes the loop's rolling counters.
func (r *RunLoop) Metrics() *Metrics {
	return r.metrics
}

// PromHandler serves the loop's Prometheus registry; nil when metrics
// exposition is disabled.
func (r *RunLoop) PromHandler() http.Handler {
	if r.prom == nil {
		return nil
	}
	return r.prom.Handler()
}

// Seed canonicalizes and enqueues the given URLs at depth zero. Seeds
// suppressed by the failure cache or the seen-set are counted and
// reported as seed_skipped telemetry events, grouped by reason.
func (r *RunLoop) Seed(seeds []url.URL) {
	skippedByReason := map[string]int{}
	for _, u := range seeds {
		canonical, err := urlutil.Canonicalize(u)
		if err != nil {
			skippedByReason["invalid_url"]++
			continue
		}
		if r.failures.ShouldSkip(canonical.String()) {
			skippedByReason["failure_cache"]++
			continue
		}
		if !r.frontier.Add(canonical, 0, "", nil, 0, nil) {
			skippedByReason["already_seen"]++
		}
	}
	for reason, count := range skippedByReason {
		_ = r.telemetry.Emit(SeedSkippedEvent{
			Timestamp:    eventTimestamp(r.clock()),
			Event:        "seed_skipped",
			SkippedCount: count,
			Reason:       reason,
		})
	}
}

// Run drives steps until the context is cancelled, the frontier drains,
// or the configured page budget is reached, then performs one final
// checkpoint. A stop request always lets the current step finish.
func (r *RunLoop) Run(ctx context.Context) error {
	startedAt := r.clock()
	defer func() {
		r.metadataSink.RecordFinalCrawlStats(
			r.processed,
			r.metrics.Snapshot(r.clock()).Errors,
			0,
			r.clock().Sub(startedAt),
		)
	}()

	for {
		select {
		case <-ctx.Done():
			return r.Checkpoint()
		default:
		}

		if r.cfg.MaxPages() > 0 && r.processed >= r.cfg.MaxPages() {
			return r.Checkpoint()
		}

		_, ok := r.Step(ctx)
		if !ok {
			if r.frontier.Len() == 0 {
				return r.Checkpoint()
			}
			// Jobs exist but every host is token-starved; sleep one
			// starvationPoll instead of spinning.
			r.sleeper.Sleep(starvationPoll)
			continue
		}

		r.stepsSinceCheckpoint++
		if r.stepsSinceCheckpoint >= r.cfg.CheckpointInterval() {
			if err := r.Checkpoint(); err != nil {
				r.recordCheckpointError(err)
			}
		}
	}
}

// Step processes one URL end to end. Returns ok=false when the frontier
// yields nothing this tick.
func (r *RunLoop) Step(ctx context.Context) (StepResult, bool) {
	job, ok := r.frontier.Pop()
	if !ok {
		return StepResult{}, false
	}

	u := job.URL()
	canonical := u.String()
	host := u.Host

	if r.failures.ShouldSkip(canonical) {
		r.frontier.RecordFeedback(canonical, host, 0, "skip", false)
		r.recordPlainSkip("failure cache hit")
		r.processed++
		return StepResult{URL: canonical, Action: "skip"}, true
	}

	if r.robot != nil {
		decision, robotsErr := r.robot.Decide(u)
		if robotsErr != nil {
			r.frontier.RecordFailure(canonical, host, nil, "robots fetch failed")
			r.recordStepError("robots", robotsErr.Error(), host)
			r.processed++
			return StepResult{URL: canonical, Failed: true}, true
		}
		if !decision.Allowed {
			// Permanent skip for this URL: it stays in the seen-set and
			// is never retried.
			r.frontier.RecordFeedback(canonical, host, 0, "skip", false)
			r.recordPlainSkip("robots disallowed")
			r.emitSkipEvent(canonical, "robots disallowed", 0, nil)
			r.processed++
			return StepResult{URL: canonical, Action: "skip"}, true
		}
	}

	if r.gate != nil {
		if gateErr := r.gate.BeforeRequest(host); gateErr != nil {
			r.frontier.RecordFeedback(canonical, host, 0, "skip", false)
			r.recordPlainSkip("host blocklisted")
			r.emitSkipEvent(canonical, "host blocklisted", 0, nil)
			r.processed++
			return StepResult{URL: canonical, Action: "skip"}, true
		}
	}

	fetchResult, fetchErr := r.fetcher.Fetch(ctx, job.Depth(), u, r.retryParam)
	if fetchErr != nil {
		result := r.handleFetchFailure(canonical, host, fetchErr)
		r.processed++
		return result, true
	}
	if r.gate != nil {
		r.gate.RecordSuccess(host)
	}

	body := fetchResult.Body()
	headers := fetchResult.Headers()
	status := fetchResult.Code()
	fetchedAt := fetchResult.FetchedAt()
	durationMS := fetchResult.Duration().Milliseconds()
	bytesDownloaded := int64(len(body))

	r.metrics.RecordFetch(bytesDownloaded, durationMS)
	if r.prom != nil {
		r.prom.ObserveFetch(bytesDownloaded, fetchResult.Duration().Seconds())
	}

	urlSHA, hashErr := hashutil.HashBytes([]byte(canonical), hashutil.HashAlgoSHA256)
	if hashErr != nil {
		r.frontier.RecordFeedback(canonical, host, 0, "skip", false)
		r.recordStepError("hash", hashErr.Error(), host)
		r.processed++
		return StepResult{URL: canonical, Failed: true}, true
	}
	contentSHA, _ := hashutil.HashBytes(body, hashutil.HashAlgoSHA256)

	// Pre-extraction illegal scan on the raw body.
	if scanResult := r.scanner.Scan(string(body)); scanResult.Illegal {
		r.handleIllegal(canonical, host, fetchResult.ViaTor(), scanResult, status)
		r.processed++
		return StepResult{URL: canonical, Action: "skip", Illegal: true}, true
	}

	head := triage.FetchHead{
		ContentType:   headerValue(headers, "Content-Type"),
		ContentLength: len(body),
	}
	snippet := decodeSnippet(body)
	draft := triage.BuildDraft(u, snippet)

	cascadeDecision := r.cascade.Evaluate(head, snippet, draft)
	r.metrics.RecordCascade(cascadeDecision)
	if r.prom != nil {
		r.prom.ObserveCascade(cascadeDecision)
	}
	cascadeRecord := cascadeRecordOf(cascadeDecision)

	if cascadeDecision.ShouldSkip {
		r.frontier.RecordFeedback(canonical, host, 0, "skip", true)
		r.recordPlainSkip(cascadeDecision.FinalReason)
		r.emitSkipEvent(canonical, cascadeDecision.FinalReason, status, cascadeRecord)
		r.processed++
		return StepResult{URL: canonical, Action: "skip", CascadeSkip: true}, true
	}

	extraction, extractErr := r.extractor.Extract(u, body)
	if extractErr != nil {
		r.frontier.RecordFeedback(canonical, host, 0, "skip", false)
		r.recordStepError("extract", extractErr.Error(), host)
		r.processed++
		return StepResult{URL: canonical, Failed: true}, true
	}
	ext := extractor.BuildObservation(extraction, u, fetchedAt, r.extractParam)

	// Post-extraction re-scan: decoded text can surface matches the raw
	// bytes hid (entities, split tags).
	if scanResult := r.scanner.Scan(ext.TextExcerpt); scanResult.Illegal {
		r.handleIllegal(canonical, host, fetchResult.ViaTor(), scanResult, status)
		r.processed++
		return StepResult{URL: canonical, Action: "skip", Illegal: true}, true
	}

	if !r.cfg.DryRun() {
		if _, writeErr := r.sink.WriteRawHTML(urlSHA, fetchedAt, body, headers); writeErr != nil {
			// Degraded: the capture is lost but the step continues.
			r.metrics.RecordError()
		}
	}

	links := make([]graph.LinkInput, 0, len(ext.OutboundLinks))
	for _, link := range ext.OutboundLinks {
		links = append(links, graph.LinkInput{
			URL:        link.URL,
			AnchorText: link.AnchorText,
			Rel:        link.Rel,
		})
	}
	graphMetrics, graphErr := r.graph.RecordPage(canonical, fetchedAt, status, ext.Title, links, ext.WebringHits)
	if graphErr != nil {
		r.metrics.RecordError()
	}

	features := scoring.Features{
		RetroHTML:     ext.RetroHTML.Score,
		URLWeird:      ext.URLWeird.Score,
		Semantic:      ext.Semantic.Score,
		Anomaly:       0,
		Graph:         graphMetrics.GraphScore,
		RetroSignals:  ext.RetroHTML.Signals,
		URLFlags:      urlFlagsOf(ext.URLWeird),
		HasWebring:    graphMetrics.HasWebring,
		ComponentSize: graphMetrics.ComponentSize,
	}
	decision := r.engine.Evaluate(features)

	if updateErr := r.graph.UpdateScore(canonical, decision.Score, string(decision.Action)); updateErr != nil {
		r.metrics.RecordError()
	}

	observation := buildObservation(
		u.String(), canonical, fetchedAt, status, headers,
		urlSHA, contentSHA, ext, graphMetrics, cascadeRecord,
		durationMS, bytesDownloaded, fetchResult.ViaTor(),
	)

	var observationPath string
	if !r.cfg.DryRun() {
		if payload, jsonErr := observation.redactedJSON(r.extractParam.MaxExcerptChars); jsonErr == nil {
			if writeResult, writeErr := r.sink.WriteExcerpt(urlSHA, fetchedAt, payload); writeErr == nil {
				observationPath = writeResult.Path()
			} else {
				r.metrics.RecordError()
			}
		}
	}

	findingRef := ""
	if decision.Action == scoring.ActionLLM {
		finding := llm.AnalyzeWithFallback(ctx, r.analyst, llm.Input{
			URL:          canonical,
			URLSHA256:    urlSHA,
			FetchedAt:    fetchedAt,
			Title:        ext.Title,
			TextExcerpt:  ext.TextExcerpt,
			RetroSignals: ext.RetroHTML.Signals,
			Reasons:      decision.Reasons,
		})
		r.metrics.RecordLLMCall()
		if r.prom != nil {
			r.prom.ObserveLLMCall()
		}
		findingRef = finding.ObservationRef

		if finding.DangerousContent.Present && !r.cfg.DryRun() {
			record := storage.BreadcrumbRecord{
				URLHash:         urlSHA,
				ObservedAt:      fetchedAt.UTC().Format(time.RFC3339),
				Category:        breadcrumbCategoryOf(finding.DangerousContent.Category),
				Reason:          truncateString(finding.DangerousContent.Notes, 300),
				Source:          "analyst",
				ExcerptRedacted: truncateString(ext.TextExcerpt, r.extractParam.MaxExcerptChars),
			}
			if crumbErr := r.sink.WriteBreadcrumb(record); crumbErr != nil {
				r.metrics.RecordError()
			}
		}
	}

	r.frontier.RecordFeedback(canonical, host, decision.Score, string(decision.Action), false)
	r.metrics.RecordDecision(decision)
	if r.prom != nil {
		r.prom.ObserveDecision(decision)
	}

	// Discovered links enter the frontier after feedback so the host's
	// fresh reward steers their priorities.
	for _, link := range ext.OutboundLinks {
		parsed, parseErr := url.Parse(link.URL)
		if parseErr != nil {
			continue
		}
		r.frontier.Add(*parsed, job.Depth()+1, canonical, nil, decision.Score, nil)
	}
	if r.prom != nil {
		r.prom.SetFrontierSize(r.frontier.Len())
	}

	_ = r.telemetry.Emit(PageEvent{
		Timestamp:       eventTimestamp(r.clock()),
		URL:             canonical,
		Action:          string(decision.Action),
		Score:           decision.Score,
		ThresholdsHit:   decision.ThresholdsHit,
		Reasons:         decision.Reasons,
		FrontierSize:    r.frontier.Len(),
		ObservationPath: observationPath,
		FindingRef:      findingRef,
		Illegal:         false,
		FetchDurationMS: durationMS,
		BytesDownloaded: bytesDownloaded,
		Status:          status,
		ViaTor:          fetchResult.ViaTor(),
		Cascade:         cascadeRecord,
	})

	r.processed++
	return StepResult{URL: canonical, Action: string(decision.Action), Score: decision.Score}, true
}

// handleFetchFailure routes a classified fetch error: 404 feeds the
// failure cache, non-HTML content is a triage outcome rather than a host
// failure, everything else backs the host off and emits an error event.
func (r *RunLoop) handleFetchFailure(canonical, host string, fetchErr failure.ClassifiedError) StepResult {
	var fe *fetcher.FetchError
	if errors.As(fetchErr, &fe) {
		switch {
		case fe.StatusCode == http.StatusNotFound:
			statusValue := fe.StatusCode
			total := r.failures.Record(canonical, &statusValue, "http_404")
			r.frontier.RecordFailure(canonical, host, &statusValue, "http_404")
			if r.gate != nil {
				r.gate.RecordFailure(host)
			}
			r.metrics.RecordFailureHost(host)
			r.metrics.SetCachedFailures(r.failures.Len())
			now := eventTimestamp(r.clock())
			_ = r.telemetry.Emit(URL404Event{
				Timestamp: now,
				Event:     "url_404",
				URL:       canonical,
				Status:    fe.StatusCode,
				Host:      host,
			})
			_ = r.telemetry.Emit(FailureCachedEvent{
				Timestamp:   now,
				Event:       "url_failure_cached",
				TotalCached: total,
			})
			return StepResult{URL: canonical, Failed: true}

		case fe.Cause == fetcher.ErrCauseContentTypeInvalid:
			r.frontier.RecordFeedback(canonical, host, 0, "skip", true)
			r.recordPlainSkip("content-type not html")
			return StepResult{URL: canonical, Action: "skip", CascadeSkip: true}
		}

		var statusPtr *int
		if fe.StatusCode > 0 {
			statusValue := fe.StatusCode
			statusPtr = &statusValue
		}
		r.frontier.RecordFailure(canonical, host, statusPtr, string(fe.Cause))
		if r.gate != nil {
			r.gate.RecordFailure(host)
		}
		r.recordStepError("fetch", fe.Error(), host)
		return StepResult{URL: canonical, Failed: true}
	}

	r.frontier.RecordFailure(canonical, host, nil, fetchErr.Error())
	if r.gate != nil {
		r.gate.RecordFailure(host)
	}
	r.recordStepError("fetch", fetchErr.Error(), host)
	return StepResult{URL: canonical, Failed: true}
}

// handleIllegal applies the policy-skip treatment: nothing persisted,
// score 0 fed back, and the host permanently blocked when the fetch was
// Tor-routed.
func (r *RunLoop) handleIllegal(canonical, host string, viaTor bool, scanResult safety.IllegalScanResult, status int) {
	if viaTor && r.gate != nil {
		r.gate.BlockIllegal(host, scanResult.Reason)
	}
	r.metrics.RecordIllegal()
	r.metrics.RecordSkip("illegal content")
	if r.prom != nil {
		r.prom.ObserveIllegal()
		r.prom.ObserveSkip()
	}

	_ = r.telemetry.Emit(PageEvent{
		Timestamp:    eventTimestamp(r.clock()),
		URL:          canonical,
		Action:       "skip",
		Score:        0,
		Reasons:      []string{scanResult.Reason},
		FrontierSize: r.frontier.Len(),
		Illegal:      true,
		Status:       status,
		ViaTor:       viaTor,
	})

	r.frontier.RecordFeedback(canonical, host, 0, "skip", false)
}

func (r *RunLoop) recordPlainSkip(reason string) {
	r.metrics.RecordSkip(reason)
	if r.prom != nil {
		r.prom.ObserveSkip()
	}
}

func (r *RunLoop) recordStepError(errorType, message, host string) {
	r.metrics.RecordError()
	if host != "" {
		r.metrics.RecordFailureHost(host)
	}
	if r.prom != nil {
		r.prom.ObserveError()
	}
	_ = r.telemetry.Emit(ErrorEvent{
		Timestamp:    eventTimestamp(r.clock()),
		Event:        "error",
		ErrorType:    errorType,
		ErrorMessage: message,
	})
}

func (r *RunLoop) emitSkipEvent(canonical, reason string, status int, cascade *CascadeRecord) {
	_ = r.telemetry.Emit(PageEvent{
		Timestamp:    eventTimestamp(r.clock()),
		URL:          canonical,
		Action:       "skip",
		Score:        0,
		Reasons:      []string{reason},
		FrontierSize: r.frontier.Len(),
		Status:       status,
		Cascade:      cascade,
	})
}

// Checkpoint persists the frontier snapshot, failure cache, metrics,
// summary report, graph, and blocklist. The first error is returned but
// every artifact is attempted.
func (r *RunLoop) Checkpoint() error {
	r.stepsSinceCheckpoint = 0
	now := r.clock()
	var firstErr error

	stateDir := filepath.Join(r.cfg.RunDir(), "state")

	frontierState := r.frontier.ExportState()
	if data, err := json.MarshalIndent(frontierState, "", "  "); err != nil {
		firstErr = err
	} else if writeErr := fileutil.WriteFileAtomic(filepath.Join(stateDir, "frontier.json"), data, 0o644); writeErr != nil {
		firstErr = writeErr
	} else {
		r.metadataSink.RecordArtifact(metadata.ArtifactFrontierSnapshot, filepath.Join(stateDir, "frontier.json"), nil)
	}

	if err := r.failures.Save(); err != nil && firstErr == nil {
		firstErr = err
	}
	r.metrics.SetCachedFailures(r.failures.Len())

	metricsDoc := r.metrics.Snapshot(now)
	if data, err := json.MarshalIndent(metricsDoc, "", "  "); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else if writeErr := fileutil.WriteFileAtomic(filepath.Join(r.cfg.RunDir(), "metrics.json"), data, 0o644); writeErr != nil && firstErr == nil {
		firstErr = writeErr
	}

	summary := r.metrics.Summarize(now)
	summaryPath := filepath.Join(r.cfg.RunDir(), "reports", "summary.json")
	if data, err := json.MarshalIndent(summary, "", "  "); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else if writeErr := fileutil.WriteFileAtomic(summaryPath, data, 0o644); writeErr != nil {
		if firstErr == nil {
			firstErr = writeErr
		}
	} else {
		r.metadataSink.RecordArtifact(metadata.ArtifactSummaryReport, summaryPath, nil)
	}

	if err := r.graph.Flush(); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else {
		r.metadataSink.RecordArtifact(metadata.ArtifactGraphSnapshot, r.graph.Path(), nil)
	}
	if r.gate != nil {
		if err := r.gate.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Close releases the telemetry stream.
func (r *RunLoop) Close() error {
	return r.telemetry.Close()
}

func (r *RunLoop) recordCheckpointError(err error) {
	r.metadataSink.RecordError(
		r.clock(),
		"runloop",
		"RunLoop.Checkpoint",
		metadata.CauseStorageFailure,
		err.Error(),
		nil,
	)
}

func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	if v, ok := headers[http.CanonicalHeaderKey(key)]; ok {
		return v
	}
	return ""
}

// decodeSnippet returns the first 8 KiB of body as a string. Invalid
// UTF-8 sequences pass through; the tokenizers downstream only match
// word runes.
func decodeSnippet(body []byte) string {
	if len(body) > snippetBytes {
		body = body[:snippetBytes]
	}
	return string(body)
}

func breadcrumbCategoryOf(category string) storage.BreadcrumbCategory {
	switch storage.BreadcrumbCategory(category) {
	case storage.CategorySelfHarm, storage.CategoryIllegalTrade, storage.CategoryAdult,
		storage.CategoryExtremist, storage.CategoryViolent:
		return storage.BreadcrumbCategory(category)
	default:
		return storage.CategoryOther
	}
}

// truncateString caps s at max runes so a multi-byte character is never
// split mid-sequence.
func truncateString(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
