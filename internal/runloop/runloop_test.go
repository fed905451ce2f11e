package runloop_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arlowright/oddcrawl/internal/config"
	"github.com/arlowright/oddcrawl/internal/extractor"
	"github.com/arlowright/oddcrawl/internal/fetcher"
	"github.com/arlowright/oddcrawl/internal/frontier"
	"github.com/arlowright/oddcrawl/internal/graph"
	"github.com/arlowright/oddcrawl/internal/metadata"
	"github.com/arlowright/oddcrawl/internal/runloop"
	"github.com/arlowright/oddcrawl/internal/safety"
	"github.com/arlowright/oddcrawl/internal/scoring"
	"github.com/arlowright/oddcrawl/internal/storage"
	"github.com/arlowright/oddcrawl/internal/triage"
	"github.com/arlowright/oddcrawl/pkg/failure"
	"github.com/arlowright/oddcrawl/pkg/retry"
	"github.com/arlowright/oddcrawl/pkg/timeutil"
)

// scriptedFetcher serves canned responses per URL, standing in for the
// HTTP boundary.
type scriptedFetcher struct {
	results map[string]fetcher.FetchResult
	errs    map[string]failure.ClassifiedError
	fetched []string
}

func (f *scriptedFetcher) Init(_ *http.Client, _ string) {}

func (f *scriptedFetcher) Fetch(
	_ context.Context,
	_ int,
	fetchUrl url.URL,
	_ retry.RetryParam,
) (fetcher.FetchResult, failure.ClassifiedError) {
	key := fetchUrl.String()
	f.fetched = append(f.fetched, key)
	if err, ok := f.errs[key]; ok {
		return fetcher.FetchResult{}, err
	}
	if result, ok := f.results[key]; ok {
		return result, nil
	}
	return fetcher.FetchResult{}, &fetcher.FetchError{
		Message:   "no scripted response",
		Retryable: false,
		Cause:     fetcher.ErrCauseNetworkFailure,
	}
}

func htmlResult(t *testing.T, rawURL, body string) fetcher.FetchResult {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)
	return fetcher.NewFetchResultForTest(
		*parsed,
		[]byte(body),
		200,
		map[string]string{"Content-Type": "text/html; charset=utf-8"},
		time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		80*time.Millisecond,
		false,
	)
}

type loopFixture struct {
	loop     *runloop.RunLoop
	frontier *frontier.Frontier
	graph    *graph.Store
	failures *runloop.FailureCache
	runDir   string
	baseDir  string
}

func newLoopFixture(t *testing.T, fetch fetcher.Fetcher, illegalKeywords []string) loopFixture {
	t.Helper()

	runDir := t.TempDir()
	baseDir := t.TempDir()

	cfg, err := config.WithDefault([]url.URL{{Scheme: "https", Host: "example.com", Path: "/"}}).
		WithRunDir(runDir).
		WithBaseDir(baseDir).
		WithCheckpointInterval(1).
		WithIllegalKeywords(illegalKeywords, 1).
		Build()
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(runDir, "state"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(runDir, "reports"), 0o755))

	fr := frontier.New(cfg.FrontierSettings(), nil)

	graphStore, graphErr := graph.Load(filepath.Join(baseDir, "graphs", "link_graph.json"), 1)
	require.Nil(t, graphErr)

	failures, failErr := runloop.LoadFailureCache(
		filepath.Join(runDir, "state", "failures.json"),
		runloop.DefaultSkipStatuses,
		cfg.FailureCacheSeconds(),
		nil,
	)
	require.NoError(t, failErr)

	telemetry, telErr := runloop.OpenTelemetry(filepath.Join(runDir, "telemetry.jsonl"))
	require.NoError(t, telErr)
	t.Cleanup(func() { telemetry.Close() })

	cascade := triage.NewCascade(
		cfg.CascadeSettings(),
		triage.NewSeenSet(),
		triage.NewHeuristicPrefilter(cfg.PrefilterSettings()),
	)

	domExtractor := extractor.NewDomExtractorWithParams(metadata.NoopSink{}, extractor.DefaultExtractParam())
	sink := storage.NewLocalSink(baseDir, cfg.StorageSettings(), metadata.NoopSink{})

	loop := runloop.NewWithDeps(
		cfg,
		metadata.NoopSink{},
		fr,
		fetch,
		nil,
		cascade,
		&domExtractor,
		safety.NewIllegalScanner(illegalKeywords, cfg.MinKeywordMatches()),
		nil,
		graphStore,
		scoring.NewEngine(cfg.ScoringWeights()),
		&sink,
		nil,
		failures,
		telemetry,
		runloop.NewMetrics(time.Now()),
		runloop.NewPromExporter(),
		time.Now,
		timeutil.NewRealSleeper(),
	)

	return loopFixture{
		loop:     loop,
		frontier: fr,
		graph:    graphStore,
		failures: failures,
		runDir:   runDir,
		baseDir:  baseDir,
	}
}

func mustAdd(t *testing.T, fr *frontier.Frontier, rawURL string) url.URL {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)
	require.True(t, fr.Add(*parsed, 0, "", nil, 0, nil))
	return *parsed
}

func telemetryLines(t *testing.T, runDir string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(runDir, "telemetry.jsonl"))
	require.NoError(t, err)
	var events []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var event map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &event))
		events = append(events, event)
	}
	return events
}

func findEvent(events []map[string]any, kind string) map[string]any {
	for _, event := range events {
		if event["event"] == kind {
			return event
		}
	}
	return nil
}

// retroBody is a page the cascade should pass and scoring should mark
// odd: a marquee, dense handwritten text, and a webring link.
const retroBody = `<html><head><title>The Odd Zone</title></head><body>
<marquee>Welcome to the odd zone</marquee>
<p>This is a long retro diary entry written by hand over many late nights on
an ancient beige machine in a basement full of modems and coffee cups. The
author rambles at length about elaborate ASCII art projects, dialup bulletin
boards, handmade guestbooks, animated construction signs, midi background
music, and the slow careful craft of building a personal homepage one tag at
a time without any frameworks or generators to help along the way.</p>
<p>There are more paragraphs describing strange hobbies like collecting old
keyboards, photographing payphones, cataloguing abandoned shopping carts,
and trading zines with strangers met through gopher holes and finger
daemons. Every sentence adds more tokens so the structural triage sees a
dense, text-heavy document rather than an empty shell of markup.</p>
<a href="https://ring.example/next">webring next stop</a>
</body></html>`

// boringBody keeps the denylisted phrases but pads past the minimum
// content length so the keyword stage, not the head stage, rejects it.
const boringBody = `<html><body>
<p>We sell insurance policies and mortgage quotes every day. Our team of
dedicated professionals has served the community for over thirty years with
competitive rates and comprehensive coverage options for home, auto, life,
and business. Contact our office today to schedule a free consultation with
one of our licensed agents and discover why thousands of satisfied customers
trust us with their financial protection needs year after year. We look
forward to serving you and your family with all of your coverage needs.</p>
</body></html>`

func TestStepRetroPagePersists(t *testing.T) {
	seedURL := "https://example.com/"
	fetch := &scriptedFetcher{
		results: map[string]fetcher.FetchResult{
			seedURL: htmlResult(t, seedURL, retroBody),
		},
	}
	fixture := newLoopFixture(t, fetch, nil)
	mustAdd(t, fixture.frontier, seedURL)

	result, ok := fixture.loop.Step(context.Background())

	require.True(t, ok)
	assert.False(t, result.Failed)
	assert.Contains(t, []string{"persist", "llm"}, result.Action)
	assert.GreaterOrEqual(t, result.Score, 0.5)

	// Graph recorded the page and its outbound link.
	node, found := fixture.graph.NodeByURL(seedURL)
	require.True(t, found)
	assert.Equal(t, 1, node.Observations)
	assert.Equal(t, "The Odd Zone", node.Title)
	assert.Equal(t, 1, node.WebringHits)
	assert.InDelta(t, result.Score, node.LastScore, 1e-9)

	// Feedback steered the frontier.
	stats, found := fixture.frontier.HostStatsFor("example.com")
	require.True(t, found)
	assert.Equal(t, 1, stats.Pulls())
	assert.Equal(t, 1, stats.Hits())

	// The discovered webring link was enqueued.
	assert.Equal(t, 1, fixture.frontier.Len())

	// An excerpt was written under the excerpts dir.
	entries, err := os.ReadDir(filepath.Join(fixture.baseDir, "excerpts"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Page telemetry captured the decision.
	events := telemetryLines(t, fixture.runDir)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, seedURL, last["url"])
	assert.Equal(t, result.Action, last["action"])
	assert.Equal(t, false, last["illegal"])
	assert.NotNil(t, last["cascade"])
}

func TestStepBoringKeywordSkip(t *testing.T) {
	seedURL := "https://example.com/"
	fetch := &scriptedFetcher{
		results: map[string]fetcher.FetchResult{
			seedURL: htmlResult(t, seedURL, boringBody),
		},
	}
	fixture := newLoopFixture(t, fetch, nil)
	mustAdd(t, fixture.frontier, seedURL)

	result, ok := fixture.loop.Step(context.Background())

	require.True(t, ok)
	assert.Equal(t, "skip", result.Action)
	assert.True(t, result.CascadeSkip)

	// No excerpt persisted for a cascade skip.
	_, err := os.Stat(filepath.Join(fixture.baseDir, "excerpts"))
	assert.True(t, os.IsNotExist(err))

	// Frontier saw the cascade skip with score 0.
	stats, found := fixture.frontier.HostStatsFor("example.com")
	require.True(t, found)
	assert.Equal(t, 0.0, stats.LastScore())
	assert.Equal(t, "skip", stats.LastAction())

	state := fixture.frontier.ExportState()
	assert.Equal(t, 1, state.HostCascades["example.com"].Skips)

	// The skipping stage named the keyword.
	events := telemetryLines(t, fixture.runDir)
	last := events[len(events)-1]
	assert.Equal(t, "skip", last["action"])
	reasons := last["reasons"].([]any)
	require.NotEmpty(t, reasons)
	assert.Contains(t, reasons[0].(string), "keyword")
}

func TestStep404FeedsFailureCache(t *testing.T) {
	missing := "https://example.com/missing"
	fetch := &scriptedFetcher{
		errs: map[string]failure.ClassifiedError{
			missing: &fetcher.FetchError{
				Message:    "client error: 404",
				StatusCode: 404,
				Retryable:  false,
				Cause:      fetcher.ErrCauseRequestPageForbidden,
			},
		},
	}
	fixture := newLoopFixture(t, fetch, nil)
	missingURL := mustAdd(t, fixture.frontier, missing)

	result, ok := fixture.loop.Step(context.Background())

	require.True(t, ok)
	assert.True(t, result.Failed)

	// The URL is now cached and the host accounted.
	assert.True(t, fixture.failures.ShouldSkip(missing))
	assert.GreaterOrEqual(t, fixture.loop.Metrics().FailureHostCount("example.com"), 1)

	events := telemetryLines(t, fixture.runDir)
	notFound := findEvent(events, "url_404")
	require.NotNil(t, notFound)
	assert.Equal(t, missing, notFound["url"])
	assert.Equal(t, "example.com", notFound["host"])
	cached := findEvent(events, "url_failure_cached")
	require.NotNil(t, cached)
	assert.Equal(t, float64(1), cached["total_cached"])

	// Re-seeding the same URL is suppressed and reported.
	fixture.loop.Seed([]url.URL{missingURL})
	events = telemetryLines(t, fixture.runDir)
	seedSkipped := findEvent(events, "seed_skipped")
	require.NotNil(t, seedSkipped)
	assert.Equal(t, "failure_cache", seedSkipped["reason"])
	assert.Equal(t, float64(1), seedSkipped["skipped_count"])
}

func TestStepNetworkErrorBacksOffHost(t *testing.T) {
	target := "https://example.com/flaky"
	fetch := &scriptedFetcher{
		errs: map[string]failure.ClassifiedError{
			target: &fetcher.FetchError{
				Message:   "request failed: connection refused",
				Retryable: true,
				Cause:     fetcher.ErrCauseNetworkFailure,
			},
		},
	}
	fixture := newLoopFixture(t, fetch, nil)
	mustAdd(t, fixture.frontier, target)

	result, ok := fixture.loop.Step(context.Background())

	require.True(t, ok)
	assert.True(t, result.Failed)
	assert.False(t, fixture.failures.ShouldSkip(target))

	events := telemetryLines(t, fixture.runDir)
	errEvent := findEvent(events, "error")
	require.NotNil(t, errEvent)
	assert.Equal(t, "fetch", errEvent["error_type"])

	doc := fixture.loop.Metrics().Snapshot(time.Now())
	assert.Equal(t, 1, doc.Errors)
	assert.Equal(t, 1, doc.FailureHosts["example.com"])
}

func TestStepIllegalContentSkips(t *testing.T) {
	seedURL := "https://example.com/"
	body := strings.Replace(retroBody, "strange hobbies", "utterly forbidden topic", 1)
	fetch := &scriptedFetcher{
		results: map[string]fetcher.FetchResult{
			seedURL: htmlResult(t, seedURL, body),
		},
	}
	fixture := newLoopFixture(t, fetch, []string{"utterly forbidden topic"})
	mustAdd(t, fixture.frontier, seedURL)

	result, ok := fixture.loop.Step(context.Background())

	require.True(t, ok)
	assert.True(t, result.Illegal)
	assert.Equal(t, "skip", result.Action)

	// Nothing persisted: no raw capture, no excerpt.
	_, err := os.Stat(filepath.Join(fixture.baseDir, "raw_html"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(fixture.baseDir, "excerpts"))
	assert.True(t, os.IsNotExist(err))

	events := telemetryLines(t, fixture.runDir)
	last := events[len(events)-1]
	assert.Equal(t, true, last["illegal"])
	assert.Equal(t, "skip", last["action"])

	doc := fixture.loop.Metrics().Snapshot(time.Now())
	assert.Equal(t, 1, doc.IllegalSkipped)
}

func TestRunProcessesToDrainAndCheckpoints(t *testing.T) {
	seedURL := "https://example.com/"
	fetch := &scriptedFetcher{
		results: map[string]fetcher.FetchResult{
			seedURL: htmlResult(t, seedURL, boringBody),
		},
	}
	fixture := newLoopFixture(t, fetch, nil)
	mustAdd(t, fixture.frontier, seedURL)

	require.NoError(t, fixture.loop.Run(context.Background()))

	// Checkpoint artifacts exist and parse.
	var metricsDoc runloop.Document
	data, err := os.ReadFile(filepath.Join(fixture.runDir, "metrics.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &metricsDoc))
	assert.Equal(t, 1, metricsDoc.PagesProcessed)
	assert.Equal(t, 1, metricsDoc.Cascade.Skips)

	var summary runloop.Summary
	data, err = os.ReadFile(filepath.Join(fixture.runDir, "reports", "summary.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, 1, summary.PagesProcessed)

	var state frontier.State
	data, err = os.ReadFile(filepath.Join(fixture.runDir, "state", "frontier.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Contains(t, state.Seen, seedURL)

	restored, restoreErr := frontier.FromState(state, nil)
	require.NoError(t, restoreErr)
	assert.Equal(t, 0, restored.Len())
}

func TestRunHonorsCancellation(t *testing.T) {
	fetch := &scriptedFetcher{}
	fixture := newLoopFixture(t, fetch, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, fixture.loop.Run(ctx))
	assert.Empty(t, fetch.fetched)

	// The final checkpoint still ran.
	_, err := os.Stat(filepath.Join(fixture.runDir, "metrics.json"))
	assert.NoError(t, err)
}
