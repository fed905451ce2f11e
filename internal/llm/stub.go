package llm

import (
	"context"
	"fmt"
	"time"
)

// StubAnalyst is the deterministic fallback used whenever no live LLM
// is configured or the live analyst fails: it never calls out, and its
// output is reproducible from the observation alone.
type StubAnalyst struct{}

func (StubAnalyst) Analyze(_ context.Context, input Input) (Finding, error) {
	riskTag := "unclassified"
	if len(input.RetroSignals) > 0 {
		riskTag = "harmless-retro"
	}

	return Finding{
		URL:              input.URL,
		Summary:          truncate(input.TextExcerpt, maxSummaryChars),
		WhyFlagged:       input.Reasons,
		RiskTag:          riskTag,
		DangerousContent: DangerousContent{Present: false},
		Confidence:       0,
		ObservationRef:   ObservationRef(input.FetchedAt, input.URLSHA256),
	}, nil
}

// ObservationRef builds the "observation:<fetched_at>:<first 8 hex of
// url_sha256>" reference format.
func ObservationRef(fetchedAt time.Time, urlSHA256 string) string {
	prefix := urlSHA256
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("observation:%s:%s", fetchedAt.UTC().Format(time.RFC3339), prefix)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
