package metadata

import (
	"time"
)

/*
	ErrorCause is a closed, canonical classification used exclusively for
	observability (logging, metrics, reporting).

	Rules:
	 - ErrorCause is for observability only.
	 - It must never be used to derive retry, continuation, or abort decisions.
	 - Any use of metadata.ErrorCause outside logging, metrics, or reporting is a design violation.
	 - ErrorCause MUST NOT influence control flow.
	 - ErrorCause MUST NOT be used for retry, continuation, or abort decisions.
	 - ErrorCause values MUST have stable, package-agnostic semantics.
	 - Pipeline packages MAY map their local errors to ErrorCause,
	   but MUST NOT invent new meanings.
	Non-goals:
	 - ErrorCause does not encode severity.
	 - ErrorCause does not imply retryability.
	 - ErrorCause does not imply crawl termination.
	 - ErrorCause does not imply correctness of downstream behavior.

If a failure does not clearly match a defined cause, CauseUnknown MUST be used.
*/
type ErrorCause int

/*
Canonical ErrorCause Table

# CauseUnknown

Meaning:
  - The failure does not map cleanly to any known category.
  - Used as a safe fallback.

# CauseNetworkFailure

Meaning:
  - Failure caused by network transport or remote availability.

# CausePolicyDisallow

Meaning:
  - Crawling was disallowed by an explicit policy or rule (robots.txt,
    rate-limit enforcement, access denial).

# CauseContentInvalid

Meaning:
  - Content was fetched but could not be processed meaningfully.

# CauseStorageFailure

Meaning:
  - Failure while persisting crawl artifacts.

# CauseInvariantViolation

Meaning:
  - A system-level invariant was violated.

# CauseRetryFailure

Meaning:
  - A retry budget was exhausted before the underlying operation
    succeeded.
*/
const (
	CauseUnknown ErrorCause = iota
	CauseNetworkFailure
	CausePolicyDisallow
	CauseContentInvalid
	CauseStorageFailure
	CauseInvariantViolation
	CauseRetryFailure
)

// String renders the canonical ErrorCause name for logging.
func (c ErrorCause) String() string {
	switch c {
	case CauseNetworkFailure:
		return "network_failure"
	case CausePolicyDisallow:
		return "policy_disallow"
	case CauseContentInvalid:
		return "content_invalid"
	case CauseStorageFailure:
		return "storage_failure"
	case CauseInvariantViolation:
		return "invariant_violation"
	case CauseRetryFailure:
		return "retry_failure"
	default:
		return "unknown"
	}
}

// ArtifactKind names the on-disk artifact kind an artifact-write event
// refers to.
type ArtifactKind string

const (
	ArtifactRawHTML          ArtifactKind = "raw_html"
	ArtifactExcerpt          ArtifactKind = "excerpt"
	ArtifactBreadcrumb       ArtifactKind = "breadcrumb"
	ArtifactFrontierSnapshot ArtifactKind = "frontier_snapshot"
	ArtifactGraphSnapshot    ArtifactKind = "graph_snapshot"
	ArtifactSummaryReport    ArtifactKind = "summary_report"
)

type Attribute struct {
	Key   AttributeKey
	Value string
}

func NewAttr(key AttributeKey, val string) Attribute {
	return Attribute{
		Key:   key,
		Value: val,
	}
}

type AttributeKey string

const (
	AttrTime       AttributeKey = "time"
	AttrURL        AttributeKey = "url"
	AttrHost       AttributeKey = "host"
	AttrPath       AttributeKey = "path"
	AttrDepth      AttributeKey = "depth"
	AttrField      AttributeKey = "field"
	AttrMessage    AttributeKey = "message"
	AttrHTTPStatus AttributeKey = "http_status"
	AttrAssetURL   AttributeKey = "asset_url"
	AttrWritePath  AttributeKey = "write_path"
)

// MetadataSink is the crawl's single structured-observability contract.
// Every pipeline stage that produces a fetch, error, artifact, or terminal
// statistic logs through this interface. It never makes control-flow
// decisions; it only observes.
type MetadataSink interface {
	RecordFetch(
		fetchUrl string,
		httpStatus int,
		duration time.Duration,
		contentType string,
		retryCount int,
		crawlDepth int,
	)
	RecordAssetFetch(
		fetchUrl string,
		httpStatus int,
		duration time.Duration,
		retryCount int,
	)
	RecordError(
		observedAt time.Time,
		packageName string,
		action string,
		cause ErrorCause,
		details string,
		attrs []Attribute,
	)
	RecordArtifact(kind ArtifactKind, path string, attrs []Attribute)
	RecordFinalCrawlStats(
		totalPages int,
		totalErrors int,
		totalAssets int,
		duration time.Duration,
	)
}
