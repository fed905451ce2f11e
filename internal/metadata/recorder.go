package metadata

/*
Metadata Collected
- Fetch timestamps
- HTTP status codes
- Content hashes
- Crawl depth

Logging Goals
- Debuggable crawl behavior
- Post-run auditability
- Failure diagnostics

Structured logging is preferred.

Allowed:
- Primitive values
- Timestamps
- URLs (as values, not objects with behavior)
- Hashes
- Status codes
- Durations
- Identifiers (page ID, crawl ID)
*/

import (
	"context"
	"errors"
	"time"

	"github.com/rohmanhakim/dlog"
)

// Recorder is the crawl's default MetadataSink implementation. It never
// makes control-flow decisions; it only observes and logs.
type Recorder struct {
	log dlog.DebugLogger
}

var _ MetadataSink = (*Recorder)(nil)

// NewRecorder wraps a dlog logger for crawl observability. A nil logger
// falls back to dlog's no-op implementation.
func NewRecorder(log dlog.DebugLogger) *Recorder {
	if log == nil {
		log = dlog.NewNoOpLogger()
	}
	return &Recorder{log: log}
}

func (r *Recorder) RecordFetch(
	fetchUrl string,
	httpStatus int,
	duration time.Duration,
	contentType string,
	retryCount int,
	crawlDepth int,
) {
	r.log.LogInfo(context.Background(), "fetch", dlog.FieldMap{
		"url":          fetchUrl,
		"http_status":  httpStatus,
		"duration_ms":  duration.Milliseconds(),
		"content_type": contentType,
		"retry_count":  retryCount,
		"depth":        crawlDepth,
	})
}

func (r *Recorder) RecordAssetFetch(
	fetchUrl string,
	httpStatus int,
	duration time.Duration,
	retryCount int,
) {
	r.log.LogInfo(context.Background(), "asset_fetch", dlog.FieldMap{
		"url":         fetchUrl,
		"http_status": httpStatus,
		"duration_ms": duration.Milliseconds(),
		"retry_count": retryCount,
	})
}

// RecordError logs a classified error for observability only; the cause
// code must never be used to drive retry/continuation decisions.
func (r *Recorder) RecordError(
	observedAt time.Time,
	packageName string,
	action string,
	cause ErrorCause,
	details string,
	attrs []Attribute,
) {
	fields := dlog.FieldMap{
		"observed_at": observedAt.Format(time.RFC3339),
		"package":     packageName,
		"action":      action,
		"cause":       cause.String(),
	}
	for _, a := range attrs {
		fields[string(a.Key)] = a.Value
	}
	r.log.LogError(context.Background(), "pipeline_error", errors.New(details), fields)
}

func (r *Recorder) RecordArtifact(kind ArtifactKind, path string, attrs []Attribute) {
	fields := dlog.FieldMap{"kind": string(kind), "path": path}
	for _, a := range attrs {
		fields[string(a.Key)] = a.Value
	}
	r.log.LogInfo(context.Background(), "artifact_written", fields)
}

// RecordFinalCrawlStats logs the terminal crawl summary exactly once.
func (r *Recorder) RecordFinalCrawlStats(
	totalPages int,
	totalErrors int,
	totalAssets int,
	duration time.Duration,
) {
	r.log.LogInfo(context.Background(), "crawl_summary", dlog.FieldMap{
		"total_pages":  totalPages,
		"total_errors": totalErrors,
		"total_assets": totalAssets,
		"duration_ms":  duration.Milliseconds(),
	})
}
