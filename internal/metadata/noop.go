package metadata

import "time"

// NoopSink is a zero-value, fully embeddable MetadataSink that discards
// everything. Test doubles embed it and override only the methods they
// need to assert on.
type NoopSink struct{}

var _ MetadataSink = NoopSink{}

func (NoopSink) RecordFetch(string, int, time.Duration, string, int, int)               {}
func (NoopSink) RecordAssetFetch(string, int, time.Duration, int)                       {}
func (NoopSink) RecordError(time.Time, string, string, ErrorCause, string, []Attribute) {}
func (NoopSink) RecordArtifact(ArtifactKind, string, []Attribute)                       {}
func (NoopSink) RecordFinalCrawlStats(int, int, int, time.Duration)                     {}
