package storage

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	"github.com/arlowright/oddcrawl/internal/metadata"
	"github.com/arlowright/oddcrawl/pkg/failure"
	"github.com/arlowright/oddcrawl/pkg/fileutil"
	"github.com/arlowright/oddcrawl/pkg/hashutil"
)

/*
Responsibilities

- Persist raw HTML captures, redacted observation excerpts, and
  dangerous-content breadcrumbs to the global storage layout.
- Ensure deterministic filenames built from the fetch timestamp and the
  URL hash.
- Write excerpts as given: the caller caps text_excerpt at max_chars;
  the sink does not truncate.

Output Characteristics

- Stable directory layout: raw_html/<xx>/..., excerpts/..., and an
  append-only dangerous_breadcrumbs/YYYY-MM-DD.jsonl per day.
- Idempotent, overwrite-safe writes (raw_html/excerpts use atomic
  tmp+rename; breadcrumbs append under O_APPEND).
*/

// Sink is the storage boundary the run loop writes observations
// through.
type Sink interface {
	WriteRawHTML(urlSHA256 string, fetchedAt time.Time, html []byte, headers map[string]string) (WriteResult, failure.ClassifiedError)
	WriteExcerpt(urlSHA256 string, fetchedAt time.Time, redactedObservation []byte) (WriteResult, failure.ClassifiedError)
	WriteBreadcrumb(record BreadcrumbRecord) failure.ClassifiedError
}

type LocalSink struct {
	baseDir      string
	settings     Settings
	metadataSink metadata.MetadataSink
}

func NewLocalSink(baseDir string, settings Settings, metadataSink metadata.MetadataSink) LocalSink {
	return LocalSink{
		baseDir:      baseDir,
		settings:     settings,
		metadataSink: metadataSink,
	}
}

// WriteRawHTML persists the raw bytes plus a metadata sidecar under
// raw_html/<xx>/<timestamp>_<url_sha256>.{html,json}. A no-op (empty
// WriteResult, nil error) when storage.raw_html is disabled.
func (s *LocalSink) WriteRawHTML(urlSHA256 string, fetchedAt time.Time, html []byte, headers map[string]string) (WriteResult, failure.ClassifiedError) {
	if !s.settings.RawHTML.Enabled {
		return WriteResult{}, nil
	}

	shard := shardPrefix(urlSHA256)
	stem := timestampStem(fetchedAt) + "_" + urlSHA256
	dir := filepath.Join(s.baseDir, s.settings.RawHTML.Path, shard)
	htmlPath := filepath.Join(dir, stem+".html")
	metaPath := filepath.Join(dir, stem+".json")

	if err := fileutil.WriteFileAtomic(htmlPath, html, 0644); err != nil {
		return s.fail("LocalSink.WriteRawHTML", htmlPath, ErrCauseWriteFailure, err.Error())
	}

	meta := rawHTMLMeta{
		URLHash:   urlSHA256,
		FetchedAt: fetchedAt.UTC().Format(time.RFC3339),
		Headers:   headers,
	}
	metaBytes, jsonErr := json.MarshalIndent(meta, "", "  ")
	if jsonErr != nil {
		return s.fail("LocalSink.WriteRawHTML", metaPath, ErrCauseWriteFailure, jsonErr.Error())
	}
	if err := fileutil.WriteFileAtomic(metaPath, metaBytes, 0644); err != nil {
		return s.fail("LocalSink.WriteRawHTML", metaPath, ErrCauseWriteFailure, err.Error())
	}

	contentHash, hashErr := hashutil.HashBytes(html, hashutil.HashAlgoSHA256)
	if hashErr != nil {
		return s.fail("LocalSink.WriteRawHTML", htmlPath, ErrCauseHashComputationFailed, hashErr.Error())
	}

	result := NewWriteResult(urlSHA256, htmlPath, contentHash)
	s.metadataSink.RecordArtifact(metadata.ArtifactRawHTML, result.Path(), []metadata.Attribute{
		metadata.NewAttr(metadata.AttrWritePath, result.Path()),
	})
	return result, nil
}

// WriteExcerpt persists a redacted observation (already serialized to
// JSON bytes with text_excerpt truncated to the caller's max_chars) to
// excerpts/<timestamp>_<url_sha256>.json.
func (s *LocalSink) WriteExcerpt(urlSHA256 string, fetchedAt time.Time, redactedObservation []byte) (WriteResult, failure.ClassifiedError) {
	if !s.settings.Excerpts.Enabled {
		return WriteResult{}, nil
	}

	stem := timestampStem(fetchedAt) + "_" + urlSHA256
	path := filepath.Join(s.baseDir, s.settings.Excerpts.Path, stem+".json")

	if err := fileutil.WriteFileAtomic(path, redactedObservation, 0644); err != nil {
		return s.fail("LocalSink.WriteExcerpt", path, ErrCauseWriteFailure, err.Error())
	}

	contentHash, hashErr := hashutil.HashBytes(redactedObservation, hashutil.HashAlgoSHA256)
	if hashErr != nil {
		return s.fail("LocalSink.WriteExcerpt", path, ErrCauseHashComputationFailed, hashErr.Error())
	}

	result := NewWriteResult(urlSHA256, path, contentHash)
	s.metadataSink.RecordArtifact(metadata.ArtifactExcerpt, result.Path(), []metadata.Attribute{
		metadata.NewAttr(metadata.AttrWritePath, result.Path()),
	})
	return result, nil
}

// WriteBreadcrumb appends one JSON line to today's
// dangerous_breadcrumbs/YYYY-MM-DD.jsonl, stamping the active salt
// rotation version if the caller left it unset.
func (s *LocalSink) WriteBreadcrumb(record BreadcrumbRecord) failure.ClassifiedError {
	if !s.settings.Breadcrumbs.Enabled {
		return nil
	}
	if record.SaltVersion == 0 {
		record.SaltVersion = s.settings.SaltRotationVersion
	}

	observed, err := time.Parse(time.RFC3339, record.ObservedAt)
	if err != nil {
		observed = time.Now().UTC()
	}
	path := filepath.Join(s.baseDir, s.settings.Breadcrumbs.Path, observed.UTC().Format("2006-01-02")+".jsonl")

	line, jsonErr := json.Marshal(record)
	if jsonErr != nil {
		_, classified := s.fail("LocalSink.WriteBreadcrumb", path, ErrCauseWriteFailure, jsonErr.Error())
		return classified
	}

	if err := appendLine(path, line); err != nil {
		_, classified := s.fail("LocalSink.WriteBreadcrumb", path, ErrCauseWriteFailure, err.Error())
		return classified
	}

	s.metadataSink.RecordArtifact(metadata.ArtifactBreadcrumb, path, []metadata.Attribute{
		metadata.NewAttr(metadata.AttrWritePath, path),
	})
	return nil
}

func (s *LocalSink) fail(callerMethod, path string, cause StorageErrorCause, message string) (WriteResult, failure.ClassifiedError) {
	storageErr := &StorageError{Message: message, Retryable: cause == ErrCauseDiskFull, Cause: cause, Path: path}
	var asErr error = storageErr
	var se *StorageError
	errors.As(asErr, &se)
	s.metadataSink.RecordError(
		time.Now(),
		"storage",
		callerMethod,
		mapStorageErrorToMetadataCause(se),
		storageErr.Error(),
		[]metadata.Attribute{metadata.NewAttr(metadata.AttrWritePath, path)},
	)
	return WriteResult{}, storageErr
}

func shardPrefix(urlSHA256 string) string {
	if len(urlSHA256) < 2 {
		return "00"
	}
	return urlSHA256[:2]
}

func timestampStem(t time.Time) string {
	return t.UTC().Format("20060102T150405")
}
