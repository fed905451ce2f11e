package runloop

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

/*
Telemetry is the run's append-only JSONL event stream. One JSON object
per line, written unbuffered so each event hits the file before the
next step starts. Most metrics.json quantities are recomputable from
this stream; failure_hosts and fetch_stats are not, because ErrorEvent
has no host field and skipped pages' events carry no fetch duration or
bytes.
*/

// PageEvent is the per-page telemetry record.
type PageEvent struct {
	Timestamp       string             `json:"timestamp"`
	URL             string             `json:"url"`
	Action          string             `json:"action"`
	Score           float64            `json:"score"`
	ThresholdsHit   map[string]float64 `json:"thresholds_hit,omitempty"`
	Reasons         []string           `json:"reasons"`
	FrontierSize    int                `json:"frontier_size"`
	ObservationPath string             `json:"observation_path,omitempty"`
	FindingRef      string             `json:"finding_ref,omitempty"`
	Illegal         bool               `json:"illegal"`
	FetchDurationMS int64              `json:"fetch_duration_ms,omitempty"`
	BytesDownloaded int64              `json:"bytes_downloaded,omitempty"`
	Status          int                `json:"status,omitempty"`
	ViaTor          bool               `json:"via_tor,omitempty"`
	Cascade         *CascadeRecord     `json:"cascade,omitempty"`
}

// ErrorEvent records a non-404 step failure.
type ErrorEvent struct {
	Timestamp    string `json:"timestamp"`
	Event        string `json:"event"`
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
}

// URL404Event records a hard 404 added to the failure cache.
type URL404Event struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	URL       string `json:"url"`
	Status    int    `json:"status"`
	Host      string `json:"host"`
}

// SeedSkippedEvent records seeds suppressed by the failure cache.
type SeedSkippedEvent struct {
	Timestamp    string `json:"timestamp"`
	Event        string `json:"event"`
	SkippedCount int    `json:"skipped_count"`
	Reason       string `json:"reason"`
}

// FailureCachedEvent records failure-cache growth.
type FailureCachedEvent struct {
	Timestamp   string `json:"timestamp"`
	Event       string `json:"event"`
	TotalCached int    `json:"total_cached"`
}

// Telemetry appends events to the run's telemetry.jsonl.
type Telemetry struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// OpenTelemetry opens (or creates) the stream at path for appending.
func OpenTelemetry(path string) (*Telemetry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Telemetry{file: file, path: path}, nil
}

// Emit writes one event as a single JSON line. Marshal failures are
// returned but the stream stays usable.
func (t *Telemetry) Emit(event any) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.file.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// Path reports where the stream is being written.
func (t *Telemetry) Path() string {
	return t.path
}

// Close releases the underlying file.
func (t *Telemetry) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

func eventTimestamp(now time.Time) string {
	return now.UTC().Format(time.RFC3339)
}
