package frontier

import (
	"container/heap"
	"net/url"
	"sync"
	"time"

	"github.com/arlowright/oddcrawl/pkg/limiter"
)

// Frontier maintains the priority queue of pending URLs, the per-host token
// buckets, and the bandit bookkeeping that steers host selection. All state
// mutation happens under a single mutex; callers are expected to be worker
// goroutines contending for Pop/Add/RecordFeedback/RecordFailure.
type Frontier struct {
	mu sync.Mutex

	settings Settings
	clock    func() time.Time

	seen     Set[string]
	inflight map[string]FrontierJob

	main  jobHeap
	delay delayHeap

	insertionCounter int64
	totalPulls       int64

	hostStats    map[string]*HostStats
	hostBuckets  map[string]*limiter.TokenBucket
	hostHints    map[string]float64
	hostCascades map[string]HostCascade
}

// New returns an empty Frontier using the given settings. clock defaults to
// time.Now when nil, and is overridable for deterministic tests.
func New(settings Settings, clock func() time.Time) *Frontier {
	if clock == nil {
		clock = time.Now
	}
	return &Frontier{
		settings:     settings,
		clock:        clock,
		seen:         NewSet[string](),
		inflight:     make(map[string]FrontierJob),
		hostStats:    make(map[string]*HostStats),
		hostBuckets:  make(map[string]*limiter.TokenBucket),
		hostHints:    make(map[string]float64),
		hostCascades: make(map[string]HostCascade),
	}
}

func (f *Frontier) now() time.Time { return f.clock() }

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func (f *Frontier) bucketFor(host string) *limiter.TokenBucket {
	b, ok := f.hostBuckets[host]
	if !ok {
		b = limiter.NewTokenBucket(f.settings.HostTokenCapacity, f.settings.HostRefillSeconds, f.now())
		f.hostBuckets[host] = b
	}
	return b
}

// Add enqueues u at depth, deduplicating against the canonical-URL seen-set.
// priority is computed from the bandit/host-budget formula when priority
// is nil; scoreHint feeds the oddity prior. Returns false if the URL was
// already seen (no-op).
func (f *Frontier) Add(u url.URL, depth int, discoveredFrom string, priority *float64, scoreHint float64, metadata map[string]string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	canonical := u.String()
	if f.seen.Contains(canonical) {
		return false
	}
	f.seen.Add(canonical)

	host := u.Host
	var p float64
	if priority != nil {
		p = clamp(*priority, f.settings.MinPriority, f.settings.MaxPriority)
	} else {
		p = f.computePriority(host, discoveredFrom, depth, scoreHint)
	}

	f.insertionCounter++
	job := NewFrontierJob(p, f.insertionCounter, host, u, depth, discoveredFrom, metadata)

	heap.Push(&f.main, job)
	return true
}

// Pop promotes any due delayed jobs, then repeatedly tries heap tops until a
// host with an available token is found. Jobs whose host lacks a token are
// pushed onto the delay heap keyed by the host's next eligible time. Returns
// ok=false ("none") if both heaps drain without yielding a job.
func (f *Frontier) Pop() (FrontierJob, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	promoteDue(&f.main, &f.delay, now)

	var deferred []FrontierJob
	defer func() {
		for _, job := range deferred {
			heap.Push(&f.delay, job)
		}
	}()

	for f.main.Len() > 0 {
		job := heap.Pop(&f.main).(FrontierJob)
		bucket := f.bucketFor(job.host)

		if bucket.TryConsume(now) {
			canonical := job.url.String()
			f.inflight[canonical] = job
			return job, true
		}

		next := bucket.NextEligible(now)
		deferred = append(deferred, job.withAvailableAt(next))
	}

	return FrontierJob{}, false
}

// RecordFeedback updates host bandit/cascade state after a completed fetch
// and removes the URL from the inflight map.
func (f *Frontier) RecordFeedback(canonicalURL, host string, score float64, action string, cascadeSkip bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.inflight, canonicalURL)

	stats := f.statsFor(host)
	stats.pulls++
	f.totalPulls++
	stats.rewardSum += score
	stats.lastScore = score
	stats.lastAction = action

	if action == "persist" || action == "llm" {
		stats.hits++
	}
	if score > f.hostHints[host] {
		f.hostHints[host] = score
	}

	cascade := f.hostCascades[host]
	if cascadeSkip {
		cascade.skips++
	} else {
		cascade.passes++
	}
	f.hostCascades[host] = cascade
}

// RecordFailure marks a host backed off and accounts the failure, removing
// the URL from the inflight map.
func (f *Frontier) RecordFailure(canonicalURL, host string, status *int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.inflight, canonicalURL)

	stats := f.statsFor(host)
	stats.failures++
	stats.lastFailure = f.now()
	stats.lastFailureReason = reason
	if status != nil {
		stats.statusCounts[*status]++
	}

	bucket := f.bucketFor(host)
	bucket.BackoffUntil(f.now(), time.Duration(f.settings.FailureCooldownSeconds*float64(time.Second)))
}

func (f *Frontier) statsFor(host string) *HostStats {
	s, ok := f.hostStats[host]
	if !ok {
		s = newHostStats()
		f.hostStats[host] = s
	}
	return s
}

// Len reports the number of jobs currently queued across both heaps.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.main.Len() + f.delay.Len()
}

// InflightCount reports the number of jobs currently popped but not yet
// fed back via RecordFeedback/RecordFailure.
func (f *Frontier) InflightCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inflight)
}

// HostStatsFor returns a copy of the given host's stats, for telemetry.
func (f *Frontier) HostStatsFor(host string) (HostStats, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.hostStats[host]
	if !ok {
		return HostStats{}, false
	}
	return *s, true
}
