package frontier

import (
	"net/url"
	"sort"
	"time"

	"github.com/arlowright/oddcrawl/pkg/limiter"
)

// jobState is the serializable form of a FrontierJob.
type jobState struct {
	Priority       float64           `json:"priority"`
	InsertionOrder int64             `json:"insertion_order"`
	Host           string            `json:"host"`
	URL            string            `json:"url"`
	Depth          int               `json:"depth"`
	DiscoveredFrom string            `json:"discovered_from,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	AvailableAt    time.Time         `json:"available_at,omitempty"`
}

func toJobState(j FrontierJob) jobState {
	return jobState{
		Priority:       j.priority,
		InsertionOrder: j.insertionOrder,
		Host:           j.host,
		URL:            j.url.String(),
		Depth:          j.depth,
		DiscoveredFrom: j.discoveredFrom,
		Metadata:       j.metadata,
		AvailableAt:    j.availableAt,
	}
}

func fromJobState(s jobState) (FrontierJob, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return FrontierJob{}, err
	}
	job := NewFrontierJob(s.Priority, s.InsertionOrder, s.Host, *u, s.Depth, s.DiscoveredFrom, s.Metadata)
	job.availableAt = s.AvailableAt
	return job, nil
}

// hostStatsState is the serializable form of HostStats.
type hostStatsState struct {
	Pulls             int         `json:"pulls"`
	RewardSum         float64     `json:"reward_sum"`
	Hits              int         `json:"hits"`
	Failures          int         `json:"failures"`
	LastScore         float64     `json:"last_score"`
	LastAction        string      `json:"last_action"`
	LastFailure       time.Time   `json:"last_failure,omitempty"`
	LastFailureReason string      `json:"last_failure_reason,omitempty"`
	StatusCounts      map[int]int `json:"status_counts,omitempty"`
}

// hostCascadeState is the serializable form of HostCascade.
type hostCascadeState struct {
	Passes int `json:"passes"`
	Skips  int `json:"skips"`
}

// State is the fully serializable snapshot of a Frontier, suitable for
// atomic persistence to disk and restoration on the next run. Inflight jobs
// are deliberately NOT persisted: they stay in the seen-set, so a crash
// leaves an at-most-once gap rather than a duplicate re-crawl.
type State struct {
	InsertionCounter int64                       `json:"insertion_counter"`
	TotalPulls       int64                       `json:"total_pulls"`
	Seen             []string                    `json:"seen"`
	Main             []jobState                  `json:"main_heap"`
	Delay            []jobState                  `json:"delay_heap"`
	HostStats        map[string]hostStatsState   `json:"host_stats"`
	HostBuckets      map[string]limiter.Snapshot `json:"host_buckets"`
	HostHints        map[string]float64          `json:"host_hints"`
	HostCascades     map[string]hostCascadeState `json:"host_cascades"`
	Settings         Settings                    `json:"settings"`
}

// ExportState serializes the frontier's full state: insertion counter,
// sorted seen-set, both heaps, host stats/buckets/hints/cascades, total
// pulls, and settings.
func (f *Frontier) ExportState() State {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make([]string, 0, f.seen.Size())
	for u := range f.seen {
		seen = append(seen, u)
	}
	sort.Strings(seen)

	main := make([]jobState, 0, len(f.main))
	for _, j := range f.main {
		main = append(main, toJobState(j))
	}
	delay := make([]jobState, 0, len(f.delay))
	for _, j := range f.delay {
		delay = append(delay, toJobState(j))
	}

	hostStats := make(map[string]hostStatsState, len(f.hostStats))
	for host, s := range f.hostStats {
		hostStats[host] = hostStatsState{
			Pulls:             s.pulls,
			RewardSum:         s.rewardSum,
			Hits:              s.hits,
			Failures:          s.failures,
			LastScore:         s.lastScore,
			LastAction:        s.lastAction,
			LastFailure:       s.lastFailure,
			LastFailureReason: s.lastFailureReason,
			StatusCounts:      s.statusCounts,
		}
	}

	hostBuckets := make(map[string]limiter.Snapshot, len(f.hostBuckets))
	for host, b := range f.hostBuckets {
		hostBuckets[host] = b.Export()
	}

	hostHints := make(map[string]float64, len(f.hostHints))
	for host, hint := range f.hostHints {
		hostHints[host] = hint
	}

	hostCascades := make(map[string]hostCascadeState, len(f.hostCascades))
	for host, c := range f.hostCascades {
		hostCascades[host] = hostCascadeState{Passes: c.passes, Skips: c.skips}
	}

	return State{
		InsertionCounter: f.insertionCounter,
		TotalPulls:       f.totalPulls,
		Seen:             seen,
		Main:             main,
		Delay:            delay,
		HostStats:        hostStats,
		HostBuckets:      hostBuckets,
		HostHints:        hostHints,
		HostCascades:     hostCascades,
		Settings:         f.settings,
	}
}

// FromState rebuilds a Frontier from a persisted State, re-heapifying both
// heaps. Inflight jobs from the prior run are not restored.
func FromState(state State, clock func() time.Time) (*Frontier, error) {
	f := New(state.Settings, clock)
	f.insertionCounter = state.InsertionCounter
	f.totalPulls = state.TotalPulls

	for _, u := range state.Seen {
		f.seen.Add(u)
	}

	for _, js := range state.Main {
		job, err := fromJobState(js)
		if err != nil {
			return nil, err
		}
		f.main = append(f.main, job)
	}
	heapify(&f.main)

	for _, js := range state.Delay {
		job, err := fromJobState(js)
		if err != nil {
			return nil, err
		}
		f.delay = append(f.delay, job)
	}
	heapifyDelay(&f.delay)

	for host, s := range state.HostStats {
		f.hostStats[host] = &HostStats{
			pulls:             s.Pulls,
			rewardSum:         s.RewardSum,
			hits:              s.Hits,
			failures:          s.Failures,
			lastScore:         s.LastScore,
			lastAction:        s.LastAction,
			lastFailure:       s.LastFailure,
			lastFailureReason: s.LastFailureReason,
			statusCounts:      s.StatusCounts,
		}
		if f.hostStats[host].statusCounts == nil {
			f.hostStats[host].statusCounts = make(map[int]int)
		}
	}

	for host, snap := range state.HostBuckets {
		f.hostBuckets[host] = limiter.FromSnapshot(snap)
	}

	for host, hint := range state.HostHints {
		f.hostHints[host] = hint
	}

	for host, c := range state.HostCascades {
		f.hostCascades[host] = HostCascade{passes: c.Passes, skips: c.Skips}
	}

	return f, nil
}
