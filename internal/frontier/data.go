package frontier

/*
 Frontier - manages crawl state & ordering
*/

import (
	"net/url"
	"time"
)

// FrontierJob is the frontier's internal record for a single admitted URL.
// Immutable once enqueued except availableAt, which is bumped whenever the
// job is re-deferred past a host's next token refill.
type FrontierJob struct {
	priority       float64
	insertionOrder int64
	host           string
	url            url.URL
	depth          int
	discoveredFrom string
	metadata       map[string]string
	availableAt    time.Time
}

func NewFrontierJob(
	priority float64,
	insertionOrder int64,
	host string,
	u url.URL,
	depth int,
	discoveredFrom string,
	metadata map[string]string,
) FrontierJob {
	return FrontierJob{
		priority:       priority,
		insertionOrder: insertionOrder,
		host:           host,
		url:            u,
		depth:          depth,
		discoveredFrom: discoveredFrom,
		metadata:       metadata,
	}
}

func (j FrontierJob) Priority() float64           { return j.priority }
func (j FrontierJob) InsertionOrder() int64       { return j.insertionOrder }
func (j FrontierJob) Host() string                { return j.host }
func (j FrontierJob) URL() url.URL                { return j.url }
func (j FrontierJob) Depth() int                  { return j.depth }
func (j FrontierJob) DiscoveredFrom() string      { return j.discoveredFrom }
func (j FrontierJob) Metadata() map[string]string { return j.metadata }
func (j FrontierJob) AvailableAt() time.Time      { return j.availableAt }

// withAvailableAt returns a copy of the job deferred until t.
func (j FrontierJob) withAvailableAt(t time.Time) FrontierJob {
	j.availableAt = t
	return j
}

// HostStats accumulates per-host bandit and outcome bookkeeping.
type HostStats struct {
	pulls             int
	rewardSum         float64
	hits              int
	failures          int
	lastScore         float64
	lastAction        string
	lastFailure       time.Time
	lastFailureReason string
	statusCounts      map[int]int
}

func newHostStats() *HostStats {
	return &HostStats{statusCounts: make(map[int]int)}
}

func (s *HostStats) Pulls() int                { return s.pulls }
func (s *HostStats) RewardSum() float64        { return s.rewardSum }
func (s *HostStats) Hits() int                 { return s.hits }
func (s *HostStats) Failures() int             { return s.failures }
func (s *HostStats) LastScore() float64        { return s.lastScore }
func (s *HostStats) LastAction() string        { return s.lastAction }
func (s *HostStats) LastFailure() time.Time    { return s.lastFailure }
func (s *HostStats) LastFailureReason() string { return s.lastFailureReason }
func (s *HostStats) StatusCounts() map[int]int { return s.statusCounts }

// AvgReward returns rewardSum/pulls, or 0 when the host has never been pulled.
func (s *HostStats) AvgReward() float64 {
	if s.pulls == 0 {
		return 0
	}
	return s.rewardSum / float64(s.pulls)
}

// HostCascade tracks a host's triage-cascade skip ratio, used to penalize
// hosts the cascade is consistently rejecting.
type HostCascade struct {
	passes int
	skips  int
}

func (c HostCascade) Passes() int { return c.passes }
func (c HostCascade) Skips() int  { return c.skips }
func (c HostCascade) Total() int  { return c.passes + c.skips }

// SkipRatio returns skips/total, or 0 when no samples have been recorded.
func (c HostCascade) SkipRatio() float64 {
	if c.Total() == 0 {
		return 0
	}
	return float64(c.skips) / float64(c.Total())
}

// Weights holds the priority formula's tunable coefficients.
type Weights struct {
	HostBudget float64
	Novelty    float64
	Bandit     float64
	Oddity     float64
}

// Settings holds every tunable constant from the priority formula, the
// bandit, the token bucket, and the cascade penalty.
type Settings struct {
	Weights                Weights
	DepthPenalty           float64
	CrossDomainBonus       float64
	MinPriority            float64
	MaxPriority            float64
	NoveltyDecay           float64
	BanditExploration      float64
	BanditInitial          float64
	CascadeMinObservations int
	CascadeSkipThreshold   float64
	CascadePenalty         float64
	HostTokenCapacity      float64
	HostRefillSeconds      float64
	FailureCooldownSeconds float64
}

// DefaultSettings returns the priority/bandit/token-bucket defaults.
func DefaultSettings() Settings {
	return Settings{
		Weights: Weights{
			HostBudget: 0.35,
			Novelty:    0.25,
			Bandit:     0.25,
			Oddity:     0.15,
		},
		DepthPenalty:           0.05,
		CrossDomainBonus:       0.05,
		MinPriority:            0.05,
		MaxPriority:            1.0,
		NoveltyDecay:           6,
		BanditExploration:      0.25,
		BanditInitial:          0.6,
		CascadeMinObservations: 5,
		CascadeSkipThreshold:   0.8,
		CascadePenalty:         0.15,
		HostTokenCapacity:      1.0,
		HostRefillSeconds:      1.0,
		FailureCooldownSeconds: 45,
	}
}
