package safety

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/arlowright/oddcrawl/pkg/fileutil"
	"github.com/arlowright/oddcrawl/pkg/timeutil"
)

/*
Gate is the Tor/proxy politeness and blocklist gate: it
enforces per-host and global request intervals derived from RPM caps,
and maintains a persistent host blocklist where entries beginning with
"illegal:" are permanent.
*/
type Gate struct {
	mu sync.Mutex

	settings GateSettings
	now      func() time.Time
	sleeper  timeutil.Sleeper

	lastHostRequest   map[string]time.Time
	lastGlobalRequest time.Time
	failureCount      map[string]int
	blocklist         map[string]BlockEntry
}

// NewGate builds a Gate. now/sleeper are injectable seams for tests.
func NewGate(settings GateSettings, now func() time.Time, sleeper timeutil.Sleeper) *Gate {
	return &Gate{
		settings:        settings,
		now:             now,
		sleeper:         sleeper,
		lastHostRequest: make(map[string]time.Time),
		failureCount:    make(map[string]int),
		blocklist:       make(map[string]BlockEntry),
	}
}

func (g *Gate) perHostInterval() time.Duration {
	if g.settings.PerHostRequestsPerMinute <= 0 {
		return 0
	}
	return time.Duration(60.0 / g.settings.PerHostRequestsPerMinute * float64(time.Second))
}

func (g *Gate) globalInterval() time.Duration {
	if g.settings.GlobalRequestsPerMinute <= 0 {
		return 0
	}
	return time.Duration(60.0 / g.settings.GlobalRequestsPerMinute * float64(time.Second))
}

// BeforeRequest raises a SafetyError if host is blocklisted, otherwise
// sleeps as needed to honor the per-host and global request intervals
// before letting the caller proceed.
func (g *Gate) BeforeRequest(host string) *SafetyError {
	g.mu.Lock()
	if entry, blocked := g.blocklist[host]; blocked {
		if entry.isPermanent() {
			g.mu.Unlock()
			return &SafetyError{Message: "host permanently blocked: " + entry.Reason, Cause: ErrCauseBlockedHost}
		}
		if entry.BlockedUntil != nil && g.now().Before(*entry.BlockedUntil) {
			g.mu.Unlock()
			return &SafetyError{Message: "host temporarily blocked: " + entry.Reason, Cause: ErrCauseBlockedHost}
		}
		delete(g.blocklist, host)
	}

	nowT := g.now()
	wait := time.Duration(0)
	if gi := g.globalInterval(); gi > 0 && !g.lastGlobalRequest.IsZero() {
		if elapsed := nowT.Sub(g.lastGlobalRequest); elapsed < gi {
			wait = gi - elapsed
		}
	}
	if hi := g.perHostInterval(); hi > 0 {
		if last, ok := g.lastHostRequest[host]; ok {
			if elapsed := nowT.Sub(last); hi-elapsed > wait {
				wait = hi - elapsed
			}
		}
	}
	g.mu.Unlock()

	if wait > 0 {
		g.sleeper.Sleep(wait)
	}

	g.mu.Lock()
	finish := g.now()
	g.lastGlobalRequest = finish
	g.lastHostRequest[host] = finish
	g.mu.Unlock()
	return nil
}

// RecordFailure bumps host's failure counter, blocking it for
// failure_block_minutes once max_failures_per_host is exceeded.
func (g *Gate) RecordFailure(host string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failureCount[host]++
	if g.failureCount[host] >= g.settings.MaxFailuresPerHost {
		until := g.now().Add(time.Duration(g.settings.FailureBlockMinutes) * time.Minute)
		g.blocklist[host] = BlockEntry{Host: host, BlockedUntil: &until, Reason: "exceeded failure threshold"}
		g.failureCount[host] = 0
	}
}

// RecordSuccess resets host's failure counter after a clean fetch.
func (g *Gate) RecordSuccess(host string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failureCount[host] = 0
}

// BlockIllegal permanently blocks host following an illegal-content
// match on a Tor-routed fetch: once Tor routing was used, the host
// stays blocked.
func (g *Gate) BlockIllegal(host string, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	until := g.now().AddDate(0, 0, g.settings.IllegalBlockDays)
	g.blocklist[host] = BlockEntry{
		Host:         host,
		BlockedUntil: &until,
		Reason:       "illegal:" + reason,
	}
}

// IsBlocked reports whether host is currently blocklisted (permanently
// or within an active temporary window).
func (g *Gate) IsBlocked(host string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.blocklist[host]
	if !ok {
		return false
	}
	if entry.isPermanent() {
		return true
	}
	return entry.BlockedUntil != nil && g.now().Before(*entry.BlockedUntil)
}

func (g *Gate) save() *SafetyError {
	if g.settings.BlocklistPath == "" {
		return nil
	}
	doc := persistedBlocklist{Entries: make([]BlockEntry, 0, len(g.blocklist))}
	for _, entry := range g.blocklist {
		doc.Entries = append(doc.Entries, entry)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &SafetyError{Message: err.Error(), Cause: ErrCausePersistError}
	}
	if writeErr := fileutil.WriteFileAtomic(g.settings.BlocklistPath, data, 0644); writeErr != nil {
		return &SafetyError{Message: writeErr.Error(), Cause: ErrCausePersistError}
	}
	return nil
}

// Flush atomically persists the blocklist.
func (g *Gate) Flush() *SafetyError {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.save()
}

// LoadGate restores a Gate's blocklist from settings.BlocklistPath. A
// missing file yields an empty blocklist.
func LoadGate(settings GateSettings, now func() time.Time, sleeper timeutil.Sleeper) (*Gate, *SafetyError) {
	g := NewGate(settings, now, sleeper)
	if settings.BlocklistPath == "" {
		return g, nil
	}
	data, err := os.ReadFile(settings.BlocklistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return g, nil
		}
		return nil, &SafetyError{Message: err.Error(), Cause: ErrCausePersistError}
	}
	var doc persistedBlocklist
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &SafetyError{Message: err.Error(), Cause: ErrCausePersistError}
	}
	for _, entry := range doc.Entries {
		g.blocklist[entry.Host] = entry
	}
	return g, nil
}
