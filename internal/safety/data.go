package safety

import "time"

// IllegalScanResult is the outcome of scanning a body of text against the
// configured keyword list.
type IllegalScanResult struct {
	Illegal bool
	Reason  string
	Matches []string
}

// BlockEntry is one host-blocklist row. Entries whose Reason begins with
// "illegal:" are permanent whatever BlockedUntil holds; BlockedUntil is
// nil for rows added by ImportHostlist.
type BlockEntry struct {
	Host         string     `json:"host"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	Reason       string     `json:"reason"`
}

func (e BlockEntry) isPermanent() bool {
	return len(e.Reason) >= 8 && e.Reason[:8] == "illegal:"
}

// GateSettings configures the Tor/proxy politeness gate (the crawl.tor
// tor.* surface).
type GateSettings struct {
	PerHostRequestsPerMinute float64
	GlobalRequestsPerMinute  float64
	FailureBlockMinutes      int
	MaxFailuresPerHost       int
	IllegalBlockDays         int
	BlocklistPath            string
}

// DefaultGateSettings returns the tor.* defaults.
func DefaultGateSettings() GateSettings {
	return GateSettings{
		PerHostRequestsPerMinute: 6,
		GlobalRequestsPerMinute:  30,
		FailureBlockMinutes:      30,
		MaxFailuresPerHost:       5,
		IllegalBlockDays:         365,
		BlocklistPath:            "tor/blocklist.json",
	}
}

type persistedBlocklist struct {
	Entries []BlockEntry `json:"entries"`
}
