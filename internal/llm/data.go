package llm

import "time"

// DangerousContent mirrors the analyst JSON's dangerous_content object
// of the analyst's JSON contract.
type DangerousContent struct {
	Present  bool   `json:"present"`
	Category string `json:"category"`
	Notes    string `json:"notes"`
}

// Finding is the analyst's JSON output: `{url, summary
// (≤360 chars), why_flagged[], risk_tag, dangerous_content{present,
// category, notes}, confidence, observation_ref}`.
type Finding struct {
	URL              string           `json:"url"`
	Summary          string           `json:"summary"`
	WhyFlagged       []string         `json:"why_flagged"`
	RiskTag          string           `json:"risk_tag"`
	DangerousContent DangerousContent `json:"dangerous_content"`
	Confidence       float64          `json:"confidence"`
	ObservationRef   string           `json:"observation_ref"`
}

// Input is the observation mapping handed to the analyst (its
// "Input: observation mapping").
type Input struct {
	URL          string
	URLSHA256    string
	FetchedAt    time.Time
	Title        string
	TextExcerpt  string
	RetroSignals []string
	Reasons      []string
}

const maxSummaryChars = 360
