// Package scoring fuses the extractor's feature buckets into a single
// oddness score and picks an action.
package scoring

import (
	"fmt"
	"math"
)

// Action is the scoring engine's decision, a closed sum.
type Action string

const (
	ActionSkip    Action = "skip"
	ActionPersist Action = "persist"
	ActionLLM     Action = "llm"
)

// Features is the five-bucket feature vector, each in [0,1].
type Features struct {
	RetroHTML float64
	URLWeird  float64
	Semantic  float64
	Anomaly   float64
	Graph     float64

	RetroSignals  []string
	URLFlags      []string
	HasWebring    bool
	ComponentSize int
}

// Weights holds the fusion weights and decision thresholds.
type Weights struct {
	Bias      float64
	RetroHTML float64
	URLWeird  float64
	Semantic  float64
	Anomaly   float64
	Graph     float64

	Persist float64
	LLMGate float64
	Alert   float64
}

// DefaultWeights returns the default fusion weights and thresholds.
func DefaultWeights() Weights {
	return Weights{
		Bias:      0,
		RetroHTML: 0.25,
		URLWeird:  0.10,
		Semantic:  0.30,
		Anomaly:   0.20,
		Graph:     0.15,

		Persist: 0.35,
		LLMGate: 0.60,
		Alert:   0.80,
	}
}

// Decision is the scoring engine's output.
type Decision struct {
	Score         float64
	Action        Action
	ThresholdsHit map[string]float64
	Reasons       []string
}

// Engine fuses feature vectors into decisions under a fixed set of weights.
type Engine struct {
	weights Weights
}

func NewEngine(weights Weights) *Engine {
	return &Engine{weights: weights}
}

// Evaluate computes p = sigmoid(bias + sum(w_i * x_i)) and applies the
// decision gates, then appends human-readable reasons.
func (e *Engine) Evaluate(f Features) Decision {
	w := e.weights
	z := w.Bias +
		w.RetroHTML*f.RetroHTML +
		w.URLWeird*f.URLWeird +
		w.Semantic*f.Semantic +
		w.Anomaly*f.Anomaly +
		w.Graph*f.Graph
	score := 1.0 / (1.0 + math.Exp(-z))

	var action Action
	switch {
	case score >= w.LLMGate:
		action = ActionLLM
	case score >= w.Persist:
		action = ActionPersist
	default:
		action = ActionSkip
	}

	thresholdsHit := map[string]float64{}
	if score >= w.Persist {
		thresholdsHit["persist"] = w.Persist
	}
	if score >= w.LLMGate {
		thresholdsHit["llm_gate"] = w.LLMGate
	}
	if score >= w.Alert {
		thresholdsHit["alert"] = w.Alert
	}

	var reasons []string
	if len(f.RetroSignals) > 0 {
		reasons = append(reasons, fmt.Sprintf("retro signals: %v", f.RetroSignals))
	}
	if len(f.URLFlags) > 0 {
		reasons = append(reasons, fmt.Sprintf("url flags: %v", f.URLFlags))
	}
	if f.HasWebring {
		reasons = append(reasons, "possible webring membership")
	}
	if f.ComponentSize > 0 && f.ComponentSize <= 3 {
		reasons = append(reasons, fmt.Sprintf("small link neighborhood (size=%d)", f.ComponentSize))
	}

	return Decision{
		Score:         score,
		Action:        action,
		ThresholdsHit: thresholdsHit,
		Reasons:       reasons,
	}
}
