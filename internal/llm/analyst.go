package llm

import "context"

// Analyst fronts the external LLM analyst. Concrete prompt
// construction, JSON validation, and provider wiring live outside this
// package; callers inject whatever analyst they have.
type Analyst interface {
	Analyze(ctx context.Context, input Input) (Finding, error)
}

// AnalyzeWithFallback calls analyst and substitutes a deterministic
// StubAnalyst finding on any error, so an unavailable or failing model
// never stalls the pipeline. A nil analyst (no LLM configured at all)
// goes straight to the stub.
func AnalyzeWithFallback(ctx context.Context, analyst Analyst, input Input) Finding {
	if analyst != nil {
		if finding, err := analyst.Analyze(ctx, input); err == nil {
			return finding
		}
	}
	stub := StubAnalyst{}
	finding, _ := stub.Analyze(ctx, input)
	return finding
}
