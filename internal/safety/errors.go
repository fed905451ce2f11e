package safety

import (
	"fmt"

	"github.com/arlowright/oddcrawl/pkg/failure"
)

type SafetyErrorCause string

const (
	ErrCauseBlockedHost  SafetyErrorCause = "blocked_host"
	ErrCausePersistError SafetyErrorCause = "persist_error"
)

// SafetyError reports a gate-level refusal (a permanently or temporarily
// blocked host) or a blocklist persistence failure.
type SafetyError struct {
	Message string
	Cause   SafetyErrorCause
}

func (e *SafetyError) Error() string {
	return fmt.Sprintf("safety error: %s: %s", e.Cause, e.Message)
}

// Severity: a blocked host is a fatal skip for that fetch (the caller
// must not proceed); a persistence failure is recoverable, matching
// the degraded-but-continuing treatment of storage writes.
func (e *SafetyError) Severity() failure.Severity {
	if e.Cause == ErrCauseBlockedHost {
		return failure.SeverityFatal
	}
	return failure.SeverityRecoverable
}
