package graph

import (
	"fmt"

	"github.com/arlowright/oddcrawl/pkg/failure"
)

type GraphErrorCause string

const (
	ErrCauseWriteFailure GraphErrorCause = "write_failure"
	ErrCauseReadFailure  GraphErrorCause = "read_failure"
	ErrCauseDecodeFailure GraphErrorCause = "decode_failure"
)

// GraphError reports persistence failures. Graph mutation itself (upsert,
// metric recomputation) never fails; only the atomic-write/read boundary
// can.
type GraphError struct {
	Message string
	Cause   GraphErrorCause
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph error: %s: %s", e.Cause, e.Message)
}

// Severity is always Recoverable: a failed snapshot write loses at most the
// buffered delta, never crawl state needed to continue.
func (e *GraphError) Severity() failure.Severity {
	return failure.SeverityRecoverable
}
