package ingest

import (
	"fmt"

	"github.com/OmniRelay/IngestPipe/internal/models"
)

// ValidationError reports a malformed inbound message. It is never retried;
// the request is rejected immediately.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid inbound message: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TimeoutError reports that the caller's deadline expired while waiting on
// an in-flight result or on storage I/O. It is distinct from a transient
// storage fault so callers can distinguish "still unknown" from "confirmed
// failing". The shared in-flight executor keeps running; other waiters are
// unaffected.
type TimeoutError struct {
	Stage string // "inflight-wait" or "ingest"
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ingest deadline exceeded during %s: %v", e.Stage, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// TriggerError reports a partial success: the message record was durably
// created, but invoking the downstream categorization trigger failed. The
// record remains committed; callers may retry only the trigger, not the
// ingest.
type TriggerError struct {
	Record models.Message
	Err    error
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("message %s stored but downstream trigger failed: %v", e.Record.ID, e.Err)
}

func (e *TriggerError) Unwrap() error { return e.Err }
