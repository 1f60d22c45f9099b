package runner

import (
	"fmt"
	"time"
)

// TickError reports a failed watchdog tick. The runner logs it and keeps
// going; the next tick retries from whatever the store holds.
type TickError struct {
	Started time.Time
	// Failures counts consecutive failed ticks, including this one. Zero when
	// no tracker is configured.
	Failures int
	Err      error
}

func (e *TickError) Error() string {
	at := e.Started.UTC().Format(time.RFC3339)
	if e.Failures > 1 {
		return fmt.Sprintf("watchdog tick at %s failed (%d in a row): %v", at, e.Failures, e.Err)
	}
	return fmt.Sprintf("watchdog tick at %s failed: %v", at, e.Err)
}

func (e *TickError) Unwrap() error {
	return e.Err
}
