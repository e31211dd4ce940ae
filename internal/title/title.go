// Package title sets a cosmetic process title. The capability is
// best-effort: platforms without support get a no-op setter, and
// failures never propagate to callers.
package title

import (
	"fmt"
	"time"
)

// Setter applies a process title. Implementations must be safe to call
// from any goroutine and must never fail loudly.
type Setter interface {
	Set(title string)
}

// Noop discards titles. Used where the platform capability is absent.
type Noop struct{}

// Set implements Setter.
func (Noop) Set(string) {}

// Format renders the conventional herd title string:
// "<program> <role> [<memory KB> KB used, started <timestamp>]".
func Format(program, role string, memBytes uint64, started time.Time) string {
	return fmt.Sprintf("%s %s [%d KB used, started %s]",
		program, role, memBytes/1024, started.Format(time.RFC3339))
}
