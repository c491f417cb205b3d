package decommission

import (
	"time"

	"github.com/deicer-io/deicer/internal/state"
)

// RetentionGate selects vaults whose inventory is old enough to act on.
//
// The window gives the operator time to inspect a fresh inventory and abort
// before anything is deleted.
type RetentionGate struct {
	Window time.Duration
}

// NewRetentionGate creates a gate. A non-positive window uses DefaultRetentionWindow.
func NewRetentionGate(window time.Duration) RetentionGate {
	if window <= 0 {
		window = DefaultRetentionWindow
	}
	return RetentionGate{Window: window}
}

// Eligible reports whether rec may be destroyed at now: it is COMPLETE and
// its inventory is at least Window old. The boundary is inclusive.
func (g RetentionGate) Eligible(rec *state.VaultRecord, now time.Time) bool {
	if rec == nil || rec.Status != state.StatusComplete || rec.JobUpdated == nil {
		return false
	}
	return now.Sub(*rec.JobUpdated) >= g.Window
}

// Select returns the sorted names of the eligible records. It does not
// modify records.
func (g RetentionGate) Select(records state.Records, now time.Time) []string {
	var out []string
	for _, id := range records.WithStatus(state.StatusComplete) {
		if g.Eligible(records[id], now) {
			out = append(out, id)
		}
	}
	return out
}
