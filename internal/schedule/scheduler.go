// Package schedule derives automatic-transition deadlines from lifecycle
// state. Deadlines are a pure function of (status, status-entry time), so
// any component re-deriving one arrives at the same instant regardless of
// when it runs.
package schedule

import (
	"fmt"
	"time"

	"github.com/safetrade/escrowd/internal/escrow"
)

// Default timeout windows per auto-advancing status.
const (
	DefaultShippedWindow    = 7 * 24 * time.Hour
	DefaultDeliveredWindow  = 3 * 24 * time.Hour
	DefaultInspectionWindow = 7 * 24 * time.Hour
	DefaultCompletedWindow  = 24 * time.Hour
)

// Windows maps each auto-advancing status to its timeout window.
type Windows map[escrow.Status]time.Duration

// DefaultWindows returns the production window configuration.
func DefaultWindows() Windows {
	return Windows{
		escrow.StatusShipped:    DefaultShippedWindow,
		escrow.StatusDelivered:  DefaultDeliveredWindow,
		escrow.StatusInspection: DefaultInspectionWindow,
		escrow.StatusCompleted:  DefaultCompletedWindow,
	}
}

// Validate checks that every auto-advancing status has a positive window
// and that no window is configured for a status without an automatic edge.
func (w Windows) Validate() error {
	for _, s := range escrow.AutoAdvancingStatuses() {
		d, ok := w[s]
		if !ok {
			return fmt.Errorf("no timeout window for status %s", s)
		}
		if d <= 0 {
			return fmt.Errorf("timeout window for status %s must be positive, got %s", s, d)
		}
	}
	for s := range w {
		if !escrow.AutoAdvancing(s) {
			return fmt.Errorf("timeout window configured for status %s, which never auto-advances", s)
		}
	}
	return nil
}

// Scheduler derives deadlines from configured windows.
type Scheduler struct {
	windows Windows
}

// New builds a scheduler over the given windows. Callers should Validate
// the windows first; New does not.
func New(windows Windows) *Scheduler {
	return &Scheduler{windows: windows}
}

// Next returns the automatic-transition deadline for a transaction that
// entered status at enteredAt, and whether the status auto-advances at
// all.
//
// The deadline is enteredAt + window, never "now + window": re-deriving
// the deadline for the same (transaction, status) pair always yields the
// same instant, which is what makes the scheduling jobs idempotent.
func (s *Scheduler) Next(status escrow.Status, enteredAt time.Time) (time.Time, bool) {
	if !escrow.AutoAdvancing(status) {
		return time.Time{}, false
	}
	d, ok := s.windows[status]
	if !ok {
		return time.Time{}, false
	}
	return enteredAt.Add(d), true
}

// Window returns the configured window for a status.
func (s *Scheduler) Window(status escrow.Status) (time.Duration, bool) {
	d, ok := s.windows[status]
	return d, ok
}
