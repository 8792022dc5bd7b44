// Package notify bridges committed transitions to the notification
// subsystem. Delivery is best-effort: a failed notification never rolls
// back or retries a transition.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/safetrade/escrowd/internal/escrow"
)

// Notifier delivers transition notifications. Implementations must be
// safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n escrow.Notification) error
}

// Log writes notifications to the structured log. The default bridge when
// no broker is configured.
type Log struct {
	Logger *slog.Logger
}

func (l *Log) Notify(ctx context.Context, n escrow.Notification) error {
	l.Logger.InfoContext(ctx, "notification",
		"recipient", n.RecipientID,
		"type", n.Type,
		"transaction", n.Context["transaction_id"],
		"to_status", n.Context["to_status"],
	)
	return nil
}

// Recorder captures notifications for tests.
type Recorder struct {
	mu   sync.Mutex
	sent []escrow.Notification
}

func (r *Recorder) Notify(_ context.Context, n escrow.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

// Sent returns a copy of everything recorded so far.
func (r *Recorder) Sent() []escrow.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]escrow.Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// Reset discards recorded notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
