// Package memory records notifications for tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
)

// Notifier stores delivered notifications for inspection.
type Notifier struct {
	mu   sync.RWMutex
	sent []catalog.Notification
	err  error
}

// New returns a memory Notifier.
func New() *Notifier {
	return &Notifier{}
}

// FailWith makes subsequent Notify calls return err.
func (n *Notifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Notify implements catalog.Notifier.
func (n *Notifier) Notify(_ context.Context, notification catalog.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, notification)
	return nil
}

// Sent returns the recorded notifications.
func (n *Notifier) Sent() []catalog.Notification {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]catalog.Notification, len(n.sent))
	copy(out, n.sent)
	return out
}
