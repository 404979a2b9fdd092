// Package memory contains an in-process notifier that remembers the most
// recent publish event.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/radar-snapshot/internal/snapshot"
)

// Notifier keeps the latest published event. Each Notify replaces the
// previous one.
type Notifier struct {
	mu    sync.RWMutex
	last  snapshot.PublishedEvent
	seen  bool
	count uint64
}

// New returns a memory Notifier.
func New() *Notifier {
	return &Notifier{}
}

// Notify records the event and returns a pseudo message ID.
func (n *Notifier) Notify(_ context.Context, event snapshot.PublishedEvent) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last = event
	n.seen = true
	n.count++
	return fmt.Sprintf("memory-%d", n.count), nil
}

// Last returns the most recent event, if any.
func (n *Notifier) Last() (snapshot.PublishedEvent, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.last, n.seen
}
