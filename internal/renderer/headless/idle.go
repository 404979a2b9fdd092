package headless

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

const idlePollInterval = 50 * time.Millisecond

// idleTracker counts in-flight requests from network events so readiness can
// wait for the page to go quiet. The page is quiet once no more than
// maxInflight requests have been outstanding for the quiet window; requests
// that start and finish below that ceiling do not restart the window, which
// matches Chrome's networkAlmostIdle lifecycle signal.
type idleTracker struct {
	now         func() time.Time
	maxInflight int

	mu          sync.Mutex
	inflight    map[network.RequestID]struct{}
	quietSince  time.Time
	overCeiling bool
}

func newIdleTracker(now func() time.Time, maxInflight int) *idleTracker {
	if maxInflight < 0 {
		maxInflight = 0
	}
	return &idleTracker{
		now:         now,
		maxInflight: maxInflight,
		inflight:    make(map[network.RequestID]struct{}),
		quietSince:  now(),
	}
}

func (t *idleTracker) observe(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.update(func() { t.inflight[e.RequestID] = struct{}{} })
	case *network.EventLoadingFinished:
		t.update(func() { delete(t.inflight, e.RequestID) })
	case *network.EventLoadingFailed:
		t.update(func() { delete(t.inflight, e.RequestID) })
	}
}

// update applies fn and restarts the quiet window when the in-flight count
// drops back to the ceiling.
func (t *idleTracker) update(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn()
	over := len(t.inflight) > t.maxInflight
	if t.overCeiling && !over {
		t.quietSince = t.now()
	}
	t.overCeiling = over
}

// reset forgets earlier traffic and starts a fresh quiet window.
func (t *idleTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.inflight)
	t.overCeiling = false
	t.quietSince = t.now()
}

// idle reports whether the in-flight count has stayed at or below the
// ceiling for at least quiet.
func (t *idleTracker) idle(quiet time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.overCeiling && t.now().Sub(t.quietSince) >= quiet
}

func (t *idleTracker) wait(ctx context.Context, quiet time.Duration) error {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		if t.idle(quiet) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
