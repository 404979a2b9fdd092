package snapshot

import (
	"context"
	"time"
)

// Renderer drives a browser to the target page and returns raw pixels.
type Renderer interface {
	Render(ctx context.Context) (Capture, error)
}

// Annotator composites a label onto an encoded image.
type Annotator interface {
	Annotate(img []byte, label string) ([]byte, error)
}

// Labeler formats the timestamp stamped onto each snapshot.
type Labeler interface {
	Label(t time.Time) string
}

// Store is the single-slot home of the latest published snapshot.
type Store interface {
	Publish(ctx context.Context, data []byte) error
	Read(ctx context.Context) (Snapshot, error)
}

// Notifier announces a freshly published snapshot.
type Notifier interface {
	Notify(ctx context.Context, event PublishedEvent) (string, error)
}

// Prober checks the target is reachable before a browser session is spent on it.
type Prober interface {
	Probe(ctx context.Context, url string) (ProbeResult, error)
}

// Hasher computes digests used for ETags and notifications.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
