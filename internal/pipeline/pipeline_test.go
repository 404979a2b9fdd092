package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/JakeFAU/radar-snapshot/internal/snapshot"
)

type recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *recorder) add(step string) {
	r.mu.Lock()
	r.steps = append(r.steps, step)
	r.mu.Unlock()
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.steps...)
}

type fakeRenderer struct {
	rec     *recorder
	capture snapshot.Capture
	err     error
	block   bool
}

func (f *fakeRenderer) Render(ctx context.Context) (snapshot.Capture, error) {
	f.rec.add("render")
	if f.block {
		<-ctx.Done()
		return snapshot.Capture{}, ctx.Err()
	}
	return f.capture, f.err
}

type fakeAnnotator struct {
	rec    *recorder
	err    error
	labels []string
}

func (f *fakeAnnotator) Annotate(img []byte, label string) ([]byte, error) {
	f.rec.add("annotate")
	f.labels = append(f.labels, label)
	if f.err != nil {
		return nil, f.err
	}
	return append(append([]byte(nil), img...), []byte("|"+label)...), nil
}

type fakeLabeler struct {
	rec *recorder
}

func (f *fakeLabeler) Label(t time.Time) string {
	f.rec.add("label")
	return t.UTC().Format("02/01/2006, 15:04")
}

type fakeStore struct {
	rec  *recorder
	err  error
	data []byte
}

func (f *fakeStore) Publish(_ context.Context, data []byte) error {
	f.rec.add("publish")
	if f.err != nil {
		return f.err
	}
	f.data = append([]byte(nil), data...)
	return nil
}

func (f *fakeStore) Read(context.Context) (snapshot.Snapshot, error) {
	if f.data == nil {
		return snapshot.Snapshot{}, snapshot.ErrNotFound
	}
	return snapshot.Snapshot{Data: f.data}, nil
}

type fakeNotifier struct {
	rec    *recorder
	err    error
	events []snapshot.PublishedEvent
}

func (f *fakeNotifier) Notify(_ context.Context, event snapshot.PublishedEvent) (string, error) {
	f.rec.add("notify")
	f.events = append(f.events, event)
	return "msg-1", f.err
}

type fakeProber struct {
	rec *recorder
	err error
}

func (f *fakeProber) Probe(_ context.Context, url string) (snapshot.ProbeResult, error) {
	f.rec.add("probe")
	return snapshot.ProbeResult{URL: url, StatusCode: 200}, f.err
}

// stepClock advances one minute on every read.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("run-%d", s.n), nil
}

type lenHasher struct{}

func (lenHasher) Hash(data []byte) (string, error) {
	return fmt.Sprintf("len-%d", len(data)), nil
}

type harness struct {
	rec       *recorder
	renderer  *fakeRenderer
	annotator *fakeAnnotator
	store     *fakeStore
	notifier  *fakeNotifier
	prober    *fakeProber
	spans     *tracetest.SpanRecorder
	pipeline  *Pipeline
}

func newHarness(t *testing.T, withProbe bool) *harness {
	t.Helper()
	rec := &recorder{}
	h := &harness{
		rec: rec,
		renderer: &fakeRenderer{rec: rec, capture: snapshot.Capture{
			PNG: []byte("png"), Width: 1280, Height: 960, Consent: snapshot.ConsentSuppressed,
		}},
		annotator: &fakeAnnotator{rec: rec},
		store:     &fakeStore{rec: rec},
		notifier:  &fakeNotifier{rec: rec},
		spans:     tracetest.NewSpanRecorder(),
	}
	var prober snapshot.Prober
	if withProbe {
		h.prober = &fakeProber{rec: rec}
		prober = h.prober
	}
	clock := &stepClock{now: time.Date(2023, 12, 25, 12, 0, 0, 0, time.UTC)}
	h.pipeline = New(h.renderer, h.annotator, &fakeLabeler{rec: rec}, h.store, h.notifier, prober,
		clock, &seqIDs{}, lenHasher{}, Config{TargetURL: "https://radar.example", RunTimeout: time.Second}, zap.NewNop())
	h.pipeline.tracer = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans)).Tracer("test")
	return h
}

func TestRunPublishesInStageOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	res, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"probe", "render", "label", "annotate", "publish", "notify"}, h.rec.get())
	assert.Equal(t, "run-1", res.RunID)
	// Clock reads: start (12:01), label after capture (12:02).
	assert.Equal(t, "25/12/2023, 12:02", res.Label)
	assert.Equal(t, []byte("png|25/12/2023, 12:02"), h.store.data)
	assert.Equal(t, len(h.store.data), res.Bytes)
	assert.Equal(t, fmt.Sprintf("len-%d", res.Bytes), res.Digest)
	assert.Equal(t, 1280, res.Width)
	assert.Equal(t, snapshot.ConsentSuppressed, res.Consent)

	require.Len(t, h.notifier.events, 1)
	assert.Equal(t, res.Digest, h.notifier.events[0].Digest)
	assert.Equal(t, "run-1", h.notifier.events[0].RunID)

	status := h.pipeline.LastRun()
	assert.Equal(t, snapshot.StateSucceeded, status.State)
	assert.Equal(t, "suppressed", status.Consent)
	require.NotNil(t, status.LastSuccess)

	var names []string
	for _, s := range h.spans.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{
		"snapshot.probe", "snapshot.render", "snapshot.annotate",
		"snapshot.publish", "snapshot.notify", "snapshot.run",
	}, names)
}

func TestRunConsentOutcomeDoesNotChangeFlow(t *testing.T) {
	t.Parallel()

	for _, outcome := range []snapshot.ConsentOutcome{snapshot.ConsentSuppressed, snapshot.ConsentNotFound, snapshot.ConsentFailed} {
		t.Run(outcome.String(), func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, false)
			h.renderer.capture.Consent = outcome

			res, err := h.pipeline.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, outcome, res.Consent)
			assert.Equal(t, []string{"render", "label", "annotate", "publish", "notify"}, h.rec.get())
		})
	}
}

func TestRunStageFailuresDoNotPublish(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(h *harness)
		wantErr  error
		wantKind string
		steps    []string
	}{
		{
			name:     "probe",
			mutate:   func(h *harness) { h.prober.err = errors.New("connection refused") },
			wantErr:  snapshot.ErrProbe,
			wantKind: "navigation",
			steps:    []string{"probe"},
		},
		{
			name:     "browser",
			mutate:   func(h *harness) { h.renderer.err = fmt.Errorf("%w: chrome missing", snapshot.ErrBrowser) },
			wantErr:  snapshot.ErrBrowser,
			wantKind: "browser",
			steps:    []string{"probe", "render"},
		},
		{
			name:     "unclassified render error",
			mutate:   func(h *harness) { h.renderer.err = errors.New("boom") },
			wantErr:  snapshot.ErrCapture,
			wantKind: "capture",
			steps:    []string{"probe", "render"},
		},
		{
			name:     "empty capture",
			mutate:   func(h *harness) { h.renderer.capture.PNG = nil },
			wantErr:  snapshot.ErrCapture,
			wantKind: "capture",
			steps:    []string{"probe", "render"},
		},
		{
			name:     "annotate",
			mutate:   func(h *harness) { h.annotator.err = errors.New("bad png") },
			wantErr:  snapshot.ErrAnnotate,
			wantKind: "annotate",
			steps:    []string{"probe", "render", "label", "annotate"},
		},
		{
			name:     "publish",
			mutate:   func(h *harness) { h.store.err = errors.New("disk full") },
			wantErr:  snapshot.ErrPublish,
			wantKind: "publish",
			steps:    []string{"probe", "render", "label", "annotate", "publish"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, true)
			tt.mutate(h)

			_, err := h.pipeline.Run(context.Background())
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.steps, h.rec.get())
			assert.Nil(t, h.store.data)
			assert.Empty(t, h.notifier.events)

			status := h.pipeline.LastRun()
			assert.Equal(t, snapshot.StateFailed, status.State)
			assert.Equal(t, tt.wantKind, status.ErrorKind)
			assert.NotEmpty(t, status.ErrorText)
			assert.Nil(t, status.LastSuccess)
		})
	}
}

func TestRunFailureKeepsLastSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	first := h.pipeline.LastRun()

	h.store.err = errors.New("disk full")
	_, err = h.pipeline.Run(context.Background())
	require.Error(t, err)

	status := h.pipeline.LastRun()
	assert.Equal(t, "run-2", status.RunID)
	assert.Equal(t, snapshot.StateFailed, status.State)
	require.NotNil(t, status.LastSuccess)
	assert.Equal(t, *first.LastSuccess, *status.LastSuccess)
	assert.Contains(t, string(h.store.data), "png|", "previous snapshot remains published")
}

func TestRunNotifyFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.notifier.err = errors.New("topic gone")

	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snapshot.StateSucceeded, h.pipeline.LastRun().State)
}

func TestRunAppliesRunTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.pipeline.cfg.RunTimeout = 50 * time.Millisecond
	h.renderer.block = true

	start := time.Now()
	_, err := h.pipeline.Run(context.Background())
	require.ErrorIs(t, err, snapshot.ErrNavigation)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, "navigation", h.pipeline.LastRun().ErrorKind)
}

func TestLastRunInitiallyIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	status := h.pipeline.LastRun()
	assert.Equal(t, snapshot.StateIdle, status.State)
	assert.Empty(t, status.RunID)
}

func TestNewDefaultsRunTimeout(t *testing.T) {
	t.Parallel()

	p := New(nil, nil, nil, nil, nil, nil, nil, nil, nil, Config{}, nil)
	assert.Equal(t, defaultRunTimeout, p.cfg.RunTimeout)
}
