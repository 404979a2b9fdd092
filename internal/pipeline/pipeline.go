// Package pipeline runs one snapshot: render, label, annotate, publish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/radar-snapshot/internal/metrics"
	"github.com/JakeFAU/radar-snapshot/internal/snapshot"
	"github.com/JakeFAU/radar-snapshot/internal/telemetry"
)

const defaultRunTimeout = 2 * time.Minute

// Stage names used for metrics and spans.
const (
	StageProbe    = "probe"
	StageRender   = "render"
	StageAnnotate = "annotate"
	StagePublish  = "publish"
	StageNotify   = "notify"
)

// Config controls a pipeline run.
type Config struct {
	TargetURL  string
	RunTimeout time.Duration
}

// Pipeline executes snapshot runs and remembers the outcome of the latest one.
type Pipeline struct {
	renderer  snapshot.Renderer
	annotator snapshot.Annotator
	labeler   snapshot.Labeler
	store     snapshot.Store
	notifier  snapshot.Notifier
	prober    snapshot.Prober
	clock     snapshot.Clock
	ids       snapshot.IDGenerator
	hasher    snapshot.Hasher
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer

	mu     sync.RWMutex
	status snapshot.RunStatus
}

// New constructs a Pipeline. notifier and prober may be nil.
func New(
	renderer snapshot.Renderer,
	annotator snapshot.Annotator,
	labeler snapshot.Labeler,
	store snapshot.Store,
	notifier snapshot.Notifier,
	prober snapshot.Prober,
	clock snapshot.Clock,
	ids snapshot.IDGenerator,
	hasher snapshot.Hasher,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Pipeline{
		renderer:  renderer,
		annotator: annotator,
		labeler:   labeler,
		store:     store,
		notifier:  notifier,
		prober:    prober,
		clock:     clock,
		ids:       ids,
		hasher:    hasher,
		cfg:       cfg,
		logger:    logger,
		tracer:    telemetry.Tracer(),
		status:    snapshot.RunStatus{State: snapshot.StateIdle},
	}
}

// LastRun returns the state of the most recent run.
func (p *Pipeline) LastRun() snapshot.RunStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Run performs one capture and publish under the configured run deadline.
// On any stage failure the previously published snapshot stays in place.
func (p *Pipeline) Run(ctx context.Context) (snapshot.Result, error) {
	runID, err := p.ids.NewID()
	if err != nil {
		return snapshot.Result{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := p.logger.With(zap.String("run_id", runID))

	ctx, cancel := context.WithTimeout(ctx, p.cfg.RunTimeout)
	defer cancel()
	ctx, span := p.tracer.Start(ctx, "snapshot.run", trace.WithAttributes(
		attribute.String("snapshot.run_id", runID),
		attribute.String("snapshot.target", p.cfg.TargetURL),
	))
	defer span.End()

	started := p.clock.Now()
	begin := time.Now()
	p.markRunning(runID, started)
	logger.Info("snapshot run started", zap.String("url", p.cfg.TargetURL))

	res, err := p.execute(ctx, runID, logger)
	res.Started = started
	res.Finished = p.clock.Now()

	if err != nil {
		kind := snapshot.FailureKind(err)
		metrics.ObserveRun(kind, time.Since(begin))
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		p.markFailed(runID, started, res.Finished, kind, err)
		logger.Error("snapshot run failed",
			zap.String("kind", kind),
			zap.Duration("duration", time.Since(begin)),
			zap.Error(err),
		)
		return snapshot.Result{}, err
	}

	metrics.ObserveRun("success", time.Since(begin))
	metrics.ObservePublished(res.Finished, res.Bytes)
	p.markSucceeded(res)
	logger.Info("snapshot published",
		zap.String("label", res.Label),
		zap.Int("bytes", res.Bytes),
		zap.String("consent", res.Consent.String()),
		zap.Duration("duration", time.Since(begin)),
	)
	return res, nil
}

func (p *Pipeline) execute(ctx context.Context, runID string, logger *zap.Logger) (snapshot.Result, error) {
	res := snapshot.Result{RunID: runID}

	if p.prober != nil {
		err := p.stage(ctx, StageProbe, func(ctx context.Context) error {
			probe, err := p.prober.Probe(ctx, p.cfg.TargetURL)
			if err != nil {
				return classify(snapshot.ErrProbe, err)
			}
			logger.Debug("target reachable", zap.Int("status", probe.StatusCode), zap.Duration("duration", probe.Duration))
			return nil
		})
		if err != nil {
			return res, err
		}
	}

	var capture snapshot.Capture
	err := p.stage(ctx, StageRender, func(ctx context.Context) error {
		var err error
		capture, err = p.renderer.Render(ctx)
		if err != nil {
			return classify(snapshot.ErrCapture, err)
		}
		if len(capture.PNG) == 0 {
			return fmt.Errorf("%w: renderer returned no image", snapshot.ErrCapture)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	metrics.ObserveConsent(capture.Consent.String())
	res.Consent = capture.Consent
	res.Width, res.Height = capture.Width, capture.Height

	// The label reflects when the page was captured, not when the run began.
	res.Label = p.labeler.Label(p.clock.Now())

	var annotated []byte
	err = p.stage(ctx, StageAnnotate, func(context.Context) error {
		var err error
		annotated, err = p.annotator.Annotate(capture.PNG, res.Label)
		if err != nil {
			return classify(snapshot.ErrAnnotate, err)
		}
		res.Digest, err = p.hasher.Hash(annotated)
		if err != nil {
			return classify(snapshot.ErrAnnotate, fmt.Errorf("digest: %w", err))
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	res.Bytes = len(annotated)

	err = p.stage(ctx, StagePublish, func(ctx context.Context) error {
		if err := p.store.Publish(ctx, annotated); err != nil {
			return classify(snapshot.ErrPublish, err)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	if p.notifier != nil {
		_ = p.stage(ctx, StageNotify, func(ctx context.Context) error {
			id, err := p.notifier.Notify(ctx, snapshot.PublishedEvent{
				RunID:       runID,
				Label:       res.Label,
				Digest:      res.Digest,
				Bytes:       res.Bytes,
				Width:       res.Width,
				Height:      res.Height,
				PublishedAt: p.clock.Now(),
			})
			if err != nil {
				logger.Warn("publish notification failed", zap.Error(err))
				return err
			}
			logger.Debug("publish notification sent", zap.String("message_id", id))
			return nil
		})
	}
	return res, nil
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "snapshot."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	metrics.ObserveStage(name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// classify wraps err with class unless it already carries a known class.
func classify(class, err error) error {
	if snapshot.FailureKind(err) != "unknown" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && class == snapshot.ErrCapture {
		class = snapshot.ErrNavigation
	}
	return fmt.Errorf("%w: %w", class, err)
}

func (p *Pipeline) markRunning(runID string, started time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = snapshot.RunStatus{
		RunID:       runID,
		State:       snapshot.StateRunning,
		Started:     &started,
		LastSuccess: p.status.LastSuccess,
	}
}

func (p *Pipeline) markFailed(runID string, started, finished time.Time, kind string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = snapshot.RunStatus{
		RunID:       runID,
		State:       snapshot.StateFailed,
		Started:     &started,
		Finished:    &finished,
		ErrorKind:   kind,
		ErrorText:   err.Error(),
		LastSuccess: p.status.LastSuccess,
	}
}

func (p *Pipeline) markSucceeded(res snapshot.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	started, finished := res.Started, res.Finished
	p.status = snapshot.RunStatus{
		RunID:       res.RunID,
		State:       snapshot.StateSucceeded,
		Started:     &started,
		Finished:    &finished,
		Label:       res.Label,
		Digest:      res.Digest,
		Bytes:       res.Bytes,
		Consent:     res.Consent.String(),
		LastSuccess: &finished,
	}
}
