package headless

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	// Registered for image.DecodeConfig on captured screenshots.
	_ "image/png"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/radar-snapshot/internal/consent"
	"github.com/JakeFAU/radar-snapshot/internal/snapshot"
)

// ReadyCondition decides when the page counts as loaded.
type ReadyCondition string

// Ready conditions.
const (
	ReadyLoad        ReadyCondition = "load"
	ReadyNetworkIdle ReadyCondition = "networkidle"
	ReadySelector    ReadyCondition = "selector"
)

// CaptureMode selects what part of the page is screenshotted.
type CaptureMode string

// Capture modes.
const (
	CaptureViewport CaptureMode = "viewport"
	CaptureFull     CaptureMode = "full"
	CaptureElement  CaptureMode = "element"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultIdleMaxInflight   = 2
	defaultIdleQuiet         = 500 * time.Millisecond
	defaultViewportWidth     = 1280
	defaultViewportHeight    = 960
)

// Config controls browser launch, page readiness and capture.
type Config struct {
	TargetURL         string
	ExecPath          string
	UserAgent         string
	NoSandbox         bool
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	Ready             ReadyCondition
	ReadySelector     string
	CaptureMode       CaptureMode
	CaptureSelector   string
	IdleMaxInflight   int
	IdleQuiet         time.Duration
}

// Renderer implements snapshot.Renderer using chromedp and headless Chrome.
type Renderer struct {
	cfg       Config
	consent   *consent.Suppressor
	logger    *zap.Logger
	allocOpts []chromedp.ExecAllocatorOption
}

// NewChromedp validates cfg and returns a renderer. suppressor may be nil to
// skip consent handling.
func NewChromedp(cfg Config, suppressor *consent.Suppressor, logger *zap.Logger) (*Renderer, error) {
	if cfg.TargetURL == "" {
		return nil, fmt.Errorf("target url is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SettleDelay < 0 {
		return nil, fmt.Errorf("settle delay must be >= 0")
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = defaultViewportWidth
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = defaultViewportHeight
	}
	if cfg.IdleMaxInflight < 0 {
		return nil, fmt.Errorf("idle max inflight must be >= 0")
	}
	if cfg.IdleMaxInflight == 0 {
		cfg.IdleMaxInflight = defaultIdleMaxInflight
	}
	if cfg.IdleQuiet <= 0 {
		cfg.IdleQuiet = defaultIdleQuiet
	}
	switch cfg.Ready {
	case "":
		cfg.Ready = ReadyNetworkIdle
	case ReadyLoad, ReadyNetworkIdle:
	case ReadySelector:
		if cfg.ReadySelector == "" {
			return nil, fmt.Errorf("ready selector is required for %q", ReadySelector)
		}
	default:
		return nil, fmt.Errorf("unknown ready condition %q", cfg.Ready)
	}
	switch cfg.CaptureMode {
	case "":
		cfg.CaptureMode = CaptureViewport
	case CaptureViewport, CaptureFull:
	case CaptureElement:
		if cfg.CaptureSelector == "" {
			return nil, fmt.Errorf("capture selector is required for %q", CaptureElement)
		}
	default:
		return nil, fmt.Errorf("unknown capture mode %q", cfg.CaptureMode)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		cfg:       cfg,
		consent:   suppressor,
		logger:    logger,
		allocOpts: allocatorOptions(cfg),
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-software-rasterizer", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox, chromedp.Flag("disable-setuid-sandbox", true))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

// Render launches a browser, loads the target, suppresses consent overlays and
// returns a PNG screenshot. Errors wrap snapshot.ErrBrowser, ErrNavigation or
// ErrCapture.
func (r *Renderer) Render(ctx context.Context) (snapshot.Capture, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, r.allocOpts...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(r.logger.Sugar().Debugf),
		chromedp.WithErrorf(r.logger.Sugar().Debugf),
	)
	defer browserCancel()

	start := time.Now()
	if err := chromedp.Run(browserCtx); err != nil {
		return snapshot.Capture{}, fmt.Errorf("%w: start browser: %w", snapshot.ErrBrowser, err)
	}

	idle := newIdleTracker(time.Now, r.cfg.IdleMaxInflight)
	chromedp.ListenTarget(browserCtx, idle.observe)

	if err := chromedp.Run(browserCtx, r.prepareActions()...); err != nil {
		return snapshot.Capture{}, fmt.Errorf("%w: prepare page: %w", snapshot.ErrBrowser, err)
	}

	if err := r.navigate(browserCtx, idle); err != nil {
		return snapshot.Capture{}, fmt.Errorf("%w: %s: %w", snapshot.ErrNavigation, r.cfg.TargetURL, err)
	}

	outcome := snapshot.ConsentNotFound
	if r.consent != nil {
		res := r.consent.Suppress(browserCtx)
		outcome = res.Outcome
	}

	if r.cfg.SettleDelay > 0 {
		if err := chromedp.Run(browserCtx, chromedp.Sleep(r.cfg.SettleDelay)); err != nil {
			return snapshot.Capture{}, fmt.Errorf("%w: settle: %w", snapshot.ErrCapture, err)
		}
	}

	buf, err := r.capture(browserCtx)
	if err != nil {
		return snapshot.Capture{}, fmt.Errorf("%w: %w", snapshot.ErrCapture, err)
	}
	if len(buf) == 0 {
		return snapshot.Capture{}, fmt.Errorf("%w: empty screenshot", snapshot.ErrCapture)
	}
	dims, _, err := image.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		return snapshot.Capture{}, fmt.Errorf("%w: decode screenshot: %w", snapshot.ErrCapture, err)
	}

	r.logger.Debug("page captured",
		zap.String("url", r.cfg.TargetURL),
		zap.String("mode", string(r.cfg.CaptureMode)),
		zap.Int("width", dims.Width),
		zap.Int("height", dims.Height),
		zap.String("consent", outcome.String()),
		zap.Duration("duration", time.Since(start)),
	)

	return snapshot.Capture{
		PNG:     buf,
		Width:   dims.Width,
		Height:  dims.Height,
		Consent: outcome,
	}, nil
}

func (r *Renderer) prepareActions() []chromedp.Action {
	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable network domain: %w", err)
			}
			err := emulation.SetDeviceMetricsOverride(int64(r.cfg.ViewportWidth), int64(r.cfg.ViewportHeight), 1, false).Do(ctx)
			if err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
			if r.cfg.UserAgent != "" {
				if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
					return fmt.Errorf("set user-agent: %w", err)
				}
			}
			return nil
		}),
	}
	if r.consent != nil {
		actions = append(actions, r.consent.Prepare(r.cfg.TargetURL))
	}
	return actions
}

// navigate loads the page and blocks until the ready condition holds or the
// navigation timeout expires.
func (r *Renderer) navigate(ctx context.Context, idle *idleTracker) error {
	navCtx, cancel := context.WithTimeout(ctx, r.cfg.NavigationTimeout)
	defer cancel()

	idle.reset()
	actions := []chromedp.Action{chromedp.Navigate(r.cfg.TargetURL)}
	switch r.cfg.Ready {
	case ReadyNetworkIdle:
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return idle.wait(ctx, r.cfg.IdleQuiet)
		}))
	case ReadySelector:
		actions = append(actions, chromedp.WaitVisible(r.cfg.ReadySelector, chromedp.ByQuery))
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("not ready after %s (%s): %w", r.cfg.NavigationTimeout, r.cfg.Ready, err)
		}
		return err
	}
	return nil
}

func (r *Renderer) capture(ctx context.Context) ([]byte, error) {
	var buf []byte
	switch r.cfg.CaptureMode {
	case CaptureFull:
		if err := chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
			return nil, fmt.Errorf("full page screenshot: %w", err)
		}
	case CaptureElement:
		elemCtx, cancel := context.WithTimeout(ctx, r.cfg.NavigationTimeout)
		defer cancel()
		if err := chromedp.Run(elemCtx, chromedp.Screenshot(r.cfg.CaptureSelector, &buf, chromedp.NodeVisible, chromedp.ByQuery)); err != nil {
			return nil, fmt.Errorf("element %q screenshot: %w", r.cfg.CaptureSelector, err)
		}
	default:
		if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
			return nil, fmt.Errorf("viewport screenshot: %w", err)
		}
	}
	return buf, nil
}
