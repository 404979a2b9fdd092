package consent

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/radar-snapshot/internal/snapshot"
)

// Default selectors for the radar page's cookie banner.
var DefaultBannerSelectors = []string{"#cookies-popup", ".cookies-bar", ".cookie-consent"}

const (
	defaultPollWindow   = 5 * time.Second
	defaultPollInterval = 250 * time.Millisecond
)

// Cookie is pre-seeded before navigation so the site never shows its banner.
// An empty Domain scopes the cookie to the target URL.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// Config controls the suppression strategies.
type Config struct {
	Enabled          bool
	Cookies          []Cookie
	BannerSelectors  []string
	AcceptSelectors  []string
	BlockURLPatterns []string
	PollWindow       time.Duration
	PollInterval     time.Duration
	SearchFrames     bool
}

// Result describes what a Suppress call did.
type Result struct {
	Outcome snapshot.ConsentOutcome
	Clicked int
	Removed int
	Err     error
}

// Suppressor applies the configured strategies inside a chromedp session.
type Suppressor struct {
	cfg    Config
	logger *zap.Logger
}

// New returns a Suppressor, filling in default selectors and poll timings.
func New(cfg Config, logger *zap.Logger) *Suppressor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.BannerSelectors) == 0 {
		cfg.BannerSelectors = append([]string(nil), DefaultBannerSelectors...)
	}
	if cfg.PollWindow <= 0 {
		cfg.PollWindow = defaultPollWindow
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollInterval > cfg.PollWindow {
		cfg.PollInterval = cfg.PollWindow
	}
	return &Suppressor{cfg: cfg, logger: logger}
}

// Prepare returns the pre-navigation action: seeding consent cookies and
// blocking consent tooling URLs. It expects the network domain to be enabled
// and never fails the surrounding chromedp.Run.
func (s *Suppressor) Prepare(targetURL string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if !s.cfg.Enabled {
			return nil
		}
		for _, c := range s.cfg.Cookies {
			if err := setCookie(ctx, targetURL, c); err != nil {
				s.logger.Warn("consent cookie not set", zap.String("cookie", c.Name), zap.Error(err))
			}
		}
		if len(s.cfg.BlockURLPatterns) > 0 {
			if err := network.SetBlockedURLs(s.cfg.BlockURLPatterns).Do(ctx); err != nil {
				s.logger.Warn("consent url blocking failed", zap.Error(err))
			}
		}
		return nil
	})
}

// Suppress waits up to PollWindow for a banner, clicks any accept controls and
// removes the banner nodes. ctx must be a chromedp context with a loaded page.
// With SearchFrames set, embedded documents of any origin are searched too.
func (s *Suppressor) Suppress(ctx context.Context) Result {
	if !s.cfg.Enabled {
		return Result{Outcome: snapshot.ConsentNotFound}
	}

	detectTop, err := detectScript(s.cfg.BannerSelectors, s.cfg.SearchFrames)
	if err != nil {
		return s.failed(err)
	}
	detectFrame, err := detectScript(s.cfg.BannerSelectors, false)
	if err != nil {
		return s.failed(err)
	}
	present, err := s.waitForBanner(ctx, detectTop, detectFrame)
	if err != nil {
		return s.failed(fmt.Errorf("poll for banner: %w", err))
	}
	if !present {
		s.logger.Debug("no consent banner found", zap.Duration("window", s.cfg.PollWindow))
		return Result{Outcome: snapshot.ConsentNotFound}
	}

	hideTop, err := suppressScript(s.cfg.BannerSelectors, s.cfg.AcceptSelectors, s.cfg.SearchFrames)
	if err != nil {
		return s.failed(err)
	}
	hideFrame, err := suppressScript(s.cfg.BannerSelectors, s.cfg.AcceptSelectors, false)
	if err != nil {
		return s.failed(err)
	}
	var rep report
	err = chromedp.Run(ctx,
		chromedp.Evaluate(hideTop, &rep),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return s.eachFrame(ctx, hideFrame, func() any { return &report{} }, func(v any) bool {
				r := v.(*report)
				rep.Clicked += r.Clicked
				rep.Removed += r.Removed
				rep.Remaining += r.Remaining
				return false
			})
		}),
	)
	if err != nil {
		return s.failed(fmt.Errorf("remove banner: %w", err))
	}

	res := Result{Clicked: rep.Clicked, Removed: rep.Removed}
	if rep.Remaining > 0 {
		res.Outcome = snapshot.ConsentFailed
		res.Err = fmt.Errorf("%d banner nodes still present", rep.Remaining)
		s.logger.Warn("consent banner persisted", zap.Int("remaining", rep.Remaining), zap.Int("removed", rep.Removed))
		return res
	}
	res.Outcome = snapshot.ConsentSuppressed
	s.logger.Info("consent banner suppressed", zap.Int("clicked", rep.Clicked), zap.Int("removed", rep.Removed))
	return res
}

// waitForBanner polls the page every PollInterval until a banner shows up.
// It reports false once PollWindow has passed without one.
func (s *Suppressor) waitForBanner(ctx context.Context, top, framed string) (bool, error) {
	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.PollWindow)
	defer cancel()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		var found bool
		err := chromedp.Run(pollCtx,
			chromedp.Evaluate(top, &found),
			chromedp.ActionFunc(func(ctx context.Context) error {
				if found {
					return nil
				}
				return s.eachFrame(ctx, framed, func() any { return new(bool) }, func(v any) bool {
					found = *v.(*bool)
					return found
				})
			}),
		)
		switch {
		case err == nil && found:
			return true, nil
		case ctx.Err() != nil:
			return false, ctx.Err()
		case pollCtx.Err() != nil:
			return false, nil
		case err != nil:
			return false, err
		}
		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, nil
		case <-ticker.C:
		}
	}
}

// eachFrame evaluates script in every frame the top document cannot reach.
// Frames that fail, typically because they detached, are skipped. visit
// returns true to stop early.
func (s *Suppressor) eachFrame(ctx context.Context, script string, alloc func() any, visit func(any) bool) error {
	if !s.cfg.SearchFrames {
		return nil
	}
	frames, err := isolatedFrames(ctx)
	if err != nil {
		return err
	}
	for _, id := range frames {
		out := alloc()
		if err := evaluateInFrame(ctx, id, script, out); err != nil {
			s.logger.Debug("frame skipped", zap.String("frame", string(id)), zap.Error(err))
			continue
		}
		if visit(out) {
			return nil
		}
	}
	return nil
}

func (s *Suppressor) failed(err error) Result {
	s.logger.Warn("consent suppression failed", zap.Error(err))
	return Result{Outcome: snapshot.ConsentFailed, Err: err}
}

func setCookie(ctx context.Context, targetURL string, c Cookie) error {
	params := network.SetCookie(c.Name, c.Value)
	if c.Domain != "" {
		params = params.WithDomain(c.Domain)
	} else {
		params = params.WithURL(targetURL)
	}
	if c.Path != "" {
		params = params.WithPath(c.Path)
	}
	return params.Do(ctx)
}
