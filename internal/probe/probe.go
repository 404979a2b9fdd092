// Package probe checks that the target page answers before a browser is
// launched for it.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/radar-snapshot/internal/snapshot"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxBodySize = 64 * 1024
)

// Config controls the pre-flight request.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
}

// Prober implements snapshot.Prober with a single colly GET.
type Prober struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Prober.
func New(cfg Config) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(cfg.MaxBodySize),
		colly.ParseHTTPErrorResponse(),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	return &Prober{cfg: cfg, baseCollector: c}
}

// Probe issues a GET to url. Transport failures and 5xx answers wrap
// snapshot.ErrProbe; any other status counts as reachable.
func (p *Prober) Probe(ctx context.Context, url string) (snapshot.ProbeResult, error) {
	var (
		result   = snapshot.ProbeResult{URL: url}
		fetchErr error
	)
	collector := p.baseCollector.Clone()
	start := time.Now()

	collector.OnResponse(func(r *colly.Response) {
		result.URL = r.Request.URL.String()
		result.StatusCode = r.StatusCode
		result.Duration = time.Since(start)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		// The visit goroutine may still write result.
		return snapshot.ProbeResult{URL: url}, fmt.Errorf("%w: %s: %w", snapshot.ErrProbe, url, ctx.Err())
	case err := <-done:
		if err == nil {
			err = fetchErr
		}
		if err != nil {
			return result, fmt.Errorf("%w: %s: %w", snapshot.ErrProbe, url, err)
		}
	}
	if result.StatusCode >= http.StatusInternalServerError {
		return result, fmt.Errorf("%w: %s answered %d", snapshot.ErrProbe, url, result.StatusCode)
	}
	return result, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
