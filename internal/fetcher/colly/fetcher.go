// Package collyfetcher implements catalog.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
	"github.com/JakeFAU/classifieds-crawler/internal/metrics"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// Parallelism caps concurrent requests per host across all sessions.
	Parallelism int
	// Delay is the minimum pause between requests to the same host.
	Delay time.Duration
}

// Waiter throttles requests by URL host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher opens sessions over a shared Colly backend, so connection pooling
// and per-host limits apply across concurrent address runs.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       Waiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter, logger *zap.Logger) (*Fetcher, error) {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.ParseHTTPErrorResponse = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.Parallelism > 0 || cfg.Delay > 0 {
		if err := c.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Parallelism: cfg.Parallelism,
			Delay:       cfg.Delay,
		}); err != nil {
			return nil, fmt.Errorf("colly limit rule: %w", err)
		}
	}
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
		logger:        logger.Named("fetcher"),
	}, nil
}

// Open starts a fetch session for one address run.
func (f *Fetcher) Open(_ context.Context) (catalog.Session, error) {
	return &Session{fetcher: f}, nil
}

// Session fetches pages for a single address run. It is safe for
// concurrent use by the pages of that run.
type Session struct {
	fetcher *Fetcher
	closed  atomic.Bool
	mu      sync.Mutex
	pages   int
	bytes   int
}

// Get fetches url and returns the body. Non-2xx responses and transport
// failures are reported as *catalog.FetchError.
func (s *Session) Get(ctx context.Context, url string) ([]byte, error) {
	if s.closed.Load() {
		return nil, &catalog.FetchError{URL: url, Err: catalog.ErrSessionClosed}
	}
	f := s.fetcher
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return nil, &catalog.FetchError{URL: url, Err: err}
		}
	}

	var (
		result   pageResult
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, &result, &fetchErr)

	completed, err := f.runCollector(ctx, collector, url, &fetchErr)
	duration := time.Since(start)
	if err != nil {
		status := 0
		if completed {
			status = result.status
		}
		metrics.ObservePage(url, statusLabel(status), 0, duration)
		f.logger.Debug("page fetch failed", zap.String("url", url), zap.Int("status", status), zap.Error(err))
		return nil, &catalog.FetchError{URL: url, StatusCode: status, Err: err}
	}
	if result.status < http.StatusOK || result.status >= http.StatusMultipleChoices {
		metrics.ObservePage(url, statusLabel(result.status), len(result.body), duration)
		return nil, &catalog.FetchError{
			URL:        url,
			StatusCode: result.status,
			Err:        errors.New(http.StatusText(result.status)),
		}
	}

	metrics.ObservePage(url, statusLabel(result.status), len(result.body), duration)
	s.mu.Lock()
	s.pages++
	s.bytes += len(result.body)
	s.mu.Unlock()
	f.logger.Debug("page fetched",
		zap.String("url", url),
		zap.Int("bytes", len(result.body)),
		zap.Duration("duration", duration),
	)
	return result.body, nil
}

// Close ends the session. Later Get calls fail.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetcher.logger.Debug("fetch session closed", zap.Int("pages", s.pages), zap.Int("bytes", s.bytes))
	return nil
}

// Stats returns the number of successful fetches and bytes read.
func (s *Session) Stats() (pages, bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages, s.bytes
}

type pageResult struct {
	status int
	body   []byte
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *pageResult, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml")
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
		}
		*fetchErr = err
	})
}

// runCollector visits url and reports whether the visit completed, so the
// caller knows the hook results are safe to read.
func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	url string,
	fetchErr *error,
) (bool, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return false, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return true, fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return true, fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return true, nil
	}
}

func statusLabel(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status)
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
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
