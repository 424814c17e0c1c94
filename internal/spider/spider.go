// Package spider crawls the book catalogue with colly and turns product
// pages into catalog records.
package spider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
	"github.com/JakeFAU/book-catalog-pipeline/internal/metrics"
)

// DefaultUserAgent is sent when Config.UserAgent is empty.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Config controls crawl behavior.
type Config struct {
	StartURLs        []string
	AllowedDomains   []string
	UserAgent        string
	RespectRobots    bool
	Delay            time.Duration
	RandomDelay      time.Duration
	Parallelism      int
	Timeout          time.Duration
	MaxRetries       int
	RetryStatusCodes []int
	MaxDepth         int
}

// Sink receives scraped records.
type Sink interface {
	Enqueue(ctx context.Context, rec catalog.Record) error
}

// Stats summarizes one crawl.
type Stats struct {
	Pages    int64
	Products int64
	Errors   int64
	Retries  int64
}

// Spider walks listing pages, follows product links and emits one record per
// product page.
type Spider struct {
	cfg    Config
	sink   Sink
	retry  *RetryPolicy
	logger *zap.Logger

	pages    atomic.Int64
	products atomic.Int64
	errs     atomic.Int64
	retries  atomic.Int64
}

// New builds a Spider.
func New(cfg Config, sink Sink, logger *zap.Logger) (*Spider, error) {
	if len(cfg.StartURLs) == 0 {
		return nil, errors.New("spider: at least one start url is required")
	}
	if sink == nil {
		return nil, errors.New("spider: sink is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Spider{
		cfg:    cfg,
		sink:   sink,
		retry:  NewRetryPolicy(cfg.MaxRetries, cfg.RetryStatusCodes),
		logger: logger,
	}, nil
}

// Run crawls from the start URLs until every reachable page is processed or
// ctx is canceled.
func (s *Spider) Run(ctx context.Context) (Stats, error) {
	c, err := s.initCollector(ctx)
	if err != nil {
		return s.stats(), err
	}
	for _, u := range s.cfg.StartURLs {
		if err := c.Visit(u); err != nil {
			s.logger.Warn("start url rejected", zap.String("url", u), zap.Error(err))
		}
	}
	c.Wait()
	if err := ctx.Err(); err != nil {
		return s.stats(), fmt.Errorf("crawl canceled: %w", err)
	}
	return s.stats(), nil
}

func (s *Spider) stats() Stats {
	return Stats{
		Pages:    s.pages.Load(),
		Products: s.products.Load(),
		Errors:   s.errs.Load(),
		Retries:  s.retries.Load(),
	}
}

func (s *Spider) initCollector(ctx context.Context) (*colly.Collector, error) {
	opts := []colly.CollectorOption{
		colly.UserAgent(s.cfg.UserAgent),
		colly.Async(true),
		colly.StdlibContext(ctx),
	}
	if len(s.cfg.AllowedDomains) > 0 {
		opts = append(opts, colly.AllowedDomains(s.cfg.AllowedDomains...))
	}
	if s.cfg.MaxDepth > 0 {
		opts = append(opts, colly.MaxDepth(s.cfg.MaxDepth))
	}
	c := colly.NewCollector(opts...)
	c.IgnoreRobotsTxt = !s.cfg.RespectRobots
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(s.cfg.Timeout)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: s.cfg.Parallelism,
		Delay:       s.cfg.Delay,
		RandomDelay: s.cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("set crawl limits: %w", err)
	}

	c.OnResponse(func(r *colly.Response) {
		s.pages.Add(1)
		metrics.ObservePage(r.Request.URL.Host, strconv.Itoa(r.StatusCode), len(r.Body))
	})
	c.OnHTML("html", func(e *colly.HTMLElement) {
		s.handlePage(ctx, e)
	})
	c.OnError(func(r *colly.Response, err error) {
		s.handleError(ctx, r, err)
	})
	return c, nil
}

func (s *Spider) handlePage(ctx context.Context, e *colly.HTMLElement) {
	pageURL := e.Request.URL
	products, next := ListingLinks(e.DOM, pageURL)
	for _, link := range products {
		s.follow(e.Request, link)
	}
	if next != "" {
		s.follow(e.Request, next)
	}

	rec, ok := ParseProduct(e.DOM, pageURL)
	if !ok {
		return
	}
	if rec.Key() == "" {
		s.logger.Warn("product page without upc", zap.String("url", pageURL.String()))
		return
	}
	if err := s.sink.Enqueue(ctx, rec); err != nil {
		s.errs.Add(1)
		s.logger.Warn("enqueue record failed", zap.String("upc", rec.UPC), zap.Error(err))
		return
	}
	s.products.Add(1)
	s.logger.Debug("scraped product", zap.String("upc", rec.UPC), zap.String("url", pageURL.String()))
}

func (s *Spider) follow(r *colly.Request, link string) {
	err := r.Visit(link)
	if err == nil {
		return
	}
	var visited *colly.AlreadyVisitedError
	switch {
	case errors.As(err, &visited),
		errors.Is(err, colly.ErrMaxDepth),
		errors.Is(err, colly.ErrForbiddenDomain):
		return
	}
	s.logger.Debug("follow link failed", zap.String("url", link), zap.Error(err))
}

func (s *Spider) handleError(ctx context.Context, r *colly.Response, err error) {
	if r == nil || r.Request == nil {
		s.errs.Add(1)
		s.logger.Warn("crawl error", zap.Error(err))
		return
	}
	target := r.Request.URL.String()
	metrics.ObservePage(r.Request.URL.Host, statusLabel(r.StatusCode), len(r.Body))

	// Child requests share Ctx, so attempts are keyed by URL.
	key := "retry:" + target
	attempt, _ := r.Request.Ctx.GetAny(key).(int)
	if ctx.Err() == nil && s.retry.ShouldRetry(r.StatusCode, err, attempt) {
		r.Request.Ctx.Put(key, attempt+1)
		wait := s.retry.Backoff(attempt)
		select {
		case <-ctx.Done():
		case <-time.After(wait):
			s.retries.Add(1)
			s.logger.Info("retrying request",
				zap.String("url", target),
				zap.Int("status", r.StatusCode),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", wait))
			retryErr := r.Request.Retry()
			if retryErr == nil {
				return
			}
			err = errors.Join(err, retryErr)
		}
	}

	s.errs.Add(1)
	s.logger.Warn("request failed",
		zap.String("url", target),
		zap.Int("status", r.StatusCode),
		zap.Int("attempts", attempt+1),
		zap.Error(err))
}

func statusLabel(code int) string {
	if code == 0 {
		return "error"
	}
	return strconv.Itoa(code)
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
