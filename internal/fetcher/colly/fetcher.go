// Package collyfetcher implements the pipeline Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/urlfetch/internal/pipeline"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 10 * 1024 * 1024
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout bounds a whole request, from dial to the last body byte.
	Timeout      time.Duration
	MaxBodyBytes int
}

// Fetcher implements pipeline.Fetcher on top of a shared Colly collector. Every
// Fetch clones the base collector, so all requests share one http.Client and
// its connection pool while keeping per-request callbacks isolated.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. It is safe for concurrent use.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	c := colly.NewCollector(
		colly.Async(false),
		// Input lines are not deduplicated; the same URL may be fetched twice.
		colly.AllowURLRevisit(),
		// Non-2xx responses are classified by the pipeline, not reported as errors.
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport())
	// The backend client is shared by every clone, so the timeout is set once here.
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single GET and classifies the response.
func (f *Fetcher) Fetch(ctx context.Context, url string) pipeline.Outcome {
	start := time.Now()
	var (
		result   *colly.Response
		fetchErr error
	)
	collector := f.buildCollector(ctx, &result, &fetchErr)

	var out pipeline.Outcome
	if err := collector.Visit(url); err != nil {
		out = pipeline.Failed(url, visitError(err, fetchErr))
	} else if fetchErr != nil {
		out = pipeline.Failed(url, fetchErr)
	} else if result == nil {
		out = pipeline.Failed(url, errors.New("no response received"))
	} else {
		out = Classify(url, result.StatusCode, contentType(result), result.Body)
	}
	out.Duration = time.Since(start)
	return out
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	result **colly.Response,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	// Context is applied to the outgoing request, so cancellation aborts it.
	collector.Context = ctx
	configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, result **colly.Response, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = r
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func visitError(visitErr, hookErr error) error {
	if hookErr != nil && !errors.Is(visitErr, hookErr) {
		return errors.Join(visitErr, hookErr)
	}
	return visitErr
}

func contentType(r *colly.Response) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
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
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
