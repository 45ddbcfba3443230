package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/gocolly/colly/v2"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Fetcher returns the HTML of a merchant page.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// StatusError is a non-2xx page response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// CollyFetcher fetches pages over plain HTTP. Each fetch runs on a clone of
// the base collector so callbacks never pile up across calls.
type CollyFetcher struct {
	Collector *colly.Collector
}

func NewCollyFetcher(timeout time.Duration) *CollyFetcher {
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
	)
	if timeout > 0 {
		c.SetRequestTimeout(timeout)
	}
	return &CollyFetcher{Collector: c}
}

func (f *CollyFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	c := f.Collector.Clone()
	c.Context = ctx

	var (
		body   string
		status int
	)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")
		r.Headers.Set("Cache-Control", "no-cache")
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = string(r.Body)
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	if err := c.Visit(pageURL); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if status >= 300 {
			return "", &StatusError{StatusCode: status}
		}
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", &StatusError{StatusCode: status}
	}
	return body, nil
}

// ChromeFetcher renders pages in headless Chrome for merchants that build
// their price markup client-side.
type ChromeFetcher struct {
	Settle time.Duration
	Logger *slog.Logger
}

func (f *ChromeFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(userAgent),
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	settle := f.Settle
	if settle <= 0 {
		settle = 1500 * time.Millisecond
	}

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady(`body`, chromedp.ByQuery),
		chromedp.Sleep(settle),
		chromedp.OuterHTML(`html`, &html, chromedp.ByQuery),
	)
	if err != nil {
		if f.Logger != nil {
			f.Logger.Debug("render failed", "url", pageURL, "error", err)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("chromedp render: %w", err)
	}
	return html, nil
}

var (
	_ Fetcher = (*CollyFetcher)(nil)
	_ Fetcher = (*ChromeFetcher)(nil)
)
