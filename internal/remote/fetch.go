package remote

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mirrorboard/ticketmirror/internal/errclass"
)

// maxBackoff caps the exponential backoff between retries.
const maxBackoff = 30 * time.Second

// Fetcher wraps a Client with classified retry and in-order pagination.
type Fetcher struct {
	client *Client

	// MaxRetries is the number of retries after the first attempt.
	maxRetries int

	// baseDelay seeds the exponential backoff (delay = base * 2^attempt).
	baseDelay time.Duration

	logger *log.Logger
}

// NewFetcher creates a Fetcher.
//
// maxRetries retries are attempted on retryable classified errors with
// exponential backoff seeded by retryDelay and capped at 30s. A rate-limit
// response's Retry-After hint overrides the computed delay.
func NewFetcher(client *Client, maxRetries int, retryDelay time.Duration, logger *log.Logger) *Fetcher {
	if logger == nil {
		logger = log.New(os.Stderr, "[fetch] ", log.LstdFlags)
	}
	return &Fetcher{
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  retryDelay,
		logger:     logger,
	}
}

// Client returns the underlying API client.
func (f *Fetcher) Client() *Client { return f.client }

// FetchAll fetches every issue matching q, page by page, strictly in
// order: page n's request offset depends on what page n-1 returned.
//
// onPage, when non-nil, is invoked after each page with the running
// fetched count and the reported total; returning false stops the
// pagination cooperatively after the current page (the fetch already in
// flight is never interrupted). Ctx cancellation is checked before every
// page request and between retry attempts.
func (f *Fetcher) FetchAll(ctx context.Context, q Query, pageSize int, onPage func(fetched, total int) bool) ([]Issue, error) {
	var issues []Issue
	startAt := 0

	for {
		if err := ctx.Err(); err != nil {
			return issues, err
		}

		page, err := f.fetchPage(ctx, q, startAt, pageSize)
		if err != nil {
			return issues, err
		}

		issues = append(issues, page.Issues...)
		startAt += len(page.Issues)

		if onPage != nil && !onPage(len(issues), page.Total) {
			return issues, nil
		}

		if startAt >= page.Total || len(page.Issues) == 0 {
			return issues, nil
		}
	}
}

// fetchPage fetches a single page with a bounded retry loop.
//
// The loop is explicit (no recursion): it tracks the attempt count,
// computes the delay, and re-checks cancellation before every attempt.
func (f *Fetcher) fetchPage(ctx context.Context, q Query, startAt, pageSize int) (*Page, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			delay := f.backoff(attempt-1, lastErr)
			f.logger.Printf("Retrying page at offset %d in %s (attempt %d/%d): %v",
				startAt, delay, attempt, f.maxRetries, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		page, err := f.client.SearchPage(ctx, q.String(), startAt, pageSize)
		if err == nil {
			return page, nil
		}
		lastErr = err

		c := errclass.Classify(err)
		if !c.Retryable {
			return nil, fmt.Errorf("%s: %w", c.UserMessage, err)
		}
	}

	return nil, fmt.Errorf("giving up after %d retries: %w", f.maxRetries, lastErr)
}

// backoff computes the delay before retry number attempt (0-based).
func (f *Fetcher) backoff(attempt int, err error) time.Duration {
	c := errclass.Classify(err)
	if c.Kind == errclass.KindRateLimit && c.RetryAfter > 0 {
		return c.RetryAfter
	}

	delay := f.baseDelay << attempt
	if delay > maxBackoff || delay <= 0 {
		delay = maxBackoff
	}
	return delay
}
