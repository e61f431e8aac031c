// Package errclass maps transport and HTTP failures into typed,
// retryability-annotated categories.
//
// The fetch layer uses the classification to decide between retry and
// abort; the orchestrator uses it to decide whether a failure is
// log-and-continue or terminal for the affected project.
package errclass

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind is the failure category.
type Kind string

const (
	KindNetwork        Kind = "network"
	KindAuth           Kind = "auth"
	KindRateLimit      Kind = "rateLimit"
	KindPermission     Kind = "permission"
	KindNotFound       Kind = "notFound"
	KindInvalidRequest Kind = "invalidRequest"
	KindServerError    Kind = "serverError"
	KindTimeout        Kind = "timeout"
	KindUnknown        Kind = "unknown"
)

// defaultRetryAfter is used for rate-limit responses that carry no
// Retry-After hint.
const defaultRetryAfter = 60 * time.Second

// Classification annotates an error with its category and retry policy.
type Classification struct {
	Kind        Kind
	Retryable   bool
	UserMessage string

	// RetryAfter is a server-supplied wait hint, set only for rateLimit.
	RetryAfter time.Duration
}

// statusCoder is implemented by errors that carry an HTTP status code
// (see remote.HTTPError).
type statusCoder interface {
	HTTPStatus() int
}

// retryAfterHinter is implemented by errors that carry a Retry-After hint.
type retryAfterHinter interface {
	RetryAfterHint() (time.Duration, bool)
}

// Classify maps err into a Classification.
//
// Retryable is true for network, rateLimit, timeout, and serverError;
// false for everything else. A nil error classifies as unknown and
// non-retryable.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindUnknown, UserMessage: "no error"}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{
			Kind:        KindTimeout,
			Retryable:   true,
			UserMessage: "the request timed out",
		}
	}
	if errors.Is(err, context.Canceled) {
		return Classification{
			Kind:        KindUnknown,
			UserMessage: "the operation was cancelled",
		}
	}

	// HTTP status takes precedence over transport classification so a
	// wrapped url.Error carrying a status body classifies by status.
	var sc statusCoder
	if errors.As(err, &sc) {
		return classifyStatus(sc.HTTPStatus(), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Classification{
				Kind:        KindTimeout,
				Retryable:   true,
				UserMessage: "the request timed out",
			}
		}
		return Classification{
			Kind:        KindNetwork,
			Retryable:   true,
			UserMessage: "a network error occurred while contacting the tracker",
		}
	}

	return Classification{
		Kind:        KindUnknown,
		UserMessage: fmt.Sprintf("an unexpected error occurred: %v", err),
	}
}

// classifyStatus maps an HTTP status code to a Classification.
func classifyStatus(status int, err error) Classification {
	switch {
	case status == 401:
		return Classification{
			Kind:        KindAuth,
			UserMessage: "authentication failed; check the configured credentials",
		}
	case status == 403:
		return Classification{
			Kind:        KindPermission,
			UserMessage: "the configured account lacks permission for this resource",
		}
	case status == 404:
		return Classification{
			Kind:        KindNotFound,
			UserMessage: "the requested resource was not found",
		}
	case status == 408:
		return Classification{
			Kind:        KindTimeout,
			Retryable:   true,
			UserMessage: "the request timed out",
		}
	case status == 429:
		c := Classification{
			Kind:        KindRateLimit,
			Retryable:   true,
			RetryAfter:  defaultRetryAfter,
			UserMessage: "the tracker is rate limiting requests",
		}
		var hinter retryAfterHinter
		if errors.As(err, &hinter) {
			if d, ok := hinter.RetryAfterHint(); ok {
				c.RetryAfter = d
			}
		}
		return c
	case status == 400 || status == 422:
		return Classification{
			Kind:        KindInvalidRequest,
			UserMessage: "the tracker rejected the request as invalid",
		}
	case status >= 500:
		return Classification{
			Kind:        KindServerError,
			Retryable:   true,
			UserMessage: fmt.Sprintf("the tracker returned a server error (%d)", status),
		}
	default:
		return Classification{
			Kind:        KindUnknown,
			UserMessage: fmt.Sprintf("the tracker returned an unexpected status (%d)", status),
		}
	}
}

// Retryable is a convenience wrapper around Classify for callers that
// only need the retry decision.
func Retryable(err error) bool {
	return Classify(err).Retryable
}
