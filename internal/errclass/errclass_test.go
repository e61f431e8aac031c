package errclass

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"
)

// statusError is a test double for remote.HTTPError.
type statusError struct {
	status     int
	retryAfter time.Duration
	hasHint    bool
}

func (e *statusError) Error() string   { return fmt.Sprintf("status %d", e.status) }
func (e *statusError) HTTPStatus() int { return e.status }
func (e *statusError) RetryAfterHint() (time.Duration, bool) {
	return e.retryAfter, e.hasHint
}

// timeoutError fakes a net.Error timeout.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyStatusCodes(t *testing.T) {
	tests := []struct {
		status    int
		wantKind  Kind
		retryable bool
	}{
		{401, KindAuth, false},
		{403, KindPermission, false},
		{404, KindNotFound, false},
		{408, KindTimeout, true},
		{429, KindRateLimit, true},
		{400, KindInvalidRequest, false},
		{422, KindInvalidRequest, false},
		{500, KindServerError, true},
		{503, KindServerError, true},
		{418, KindUnknown, false},
	}

	for _, tt := range tests {
		c := Classify(&statusError{status: tt.status})
		if c.Kind != tt.wantKind {
			t.Errorf("status %d: expected kind %s, got %s", tt.status, tt.wantKind, c.Kind)
		}
		if c.Retryable != tt.retryable {
			t.Errorf("status %d: expected retryable=%v, got %v", tt.status, tt.retryable, c.Retryable)
		}
		if c.UserMessage == "" {
			t.Errorf("status %d: expected a user message", tt.status)
		}
	}
}

func TestClassifyWrappedStatusError(t *testing.T) {
	err := fmt.Errorf("search page 3: %w", &statusError{status: 500})
	c := Classify(err)
	if c.Kind != KindServerError {
		t.Errorf("expected serverError for wrapped status, got %s", c.Kind)
	}
	if !c.Retryable {
		t.Error("expected wrapped server error to be retryable")
	}
}

func TestClassifyRateLimitHint(t *testing.T) {
	c := Classify(&statusError{status: 429, retryAfter: 12 * time.Second, hasHint: true})
	if c.RetryAfter != 12*time.Second {
		t.Errorf("expected retry-after 12s from hint, got %v", c.RetryAfter)
	}

	// Without a hint the default applies.
	c = Classify(&statusError{status: 429})
	if c.RetryAfter != 60*time.Second {
		t.Errorf("expected default retry-after 60s, got %v", c.RetryAfter)
	}
}

func TestClassifyTransportErrors(t *testing.T) {
	c := Classify(timeoutError{})
	if c.Kind != KindTimeout || !c.Retryable {
		t.Errorf("expected retryable timeout, got %+v", c)
	}

	c = Classify(&url.Error{Op: "Get", URL: "http://example.com", Err: errors.New("connection refused")})
	if c.Kind != KindNetwork || !c.Retryable {
		t.Errorf("expected retryable network error, got %+v", c)
	}
}

func TestClassifyContextErrors(t *testing.T) {
	c := Classify(context.DeadlineExceeded)
	if c.Kind != KindTimeout || !c.Retryable {
		t.Errorf("expected retryable timeout for deadline, got %+v", c)
	}

	c = Classify(context.Canceled)
	if c.Kind != KindUnknown || c.Retryable {
		t.Errorf("expected non-retryable unknown for cancellation, got %+v", c)
	}
}

func TestClassifyUnknown(t *testing.T) {
	c := Classify(errors.New("something odd"))
	if c.Kind != KindUnknown || c.Retryable {
		t.Errorf("expected non-retryable unknown, got %+v", c)
	}
}
