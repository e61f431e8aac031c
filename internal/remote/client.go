// Package remote implements the client for the remote issue tracker's
// REST API: project enumeration, paginated issue search, and a cheap
// change probe for incremental syncs.
//
// Authentication is basic credentials (username + API token). Every call
// carries a per-request timeout through its context; the underlying HTTP
// client enforces a hard cap as well.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout is the hard per-call timeout.
const DefaultTimeout = 30 * time.Second

// HTTPError is a non-2xx response from the tracker.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string

	// RetryAfter is the parsed Retry-After header, 0 when absent.
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("tracker returned %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("tracker returned %s", e.Status)
}

// HTTPStatus implements the errclass status interface.
func (e *HTTPError) HTTPStatus() int { return e.StatusCode }

// RetryAfterHint implements the errclass retry-after interface.
func (e *HTTPError) RetryAfterHint() (time.Duration, bool) {
	return e.RetryAfter, e.RetryAfter > 0
}

// Project is one remote project (the sync entity).
type Project struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Issue is one raw issue from a search response. Fixed columns are
// extracted later; Fields keeps the full payload for the mapping table
// and the attribute bag.
type Issue struct {
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields"`
}

// Page is one page of a search response.
type Page struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// ClientConfig holds the settings for NewClient.
type ClientConfig struct {
	BaseURL  string
	Username string
	APIToken string

	// Timeout defaults to DefaultTimeout when zero.
	Timeout time.Duration

	// Logger defaults to a stderr logger when nil.
	Logger *log.Logger
}

// Client talks to the remote tracker API.
type Client struct {
	baseURL  string
	username string
	token    string
	http     *http.Client
	logger   *log.Logger
}

// NewClient creates a tracker API client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		token:    cfg.APIToken,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// ListProjects enumerates all remote projects.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.get(ctx, "/rest/api/2/project", nil, &projects); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// SearchPage fetches one page of issues matching query.
//
// Pages must be requested strictly in order: each request's startAt is
// derived from how many issues the prior pages returned.
func (c *Client) SearchPage(ctx context.Context, query string, startAt, maxResults int) (*Page, error) {
	params := url.Values{}
	params.Set("jql", query)
	params.Set("startAt", strconv.Itoa(startAt))
	params.Set("maxResults", strconv.Itoa(maxResults))

	var page Page
	if err := c.get(ctx, "/rest/api/2/search", params, &page); err != nil {
		return nil, fmt.Errorf("search failed at offset %d: %w", startAt, err)
	}
	return &page, nil
}

// CountSince is the cheap change probe for incremental syncs: it asks for
// zero results and reads only the match total.
func (c *Client) CountSince(ctx context.Context, project string, since time.Time) (int, error) {
	q := Query{Project: project, UpdatedSince: &since}

	params := url.Values{}
	params.Set("jql", q.String())
	params.Set("startAt", "0")
	params.Set("maxResults", "0")

	var page Page
	if err := c.get(ctx, "/rest/api/2/search", params, &page); err != nil {
		return 0, fmt.Errorf("change probe for %s failed: %w", project, err)
	}
	return page.Total, nil
}

// get performs an authenticated GET and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newHTTPError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// newHTTPError builds an HTTPError from a non-2xx response, capturing a
// bounded amount of body for diagnostics.
func newHTTPError(resp *http.Response) *HTTPError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	e := &HTTPError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}
