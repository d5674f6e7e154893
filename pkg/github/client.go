// Package github provides the GitHub REST client and webhook decoding used by the bot.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/codeGROOVE-dev/slackin/pkg/cache"
)

// DefaultBaseURL is the public GitHub API endpoint.
const DefaultBaseURL = "https://api.github.com"

// Client handles all GitHub API interactions.
type Client struct {
	tokenExpiry     time.Time
	httpClient      HTTPDoer
	installTokens   *cache.Cache[string]
	installationIDs map[string]int64
	baseURL         string
	appID           string
	token           string
	privateKeyPath  string
	privateKey      []byte
	retryDelay      time.Duration
	tokenMutex      sync.RWMutex
	isAppAuth       bool
	dryRun          bool
}

// Config holds configuration for creating a new GitHub client.
type Config struct {
	HTTPClient  HTTPDoer // nil means a plain http.Client with HTTPTimeout
	BaseURL     string   // empty means DefaultBaseURL
	AppID       string
	AppKeyPath  string
	AppKey      []byte // PEM content; wins over AppKeyPath
	Token       string // personal access token (for non-app auth)
	HTTPTimeout time.Duration
	UseAppAuth  bool
	DryRun      bool // log mutations instead of sending them
}

// New creates a new GitHub API client using a personal token or GitHub App authentication.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var c *Client
	var err error
	if cfg.UseAppAuth {
		c, err = newAppAuthClient(cfg)
	} else {
		c, err = newPersonalTokenClient(ctx, cfg.Token)
	}
	if err != nil {
		return nil, err
	}

	c.httpClient = cfg.HTTPClient
	if c.httpClient == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	c.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	c.dryRun = cfg.DryRun
	c.retryDelay = initialRetryDelay
	if c.dryRun {
		slog.Info("GitHub client in dry-run mode, mutations will only be logged", "component", "github")
	}
	return c, nil
}

// RememberInstallation records the app installation serving owner, as seen in webhook payloads.
func (c *Client) RememberInstallation(owner string, installationID int64) {
	if owner == "" || installationID == 0 {
		return
	}
	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()
	if c.installationIDs == nil {
		c.installationIDs = make(map[string]int64)
	}
	c.installationIDs[strings.ToLower(owner)] = installationID
}

// Close stops the installation token cache.
func (c *Client) Close() {
	if c.installTokens != nil {
		c.installTokens.Close()
	}
}

// Token returns a token usable for owner: the installation token under App authentication,
// the personal token otherwise.
func (c *Client) Token(ctx context.Context, owner string) (string, error) {
	if c.isAppAuth {
		return c.installationToken(ctx, owner)
	}
	c.tokenMutex.RLock()
	defer c.tokenMutex.RUnlock()
	return c.token, nil
}

// drainAndCloseBody drains and closes an HTTP response body to prevent resource leaks.
func drainAndCloseBody(body io.ReadCloser) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		slog.Warn("Failed to drain response body", "error", err)
	}
	if err := body.Close(); err != nil {
		slog.Warn("Failed to close response body", "error", err)
	}
}

// errTransient marks failures worth retrying: rate limits, 5xx and transport errors.
var errTransient = errors.New("transient failure")

// doRequest makes an authenticated request for owner's resources, retrying transient failures.
func (c *Client) doRequest(ctx context.Context, owner, method, path string, body any) (*http.Response, error) {
	apiURL := c.baseURL + path

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	authToken, scheme, err := c.authorization(ctx, owner)
	if err != nil {
		return nil, err
	}

	sanitizedURL := sanitizeURLForLogging(apiURL)
	slog.Info("HTTP request", "component", "http", "method", method, "url", sanitizedURL)

	var resp *http.Response
	err = retryWithBackoff(ctx, method+" "+sanitizedURL, c.retryDelay, func() error {
		var bodyReader io.Reader = http.NoBody
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", scheme+" "+authToken)
		req.Header.Set("Accept", "application/vnd.github.v3+json")
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		localResp, err := c.httpClient.Do(req) //nolint:bodyclose // body is closed by the caller
		if err != nil {
			return fmt.Errorf("%w: request failed: %w", errTransient, err)
		}
		if localResp.StatusCode == http.StatusTooManyRequests {
			drainAndCloseBody(localResp.Body)
			slog.Warn("Rate limited - will retry with backoff", "method", method, "url", sanitizedURL, "status", 429)
			return fmt.Errorf("%w: http %d: rate limited", errTransient, localResp.StatusCode)
		}
		if localResp.StatusCode >= http.StatusInternalServerError && localResp.StatusCode < 600 {
			drainAndCloseBody(localResp.Body)
			slog.Warn("Server error - will retry with backoff", "method", method, "url", sanitizedURL, "status", localResp.StatusCode)
			return fmt.Errorf("%w: http %d: server error", errTransient, localResp.StatusCode)
		}
		resp = localResp
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("HTTP response", "component", "http", "method", method, "url", sanitizedURL, "status", resp.StatusCode)
	return resp, nil
}

// authorization picks the credential for owner.
func (c *Client) authorization(ctx context.Context, owner string) (token, scheme string, err error) {
	if !c.isAppAuth {
		c.tokenMutex.RLock()
		defer c.tokenMutex.RUnlock()
		return c.token, "token", nil
	}
	token, err = c.installationToken(ctx, owner)
	if err != nil {
		return "", "", fmt.Errorf("installation token for %s: %w", owner, err)
	}
	return token, "Bearer", nil
}

// Retry constants.
const (
	maxRetryAttempts  = 5
	initialRetryDelay = 1 * time.Second
	maxRetryDelay     = 30 * time.Second
)

// retryWithBackoff executes fn with exponential backoff, retrying only transient failures.
func retryWithBackoff(ctx context.Context, operation string, delay time.Duration, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(uint(maxRetryAttempts)),
		retry.Delay(delay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(delay/4+time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			slog.Info("Retry attempt", "component", "retry", "operation", operation, "attempt", n+1, "max_attempts", maxRetryAttempts, "error", err)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errTransient)
		}),
	)
}

// expectStatus consumes resp and returns an error unless it carries one of the wanted codes.
func expectStatus(resp *http.Response, op string, want ...int) error {
	defer drainAndCloseBody(resp.Body)
	for _, w := range want {
		if resp.StatusCode == w {
			return nil
		}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("%s: status %d (could not read body: %w)", op, resp.StatusCode, err)
	}
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}

// RequestReviewers asks GitHub to request reviews from reviewers.
func (c *Client) RequestReviewers(ctx context.Context, owner, repo string, number int, reviewers []string) error {
	if len(reviewers) == 0 {
		return nil
	}
	if c.dryRun {
		slog.Info("DRY RUN: would request reviewers", "owner", owner, "repo", repo, "pr", number, "reviewers", reviewers)
		return nil
	}

	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/requested_reviewers", url.PathEscape(owner), url.PathEscape(repo), number)
	resp, err := c.doRequest(ctx, owner, http.MethodPost, path, map[string]any{"reviewers": reviewers}) //nolint:bodyclose // closed by expectStatus
	if err != nil {
		return fmt.Errorf("failed to request reviewers: %w", err)
	}
	if err := expectStatus(resp, "failed to request reviewers", http.StatusCreated, http.StatusOK); err != nil {
		return err
	}

	slog.Info("Requested reviewers on PR", "owner", owner, "repo", repo, "pr", number, "reviewers", reviewers)
	return nil
}

// AddAssignees assigns users to the pull request (issue) number.
func (c *Client) AddAssignees(ctx context.Context, owner, repo string, number int, assignees []string) error {
	if len(assignees) == 0 {
		return nil
	}
	if c.dryRun {
		slog.Info("DRY RUN: would add assignees", "owner", owner, "repo", repo, "pr", number, "assignees", assignees)
		return nil
	}

	path := fmt.Sprintf("/repos/%s/%s/issues/%d/assignees", url.PathEscape(owner), url.PathEscape(repo), number)
	resp, err := c.doRequest(ctx, owner, http.MethodPost, path, map[string]any{"assignees": assignees}) //nolint:bodyclose // closed by expectStatus
	if err != nil {
		return fmt.Errorf("failed to add assignees: %w", err)
	}
	if err := expectStatus(resp, "failed to add assignees", http.StatusCreated, http.StatusOK); err != nil {
		return err
	}

	slog.Info("Added assignees to PR", "owner", owner, "repo", repo, "pr", number, "assignees", assignees)
	return nil
}

// sanitizeURLForLogging strips the query string, which may carry credentials.
func sanitizeURLForLogging(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[invalid-url]"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}
