package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

const (
	perPageLimit = 100 // GitHub API per_page limit
	maxPages     = 10
)

type login struct {
	Login string `json:"login"`
}

func logins(in []login) []string {
	out := make([]string, 0, len(in))
	for _, l := range in {
		if l.Login != "" {
			out = append(out, l.Login)
		}
	}
	return out
}

// PullRequest fetches a single pull request.
func (c *Client) PullRequest(ctx context.Context, owner, repo string, number int) (*types.PullRequest, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", url.PathEscape(owner), url.PathEscape(repo), number)
	resp, err := c.doRequest(ctx, owner, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get PR: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get PR (status %d)", resp.StatusCode)
	}

	var prData struct {
		Title              string  `json:"title"`
		State              string  `json:"state"`
		HTMLURL            string  `json:"html_url"`
		User               login   `json:"user"`
		Assignees          []login `json:"assignees"`
		RequestedReviewers []login `json:"requested_reviewers"`
		Number             int     `json:"number"`
		Draft              bool    `json:"draft"`
		Merged             bool    `json:"merged"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&prData); err != nil {
		return nil, fmt.Errorf("failed to decode pull request: %w", err)
	}

	return &types.PullRequest{
		Title:              prData.Title,
		State:              prData.State,
		Author:             prData.User.Login,
		Repository:         repo,
		Owner:              owner,
		URL:                prData.HTMLURL,
		Assignees:          logins(prData.Assignees),
		RequestedReviewers: logins(prData.RequestedReviewers),
		Number:             prData.Number,
		Draft:              prData.Draft,
		Merged:             prData.Merged,
	}, nil
}

// ListReviews returns every submitted review on the pull request in chronological order.
// At most maxPages pages are read; hitting that cap is logged since the tally may then be incomplete.
func (c *Client) ListReviews(ctx context.Context, owner, repo string, number int) ([]types.Review, error) {
	out, truncated, err := c.listReviews(ctx, owner, repo, number, maxPages)
	if err != nil {
		return nil, err
	}
	if truncated {
		slog.Warn("Review history exceeds page limit, later reviews were not read",
			"component", "github", "owner", owner, "repo", repo, "pr", number, "count", len(out), "max_pages", maxPages)
	}
	return out, nil
}

// listReviews reads up to limit pages and reports whether more may remain.
func (c *Client) listReviews(ctx context.Context, owner, repo string, number, limit int) ([]types.Review, bool, error) {
	var out []types.Review
	for page := 1; page <= limit; page++ {
		path := fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews?per_page=%d&page=%d",
			url.PathEscape(owner), url.PathEscape(repo), number, perPageLimit, page)
		batch, err := c.reviewsPage(ctx, owner, path)
		if err != nil {
			return nil, false, err
		}
		out = append(out, batch...)
		if len(batch) < perPageLimit {
			slog.Debug("Listed reviews", "owner", owner, "repo", repo, "pr", number, "count", len(out))
			return out, false, nil
		}
	}
	return out, true, nil
}

func (c *Client) reviewsPage(ctx context.Context, owner, path string) ([]types.Review, error) {
	resp, err := c.doRequest(ctx, owner, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list reviews (status %d)", resp.StatusCode)
	}

	var reviews []struct {
		User  login  `json:"user"`
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reviews); err != nil {
		return nil, fmt.Errorf("failed to decode reviews: %w", err)
	}

	out := make([]types.Review, 0, len(reviews))
	for _, r := range reviews {
		out = append(out, types.Review{Reviewer: r.User.Login, State: types.ParseReviewState(r.State)})
	}
	return out, nil
}

// PRRef identifies a pull request.
type PRRef struct {
	Owner  string
	Repo   string
	Number int
}

// ParsePRURL parses https://github.com/<owner>/<repo>/pull/<number> URLs.
func ParsePRURL(raw string) (PRRef, error) {
	const minParts = 7
	parts := strings.Split(strings.TrimSuffix(raw, "/"), "/")
	if len(parts) < minParts || parts[2] != "github.com" || parts[5] != "pull" {
		return PRRef{}, fmt.Errorf("invalid GitHub PR URL format: %s", raw)
	}

	number, err := strconv.Atoi(parts[6])
	if err != nil || number <= 0 {
		return PRRef{}, fmt.Errorf("invalid PR number in URL: %s", raw)
	}
	return PRRef{Owner: parts[3], Repo: parts[4], Number: number}, nil
}
