package github

import (
	"context"
	"net/http"

	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

// HTTPDoer provides an interface for making HTTP requests.
// This allows us to mock HTTP calls in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// API is the subset of the GitHub REST API the bot drives.
type API interface {
	RequestReviewers(ctx context.Context, owner, repo string, number int, reviewers []string) error
	AddAssignees(ctx context.Context, owner, repo string, number int, assignees []string) error
	ListReviews(ctx context.Context, owner, repo string, number int) ([]types.Review, error)
	PullRequest(ctx context.Context, owner, repo string, number int) (*types.PullRequest, error)
}

var _ API = (*Client)(nil)
