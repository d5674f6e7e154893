package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/slackin/pkg/internal/testutil"
	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

const testBase = "https://api.github.test"

func newTestClient(mock *testutil.MockHTTPDoer) *Client {
	return &Client{
		httpClient: mock,
		baseURL:    testBase,
		token:      "ghp_testtoken",
		retryDelay: time.Millisecond,
	}
}

func TestClient_RequestReviewers(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	url := testBase + "/repos/acme/widgets/pulls/7/requested_reviewers"
	mock.SetResponse(http.MethodPost, url, http.StatusCreated, map[string]any{})
	c := newTestClient(mock)

	if err := c.RequestReviewers(context.Background(), "acme", "widgets", 7, []string{"bob", "carol"}); err != nil {
		t.Fatalf("RequestReviewers() error = %v", err)
	}

	calls := mock.CallsTo(http.MethodPost, url)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	var body struct {
		Reviewers []string `json:"reviewers"`
	}
	if err := json.Unmarshal(calls[0].Body, &body); err != nil {
		t.Fatalf("bad request body: %v", err)
	}
	if strings.Join(body.Reviewers, ",") != "bob,carol" {
		t.Errorf("reviewers = %v", body.Reviewers)
	}
	if got := calls[0].Header.Get("Authorization"); got != "token ghp_testtoken" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestClient_AddAssignees(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	url := testBase + "/repos/acme/widgets/issues/7/assignees"
	mock.SetResponse(http.MethodPost, url, http.StatusCreated, map[string]any{})
	c := newTestClient(mock)

	if err := c.AddAssignees(context.Background(), "acme", "widgets", 7, []string{"bob"}); err != nil {
		t.Fatalf("AddAssignees() error = %v", err)
	}
	if n := len(mock.CallsTo(http.MethodPost, url)); n != 1 {
		t.Errorf("expected 1 call, got %d", n)
	}
}

func TestClient_MutationErrors(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	url := testBase + "/repos/acme/widgets/pulls/7/requested_reviewers"
	mock.SetResponse(http.MethodPost, url, http.StatusUnprocessableEntity, map[string]any{"message": "Reviews may only be requested from collaborators"})
	c := newTestClient(mock)

	err := c.RequestReviewers(context.Background(), "acme", "widgets", 7, []string{"stranger"})
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected 422 error, got %v", err)
	}
	if n := len(mock.Calls()); n != 1 {
		t.Errorf("client errors must not be retried, got %d calls", n)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	url := testBase + "/repos/acme/widgets/pulls/7"
	mock.SetResponse(http.MethodGet, url, http.StatusBadGateway, nil)
	c := newTestClient(mock)

	if _, err := c.PullRequest(context.Background(), "acme", "widgets", 7); err == nil {
		t.Fatal("expected error")
	}
	if n := len(mock.Calls()); n != maxRetryAttempts {
		t.Errorf("expected %d attempts, got %d", maxRetryAttempts, n)
	}
}

func TestClient_RetriesTransportErrors(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	url := testBase + "/repos/acme/widgets/pulls/7"
	mock.SetError(http.MethodGet, url, errors.New("connection refused"))
	c := newTestClient(mock)

	_, err := c.PullRequest(context.Background(), "acme", "widgets", 7)
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected transport error, got %v", err)
	}
	if n := len(mock.Calls()); n != maxRetryAttempts {
		t.Errorf("expected %d attempts, got %d", maxRetryAttempts, n)
	}
}

func TestClient_DryRunSkipsMutations(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	c := newTestClient(mock)
	c.dryRun = true

	ctx := context.Background()
	if err := c.RequestReviewers(ctx, "acme", "widgets", 7, []string{"bob"}); err != nil {
		t.Fatalf("RequestReviewers() error = %v", err)
	}
	if err := c.AddAssignees(ctx, "acme", "widgets", 7, []string{"bob"}); err != nil {
		t.Fatalf("AddAssignees() error = %v", err)
	}
	if n := len(mock.Calls()); n != 0 {
		t.Errorf("dry run made %d calls", n)
	}
}

func TestClient_PullRequest(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	mock.SetResponse(http.MethodGet, testBase+"/repos/acme/widgets/pulls/7", http.StatusOK, map[string]any{
		"title":               "Add widgets",
		"state":               "open",
		"html_url":            "https://github.com/acme/widgets/pull/7",
		"user":                map[string]any{"login": "alice"},
		"assignees":           []any{map[string]any{"login": "bob"}},
		"requested_reviewers": []any{map[string]any{"login": "carol"}},
		"number":              7,
		"draft":               true,
	})
	c := newTestClient(mock)

	pr, err := c.PullRequest(context.Background(), "acme", "widgets", 7)
	if err != nil {
		t.Fatalf("PullRequest() error = %v", err)
	}
	if pr.Author != "alice" || pr.Title != "Add widgets" || !pr.Draft || pr.Number != 7 {
		t.Errorf("unexpected PR %+v", pr)
	}
	if len(pr.Assignees) != 1 || pr.Assignees[0] != "bob" {
		t.Errorf("Assignees = %v", pr.Assignees)
	}
	ctx := pr.Context()
	if ctx.Opener != "alice" || ctx.Owner != "acme" || ctx.Repository != "widgets" || ctx.RequestedReviewers[0] != "carol" {
		t.Errorf("Context() = %+v", ctx)
	}
}

func TestClient_ListReviews(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	mock.SetResponse(http.MethodGet, testBase+"/repos/acme/widgets/pulls/7/reviews?per_page=100&page=1", http.StatusOK, []any{
		map[string]any{"user": map[string]any{"login": "bob"}, "state": "CHANGES_REQUESTED"},
		map[string]any{"user": map[string]any{"login": "bob"}, "state": "approved"},
		map[string]any{"user": map[string]any{"login": "carol"}, "state": "COMMENTED"},
	})
	c := newTestClient(mock)

	reviews, err := c.ListReviews(context.Background(), "acme", "widgets", 7)
	if err != nil {
		t.Fatalf("ListReviews() error = %v", err)
	}
	want := []types.Review{
		{Reviewer: "bob", State: types.ReviewChangesRequested},
		{Reviewer: "bob", State: types.ReviewApproved},
		{Reviewer: "carol", State: types.ReviewCommented},
	}
	if len(reviews) != len(want) {
		t.Fatalf("got %d reviews, want %d", len(reviews), len(want))
	}
	for i := range want {
		if reviews[i] != want[i] {
			t.Errorf("review %d = %+v, want %+v", i, reviews[i], want[i])
		}
	}
}

func TestClient_ListReviewsPageLimit(t *testing.T) {
	full := make([]any, perPageLimit)
	for i := range full {
		full[i] = map[string]any{"user": map[string]any{"login": fmt.Sprintf("user%d", i)}, "state": "COMMENTED"}
	}
	tests := []struct {
		name          string
		secondPage    []any
		wantCount     int
		wantTruncated bool
	}{
		{name: "ends within limit", secondPage: full[:3], wantCount: perPageLimit + 3},
		{name: "limit reached", secondPage: full, wantCount: 2 * perPageLimit, wantTruncated: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockHTTPDoer()
			base := testBase + "/repos/acme/widgets/pulls/7/reviews?per_page=100&page="
			mock.SetResponse(http.MethodGet, base+"1", http.StatusOK, full)
			mock.SetResponse(http.MethodGet, base+"2", http.StatusOK, tt.secondPage)
			c := newTestClient(mock)

			reviews, truncated, err := c.listReviews(context.Background(), "acme", "widgets", 7, 2)
			if err != nil {
				t.Fatalf("listReviews() error = %v", err)
			}
			if len(reviews) != tt.wantCount || truncated != tt.wantTruncated {
				t.Errorf("listReviews() = %d reviews, truncated=%v; want %d, %v", len(reviews), truncated, tt.wantCount, tt.wantTruncated)
			}
			if calls := mock.CallsTo(http.MethodGet, base+"3"); len(calls) != 0 {
				t.Errorf("read past the page limit: %d calls", len(calls))
			}
		})
	}
}

func TestParsePRURL(t *testing.T) {
	tests := []struct {
		url     string
		want    PRRef
		wantErr bool
	}{
		{url: "https://github.com/acme/widgets/pull/42", want: PRRef{Owner: "acme", Repo: "widgets", Number: 42}},
		{url: "https://github.com/acme/widgets/pull/42/", want: PRRef{Owner: "acme", Repo: "widgets", Number: 42}},
		{url: "https://github.com/acme/widgets/issues/42", wantErr: true},
		{url: "https://gitlab.com/acme/widgets/pull/42", wantErr: true},
		{url: "https://github.com/acme/widgets/pull/abc", wantErr: true},
		{url: "https://github.com/acme", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := ParsePRURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSanitizeURLForLogging(t *testing.T) {
	got := sanitizeURLForLogging("https://user:pw@api.github.com/repos/a/b?access_token=secret")
	if strings.Contains(got, "secret") || strings.Contains(got, "pw") {
		t.Errorf("sanitized URL still leaks credentials: %s", got)
	}
}
