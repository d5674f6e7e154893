package github

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // legacy webhook signatures are sha1
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"strings"

	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

// Webhook event names carried in X-GitHub-Event.
const (
	EventPing                     = "ping"
	EventPullRequest              = "pull_request"
	EventPullRequestReview        = "pull_request_review"
	EventPullRequestReviewComment = "pull_request_review_comment"
)

var (
	// ErrUnsupportedEvent is returned for webhook event types the bot does not consume.
	ErrUnsupportedEvent = errors.New("unsupported webhook event")
	// ErrUnhandledAction is returned for supported events whose action needs no handling.
	ErrUnhandledAction = errors.New("unhandled webhook action")
	// ErrBadSignature is returned when a payload signature is missing or wrong.
	ErrBadSignature = errors.New("webhook signature mismatch")
)

// VerifySignature checks the payload against X-Hub-Signature-256, or X-Hub-Signature when
// only the legacy sha1 header is present.
func VerifySignature(secret string, body []byte, sig256, sig1 string) error {
	var mac hash.Hash
	var given string
	switch {
	case sig256 != "":
		mac, given = hmac.New(sha256.New, []byte(secret)), strings.TrimPrefix(sig256, "sha256=")
		if given == sig256 {
			return fmt.Errorf("%w: unexpected algorithm", ErrBadSignature)
		}
	case sig1 != "":
		mac, given = hmac.New(sha1.New, []byte(secret)), strings.TrimPrefix(sig1, "sha1=")
		if given == sig1 {
			return fmt.Errorf("%w: unexpected algorithm", ErrBadSignature)
		}
	default:
		return fmt.Errorf("%w: no signature header", ErrBadSignature)
	}

	want, err := hex.DecodeString(given)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", ErrBadSignature)
	}
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrBadSignature
	}
	return nil
}

type prPayload struct {
	Title              string  `json:"title"`
	HTMLURL            string  `json:"html_url"`
	User               login   `json:"user"`
	Assignees          []login `json:"assignees"`
	RequestedReviewers []login `json:"requested_reviewers"`
	Number             int     `json:"number"`
	Draft              bool    `json:"draft"`
	Merged             bool    `json:"merged"`
}

type webhookPayload struct {
	Review *struct {
		User    login  `json:"user"`
		HTMLURL string `json:"html_url"`
		State   string `json:"state"`
	} `json:"review"`
	RequestedReviewer *login     `json:"requested_reviewer"`
	PullRequest       *prPayload `json:"pull_request"`
	Installation      *struct {
		ID int64 `json:"id"`
	} `json:"installation"`
	Action     string `json:"action"`
	Repository struct {
		Name  string `json:"name"`
		Owner login  `json:"owner"`
	} `json:"repository"`
}

// ParseWebhook decodes a pull request webhook into an Event.
// Unsupported event types yield ErrUnsupportedEvent and actions that need no handling
// yield ErrUnhandledAction.
func ParseWebhook(eventType, deliveryID string, body []byte) (*types.Event, error) {
	switch eventType {
	case EventPullRequest, EventPullRequestReview, EventPullRequestReviewComment:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, eventType)
	}

	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", eventType, err)
	}
	if p.Action == "" {
		return nil, errors.New("payload has no action")
	}
	if p.PullRequest == nil {
		return nil, fmt.Errorf("%s payload has no pull_request", eventType)
	}

	ev := &types.Event{
		DeliveryID: deliveryID,
		PR: types.PullRequestContext{
			Opener:             p.PullRequest.User.Login,
			Title:              p.PullRequest.Title,
			URL:                p.PullRequest.HTMLURL,
			Owner:              p.Repository.Owner.Login,
			Repository:         p.Repository.Name,
			Assignees:          logins(p.PullRequest.Assignees),
			RequestedReviewers: logins(p.PullRequest.RequestedReviewers),
			Number:             p.PullRequest.Number,
			Merged:             p.PullRequest.Merged,
			Draft:              p.PullRequest.Draft,
		},
	}
	if p.Installation != nil {
		ev.PR.InstallationID = p.Installation.ID
	}

	switch {
	case eventType == EventPullRequest && (p.Action == "opened" || p.Action == "ready_for_review"):
		ev.Action = types.ActionOpened
	case eventType == EventPullRequest && p.Action == "review_requested":
		ev.Action = types.ActionReviewRequested
		if p.RequestedReviewer != nil {
			ev.RequestedReviewer = p.RequestedReviewer.Login
		}
	case eventType == EventPullRequest && p.Action == "synchronize":
		ev.Action = types.ActionSynchronize
	case eventType == EventPullRequest && p.Action == "closed":
		ev.Action = types.ActionClosed
	case eventType == EventPullRequestReview && p.Action == "submitted":
		if p.Review == nil {
			return nil, errors.New("review payload has no review")
		}
		ev.Action = types.ActionSubmitted
		ev.Review = &types.ReviewSubmission{
			Reviewer: p.Review.User.Login,
			URL:      p.Review.HTMLURL,
			State:    types.ParseReviewState(p.Review.State),
		}
	default:
		return nil, fmt.Errorf("%w: %s %s", ErrUnhandledAction, eventType, p.Action)
	}
	return ev, nil
}
