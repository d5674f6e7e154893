// Package types contains shared data structures used across the bot.
//
//nolint:revive // "types" is a standard Go package name for shared data structures
package types

import "strings"

// ReviewAction is how a user prefers to hear about reviews on their PRs.
type ReviewAction string

// Review actions.
const (
	ReviewActionRespond ReviewAction = "respond"
	ReviewActionReact   ReviewAction = "react"
)

// User is a person known to the bot, bound to one GitHub login and at most one Slack identity.
type User struct {
	Repositories  map[string]bool `json:"repositories,omitempty"` // lower-cased repo name -> requestable
	Name          string          `json:"name"`
	ChatID        string          `json:"slack_id,omitempty"`
	ChatName      string          `json:"slack_name,omitempty"`
	GitHub        string          `json:"github"`
	ReviewAction  ReviewAction    `json:"review_action"`
	Requestable   bool            `json:"requestable"`
	Merger        bool            `json:"merger"`
	Notifications bool            `json:"notifications"`
}

// Clone returns a deep copy of the user.
func (u User) Clone() User {
	if u.Repositories != nil {
		repos := make(map[string]bool, len(u.Repositories))
		for k, v := range u.Repositories {
			repos[k] = v
		}
		u.Repositories = repos
	}
	return u
}

// DisplayName returns the best human name available for the user.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.GitHub
}

// Mention renders the user for a chat message: a Slack mention when bound, the GitHub login otherwise.
func (u User) Mention() string {
	if u.ChatID != "" {
		return "<@" + u.ChatID + ">"
	}
	return "@" + u.GitHub
}

// RequestableFor reports whether the user can be picked as a reviewer for repo.
// Users without per-repository entries are eligible everywhere.
func (u User) RequestableFor(repo string) bool {
	if !u.Requestable {
		return false
	}
	if repo == "" || len(u.Repositories) == 0 {
		return true
	}
	return u.Repositories[strings.ToLower(repo)]
}

// UserDefaults holds the flags a freshly registered user starts with.
type UserDefaults struct {
	ReviewAction  ReviewAction
	Requestable   bool
	Merger        bool
	Notifications bool
}

// DefaultUser returns the defaults used by the register command.
func DefaultUser() UserDefaults {
	return UserDefaults{
		ReviewAction:  ReviewActionRespond,
		Requestable:   true,
		Notifications: true,
	}
}

// ChatIdentity is the Slack side of a registration.
type ChatIdentity struct {
	ID   string
	Name string
}

// PullRequestContext is reconstructed from each inbound event and never persisted.
type PullRequestContext struct {
	Opener             string
	Title              string
	URL                string
	Owner              string
	Repository         string
	Assignees          []string
	RequestedReviewers []string
	Number             int
	InstallationID     int64
	Merged             bool
	Draft              bool
}

// Action names a pull request lifecycle transition.
type Action string

// Lifecycle actions understood by the orchestrator.
const (
	ActionOpened          Action = "opened"
	ActionReviewRequested Action = "review_requested"
	ActionSubmitted       Action = "submitted"
	ActionSynchronize     Action = "synchronize"
	ActionClosed          Action = "closed"
)

// Event is a single inbound pull request lifecycle event.
type Event struct {
	Action            Action
	DeliveryID        string
	RequestedReviewer string // review_requested only; empty for team requests
	Review            *ReviewSubmission
	PR                PullRequestContext
}

// ReviewSubmission describes the review attached to a submitted event.
type ReviewSubmission struct {
	Reviewer string
	URL      string
	State    ReviewState
}

// ReviewState is the state of a single review.
type ReviewState string

// Review states as reported by GitHub.
const (
	ReviewApproved         ReviewState = "APPROVED"
	ReviewChangesRequested ReviewState = "CHANGES_REQUESTED"
	ReviewCommented        ReviewState = "COMMENTED"
	ReviewDismissed        ReviewState = "DISMISSED"
	ReviewPending          ReviewState = "PENDING"
)

// ParseReviewState normalizes a review state string, case-insensitively.
func ParseReviewState(s string) ReviewState {
	return ReviewState(strings.ToUpper(strings.TrimSpace(s)))
}

// Review is one entry of a pull request's review history, in chronological order.
type Review struct {
	Reviewer string
	State    ReviewState
}

// PullRequest is the subset of a fetched pull request the bot acts on.
type PullRequest struct {
	Title              string
	State              string
	Author             string
	Repository         string
	Owner              string
	URL                string
	Assignees          []string
	RequestedReviewers []string
	Number             int
	Draft              bool
	Merged             bool
}

// Context converts a fetched pull request into an event context.
func (pr *PullRequest) Context() PullRequestContext {
	return PullRequestContext{
		Opener:             pr.Author,
		Title:              pr.Title,
		URL:                pr.URL,
		Owner:              pr.Owner,
		Repository:         pr.Repository,
		Assignees:          pr.Assignees,
		RequestedReviewers: pr.RequestedReviewers,
		Number:             pr.Number,
		Merged:             pr.Merged,
		Draft:              pr.Draft,
	}
}
