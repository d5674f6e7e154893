// Package notify turns pull request lifecycle events into reviewer assignments and chat notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/slackin/pkg/chat"
	"github.com/codeGROOVE-dev/slackin/pkg/reviewer"
	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

// wipTitle matches titles flagged as work in progress, e.g. "[WIP] add feature".
var wipTitle = regexp.MustCompile(`(?i)^\[*\s*WIP\s*\]*\s+`)

// Directory resolves participants.
type Directory interface {
	FindByGitHub(name string) (types.User, bool)
	FilterByFlag(flag string, value bool) []types.User
}

// Selector picks additional reviewers.
type Selector interface {
	SelectRandom(excluded []string, count int, opts reviewer.SelectOptions) ([]types.User, error)
}

// CodeHost is the GitHub side of the workflow.
type CodeHost interface {
	RequestReviewers(ctx context.Context, owner, repo string, number int, reviewers []string) error
	AddAssignees(ctx context.Context, owner, repo string, number int, assignees []string) error
	ListReviews(ctx context.Context, owner, repo string, number int) ([]types.Review, error)
}

// Settings exposes the runtime-tunable workflow thresholds.
type Settings interface {
	RequiredReviewers() int
	RequiredApprovals() int
}

// Config wires an Orchestrator.
type Config struct {
	Directory Directory
	Selector  Selector
	CodeHost  CodeHost
	Chat      chat.Sender
	Settings  Settings // nil means the package defaults
}

// Orchestrator handles each event statelessly: everything it needs is re-derived from the
// event payload, the directory and the code host.
type Orchestrator struct {
	dir      Directory
	selector Selector
	host     CodeHost
	chat     chat.Sender
	settings Settings
}

// New returns an Orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		dir:      cfg.Directory,
		selector: cfg.Selector,
		host:     cfg.CodeHost,
		chat:     cfg.Chat,
		settings: cfg.Settings,
	}
}

func (o *Orchestrator) requiredReviewers() int {
	if o.settings != nil {
		if n := o.settings.RequiredReviewers(); n > 0 {
			return n
		}
	}
	return reviewer.DefaultRequiredReviewers
}

func (o *Orchestrator) requiredApprovals() int {
	if o.settings != nil {
		if n := o.settings.RequiredApprovals(); n > 0 {
			return n
		}
	}
	return reviewer.DefaultRequiredApprovals
}

// Handle dispatches ev to its handler and logs the outcome.
// Failures are returned once; nothing is retried here.
func (o *Orchestrator) Handle(ctx context.Context, ev types.Event) error {
	start := time.Now()
	var err error
	switch ev.Action {
	case types.ActionOpened:
		err = o.Opened(ctx, ev.PR)
	case types.ActionReviewRequested:
		err = o.ReviewRequested(ctx, ev.PR, ev.RequestedReviewer)
	case types.ActionSubmitted:
		if ev.Review == nil {
			err = errors.New("submitted event without review")
			break
		}
		err = o.Reviewed(ctx, ev.PR, *ev.Review)
	case types.ActionSynchronize:
		err = o.Synchronize(ctx, ev.PR)
	case types.ActionClosed:
		err = o.Closed(ctx, ev.PR)
	default:
		err = fmt.Errorf("unknown action %q", ev.Action)
	}

	attrs := []any{
		"action", ev.Action, "owner", ev.PR.Owner, "repo", ev.PR.Repository, "pr", ev.PR.Number,
		"delivery", ev.DeliveryID, "duration", time.Since(start),
	}
	if err != nil {
		slog.Error("Event handling failed", append(attrs, "error", err)...)
		return fmt.Errorf("%s %s/%s#%d: %w", ev.Action, ev.PR.Owner, ev.PR.Repository, ev.PR.Number, err)
	}
	slog.Info("Event handled", attrs...)
	return nil
}

// Reconcile runs the opened flow for an open, non-draft pull request that is short of reviewers.
// Work-in-progress titles are skipped silently; the opener was warned when the PR was opened.
// It reports whether anything was done.
func (o *Orchestrator) Reconcile(ctx context.Context, pr *types.PullRequest) (bool, error) {
	if pr == nil || pr.State != "open" || pr.Draft || pr.Merged {
		return false, nil
	}
	if wipTitle.MatchString(pr.Title) {
		slog.Debug("Skipping work in progress PR", "owner", pr.Owner, "repo", pr.Repository, "pr", pr.Number)
		return false, nil
	}
	if current := reviewersOf(pr.Assignees, pr.RequestedReviewers); len(current) >= o.requiredReviewers() {
		slog.Debug("PR already has enough reviewers", "owner", pr.Owner, "repo", pr.Repository, "pr", pr.Number, "reviewers", current)
		return false, nil
	}
	if err := o.Handle(ctx, types.Event{Action: types.ActionOpened, PR: pr.Context()}); err != nil {
		return false, err
	}
	return true, nil
}

// reviewersOf merges assignees and requested reviewers, keeping each login once.
func reviewersOf(assignees, requested []string) []string {
	seen := make(map[string]bool, len(assignees)+len(requested))
	out := make([]string, 0, len(assignees)+len(requested))
	for _, group := range [][]string{assignees, requested} {
		for _, login := range group {
			key := strings.ToLower(login)
			if login == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, login)
		}
	}
	return out
}

// resolve returns the directory entry for login, or a partial user carrying only the login.
func (o *Orchestrator) resolve(login string) (types.User, bool) {
	if u, ok := o.dir.FindByGitHub(login); ok {
		return u, true
	}
	return types.User{GitHub: login}, false
}

// notifyEach sends to every user with a chat identity, skipping the rest with a warning.
// Delivery continues after a failure; the first error is returned.
func (o *Orchestrator) notifyEach(ctx context.Context, users []types.User, msg chat.Message, why string) error {
	var first error
	for _, u := range users {
		if u.ChatID == "" {
			slog.Warn("User has no chat identity, skipping notification", "github", u.GitHub, "reason", why)
			continue
		}
		if err := o.chat.SendDirect(ctx, u.ChatID, msg, false); err != nil {
			slog.Error("Notification failed", "github", u.GitHub, "slack_id", u.ChatID, "reason", why, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
