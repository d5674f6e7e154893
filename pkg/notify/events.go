package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeGROOVE-dev/slackin/pkg/directory"
	"github.com/codeGROOVE-dev/slackin/pkg/reviewer"
	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

// Opened tops the pull request up to the required number of reviewers and tells the opener who they are.
// Work-in-progress titles only earn the opener a warning.
func (o *Orchestrator) Opened(ctx context.Context, pr types.PullRequestContext) error {
	opener, known := o.resolve(pr.Opener)
	if !known {
		slog.Info("PR opener is not registered, continuing without opener messages", "github", pr.Opener)
	}

	if wipTitle.MatchString(pr.Title) {
		slog.Info("Ignoring work in progress PR", "owner", pr.Owner, "repo", pr.Repository, "pr", pr.Number, "title", pr.Title)
		if opener.ChatID == "" {
			return nil
		}
		return o.chat.SendDirect(ctx, opener.ChatID, wipWarning(pr), false)
	}

	// Requested reviewers count too: a retry after a failed assignment must not pick them again.
	current := reviewersOf(pr.Assignees, pr.RequestedReviewers)
	existing := make([]types.User, 0, len(current))
	for _, login := range current {
		u, _ := o.resolve(login)
		existing = append(existing, u)
	}
	excluded := append(current, pr.Opener)

	var selected []types.User
	if needed := o.requiredReviewers() - len(current); needed > 0 {
		var err error
		selected, err = o.selector.SelectRandom(excluded, needed, reviewer.SelectOptions{Repository: pr.Repository})
		if err != nil {
			return fmt.Errorf("selecting %d reviewers: %w", needed, err)
		}

		names := make([]string, len(selected))
		for i, u := range selected {
			names[i] = u.GitHub
		}
		if err := o.host.RequestReviewers(ctx, pr.Owner, pr.Repository, pr.Number, names); err != nil {
			return types.Delivery("request reviewers", err)
		}
		if err := o.host.AddAssignees(ctx, pr.Owner, pr.Repository, pr.Number, names); err != nil {
			return types.Delivery("add assignees", err)
		}
		slog.Info("Assigned reviewers", "owner", pr.Owner, "repo", pr.Repository, "pr", pr.Number, "reviewers", names)
	}

	all := append(existing, selected...)
	if opener.ChatID == "" {
		slog.Info("Opener has no chat identity, skipping summary", "github", pr.Opener)
		return nil
	}
	return o.chat.SendDirect(ctx, opener.ChatID, openedSummary(pr, all), false)
}

// ReviewRequested asks the requested reviewer to take a look. Unknown reviewers are logged and skipped.
func (o *Orchestrator) ReviewRequested(ctx context.Context, pr types.PullRequestContext, requested string) error {
	if requested == "" {
		slog.Info("Review requested from a team or nobody, nothing to notify", "owner", pr.Owner, "repo", pr.Repository, "pr", pr.Number)
		return nil
	}
	rev, ok := o.dir.FindByGitHub(requested)
	if !ok || rev.ChatID == "" {
		slog.Info("Requested reviewer cannot be reached", "github", requested, "registered", ok)
		return nil
	}
	opener, _ := o.resolve(pr.Opener)
	return o.chat.SendDirect(ctx, rev.ChatID, reviewRequest(pr, opener), false)
}

// Reviewed tells the opener about a submitted review and pings mergers once the PR is approved.
// Both participants must be registered.
func (o *Orchestrator) Reviewed(ctx context.Context, pr types.PullRequestContext, review types.ReviewSubmission) error {
	if review.State == types.ReviewPending {
		slog.Debug("Ignoring pending review", "github", review.Reviewer, "pr", pr.Number)
		return nil
	}
	rev, ok := o.dir.FindByGitHub(review.Reviewer)
	if !ok {
		return fmt.Errorf("reviewer %s: %w: %w", review.Reviewer, types.ErrUnregisteredParticipant, types.ErrUserNotFound)
	}
	opener, ok := o.dir.FindByGitHub(pr.Opener)
	if !ok {
		return fmt.Errorf("opener %s: %w: %w", pr.Opener, types.ErrUnregisteredParticipant, types.ErrUserNotFound)
	}

	if sameIdentity(rev, opener) {
		slog.Debug("No need to notify for reviewing your own PR", "github", rev.GitHub, "pr", pr.Number)
		return nil
	}

	if opener.ReviewAction == types.ReviewActionReact {
		slog.Debug("Reactions are not supported, sending a message instead", "github", opener.GitHub)
	}
	if opener.ChatID == "" {
		slog.Warn("Opener has no chat identity, skipping review notice", "github", opener.GitHub)
	} else if err := o.chat.SendDirect(ctx, opener.ChatID, reviewedNotice(pr, rev, review), false); err != nil {
		return err
	}

	if review.State != types.ReviewApproved {
		return nil
	}

	reviews, err := o.host.ListReviews(ctx, pr.Owner, pr.Repository, pr.Number)
	if err != nil {
		return types.Delivery("list reviews", err)
	}
	tally := reviewer.TallyReviews(reviews)
	required := o.requiredApprovals()
	if !tally.IsApproved(required) {
		slog.Info("PR not yet approved", "pr", pr.Number, "approved", tally.Approved(),
			"changes_requested", tally.ChangesRequested(), "required", required)
		return nil
	}

	mergers := o.dir.FilterByFlag(directory.FlagMerger, true)
	slog.Info("PR approved, notifying mergers", "pr", pr.Number, "approved", tally.Approved(), "mergers", len(mergers))
	return o.notifyEach(ctx, mergers, readyToMerge(pr, opener, tally.Approved()), "ready to merge")
}

// Synchronize asks every currently requested reviewer to look at the new commits.
func (o *Orchestrator) Synchronize(ctx context.Context, pr types.PullRequestContext) error {
	opener, _ := o.resolve(pr.Opener)

	var targets []types.User
	for _, login := range pr.RequestedReviewers {
		if strings.EqualFold(login, pr.Opener) {
			continue
		}
		u, ok := o.resolve(login)
		if !ok {
			slog.Warn("Requested reviewer is not registered, skipping update notice", "github", login)
			continue
		}
		targets = append(targets, u)
	}
	if len(targets) == 0 {
		slog.Info("No reviewers to tell about new commits", "pr", pr.Number)
		return nil
	}
	return o.notifyEach(ctx, targets, updatedNotice(pr, opener), "pr updated")
}

// Closed tells the opener the pull request was merged or closed.
func (o *Orchestrator) Closed(ctx context.Context, pr types.PullRequestContext) error {
	opener, ok := o.dir.FindByGitHub(pr.Opener)
	if !ok || opener.ChatID == "" {
		slog.Info("Closed PR opener cannot be reached", "github", pr.Opener, "registered", ok)
		return nil
	}
	return o.chat.SendDirect(ctx, opener.ChatID, closedNotice(pr), false)
}

func sameIdentity(a, b types.User) bool {
	if a.ChatID != "" && b.ChatID != "" {
		return strings.EqualFold(a.ChatID, b.ChatID)
	}
	return strings.EqualFold(a.GitHub, b.GitHub)
}
