package notify

import (
	"fmt"
	"strings"

	"github.com/codeGROOVE-dev/slackin/pkg/chat"
	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

// Emoji by review state.
const (
	emojiApproved         = ":heavy_check_mark:"
	emojiChangesRequested = ":x:"
	emojiCommented        = ":speech_balloon:"
	emojiDismissed        = ":no_entry_sign:"
)

var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escape(s string) string {
	return slackEscaper.Replace(s)
}

// code renders s as inline code. Backticks cannot be escaped inside Slack code spans.
func code(s string) string {
	return "`" + strings.ReplaceAll(escape(s), "`", "'") + "`"
}

func link(url, label string) string {
	if url == "" {
		return label
	}
	return fmt.Sprintf("<%s|%s>", url, escape(label))
}

func prLink(pr types.PullRequestContext) string {
	return link(pr.URL, fmt.Sprintf("%s PR #%d", pr.Repository, pr.Number))
}

func reviewEmoji(state types.ReviewState) string {
	switch state {
	case types.ReviewApproved:
		return emojiApproved
	case types.ReviewChangesRequested:
		return emojiChangesRequested
	case types.ReviewDismissed:
		return emojiDismissed
	default:
		return emojiCommented
	}
}

func wipWarning(pr types.PullRequestContext) chat.Message {
	return chat.Text(fmt.Sprintf("Are you sure you meant to open PR %s? You marked it Work in Progress, so I will ignore it.",
		link(pr.URL, pr.Title)))
}

func openedSummary(pr types.PullRequestContext, reviewers []types.User) chat.Message {
	mentions := make([]string, 0, len(reviewers))
	for _, u := range reviewers {
		mentions = append(mentions, u.Mention())
	}
	value := strings.Join(mentions, " ")
	if value == "" {
		value = "nobody"
	}
	return chat.Message{
		Text: fmt.Sprintf("You opened %s %s, on %s. Here's the Review Status:",
			link(pr.URL, fmt.Sprintf("PR #%d", pr.Number)), code(pr.Title), escape(pr.Repository)),
		Attachments: []chat.Attachment{{
			Fields: []chat.Field{{Title: "Reviews Requested", Value: value, Short: true}},
		}},
	}
}

func reviewRequest(pr types.PullRequestContext, opener types.User) chat.Message {
	return chat.Text(fmt.Sprintf("Hi! Please look at %s \"%s\" that %s opened.",
		prLink(pr), escape(pr.Title), escape(opener.DisplayName())))
}

func reviewedNotice(pr types.PullRequestContext, rev types.User, review types.ReviewSubmission) chat.Message {
	url := review.URL
	if url == "" {
		url = pr.URL
	}
	label := fmt.Sprintf("%s PR #%d", pr.Repository, pr.Number)
	return chat.Text(fmt.Sprintf("%s %s has reviewed your PR %s: %s",
		reviewEmoji(review.State), escape(rev.DisplayName()), link(url, label), code(pr.Title)))
}

func readyToMerge(pr types.PullRequestContext, opener types.User, approvals int) chat.Message {
	return chat.Text(fmt.Sprintf(":tada: %s %s by %s has %d approvals and is ready to merge.",
		prLink(pr), code(pr.Title), escape(opener.DisplayName()), approvals))
}

func updatedNotice(pr types.PullRequestContext, opener types.User) chat.Message {
	return chat.Text(fmt.Sprintf(":arrows_counterclockwise: %s pushed new commits to %s %s. Please take another look.",
		escape(opener.DisplayName()), prLink(pr), code(pr.Title)))
}

func closedNotice(pr types.PullRequestContext) chat.Message {
	if pr.Merged {
		return chat.Text(fmt.Sprintf(":tada: Your PR %s %s was merged.", prLink(pr), code(pr.Title)))
	}
	return chat.Text(fmt.Sprintf(":wastebasket: Your PR %s %s was closed without merging.", prLink(pr), code(pr.Title)))
}
