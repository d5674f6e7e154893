// Package reviewer selects reviewers for pull requests and summarizes their reviews.
package reviewer

// Workflow defaults.
const (
	DefaultRequiredReviewers = 2 // reviewers every PR should end up with
	DefaultRequiredApprovals = 2 // approvals before mergers are pinged
)
