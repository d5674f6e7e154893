package reviewer

import (
	"strings"

	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

// Tally holds the latest review state per reviewer for one pull request.
type Tally struct {
	states map[string]types.ReviewState
	order  []string
}

// TallyReviews folds reviews, given in chronological order, so that each reviewer's
// last state wins.
func TallyReviews(reviews []types.Review) Tally {
	t := Tally{states: make(map[string]types.ReviewState, len(reviews))}
	for _, r := range reviews {
		if r.Reviewer == "" {
			continue
		}
		key := strings.ToLower(r.Reviewer)
		if _, seen := t.states[key]; !seen {
			t.order = append(t.order, key)
		}
		t.states[key] = r.State
	}
	return t
}

// State returns the latest recorded state for reviewer.
func (t Tally) State(reviewer string) (types.ReviewState, bool) {
	s, ok := t.states[strings.ToLower(reviewer)]
	return s, ok
}

// Reviewers returns reviewers in order of first appearance.
func (t Tally) Reviewers() []string {
	return append([]string(nil), t.order...)
}

// Approved counts reviewers whose latest state is APPROVED.
func (t Tally) Approved() int {
	return t.count(types.ReviewApproved)
}

// ChangesRequested counts reviewers whose latest state is CHANGES_REQUESTED.
func (t Tally) ChangesRequested() int {
	return t.count(types.ReviewChangesRequested)
}

// IsApproved reports whether at least required reviewers approved and nobody is requesting changes.
// A non-positive required falls back to DefaultRequiredApprovals.
func (t Tally) IsApproved(required int) bool {
	if required <= 0 {
		required = DefaultRequiredApprovals
	}
	return t.Approved() >= required && t.ChangesRequested() == 0
}

func (t Tally) count(state types.ReviewState) int {
	n := 0
	for _, s := range t.states {
		if s == state {
			n++
		}
	}
	return n
}
