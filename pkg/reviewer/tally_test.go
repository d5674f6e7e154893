package reviewer

import (
	"testing"

	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

func TestTallyReviews(t *testing.T) {
	tests := []struct {
		name        string
		reviews     []types.Review
		required    int
		wantApprove int
		wantChanges int
		wantOK      bool
	}{
		{name: "no reviews", required: 2},
		{
			name: "two approvals",
			reviews: []types.Review{
				{Reviewer: "bob", State: types.ReviewApproved},
				{Reviewer: "carol", State: types.ReviewApproved},
			},
			required: 2, wantApprove: 2, wantOK: true,
		},
		{
			name: "latest state wins",
			reviews: []types.Review{
				{Reviewer: "bob", State: types.ReviewChangesRequested},
				{Reviewer: "carol", State: types.ReviewApproved},
				{Reviewer: "Bob", State: types.ReviewApproved},
			},
			required: 2, wantApprove: 2, wantOK: true,
		},
		{
			name: "outstanding change request blocks",
			reviews: []types.Review{
				{Reviewer: "bob", State: types.ReviewApproved},
				{Reviewer: "carol", State: types.ReviewApproved},
				{Reviewer: "dave", State: types.ReviewChangesRequested},
			},
			required: 2, wantApprove: 2, wantChanges: 1,
		},
		{
			name: "comment after approval replaces it",
			reviews: []types.Review{
				{Reviewer: "bob", State: types.ReviewApproved},
				{Reviewer: "bob", State: types.ReviewCommented},
				{Reviewer: "carol", State: types.ReviewApproved},
			},
			required: 2, wantApprove: 1,
		},
		{
			name: "comments do not block approval",
			reviews: []types.Review{
				{Reviewer: "bob", State: types.ReviewApproved},
				{Reviewer: "carol", State: types.ReviewApproved},
				{Reviewer: "dave", State: types.ReviewCommented},
				{Reviewer: "erin", State: types.ReviewCommented},
				{Reviewer: "frank", State: types.ReviewCommented},
			},
			required: 2, wantApprove: 2, wantOK: true,
		},
		{
			name: "comment after change request clears it",
			reviews: []types.Review{
				{Reviewer: "dave", State: types.ReviewChangesRequested},
				{Reviewer: "bob", State: types.ReviewApproved},
				{Reviewer: "dave", State: types.ReviewCommented},
				{Reviewer: "carol", State: types.ReviewApproved},
			},
			required: 2, wantApprove: 2, wantOK: true,
		},
		{
			name:     "default threshold",
			reviews:  []types.Review{{Reviewer: "bob", State: types.ReviewApproved}},
			required: 0, wantApprove: 1,
		},
		{
			name:     "single approval threshold",
			reviews:  []types.Review{{Reviewer: "bob", State: types.ReviewApproved}, {Reviewer: "", State: types.ReviewChangesRequested}},
			required: 1, wantApprove: 1, wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tally := TallyReviews(tt.reviews)
			if got := tally.Approved(); got != tt.wantApprove {
				t.Errorf("Approved() = %d, want %d", got, tt.wantApprove)
			}
			if got := tally.ChangesRequested(); got != tt.wantChanges {
				t.Errorf("ChangesRequested() = %d, want %d", got, tt.wantChanges)
			}
			if got := tally.IsApproved(tt.required); got != tt.wantOK {
				t.Errorf("IsApproved(%d) = %v, want %v", tt.required, got, tt.wantOK)
			}
		})
	}
}

func TestTally_StateAndOrder(t *testing.T) {
	tally := TallyReviews([]types.Review{
		{Reviewer: "Carol", State: types.ReviewCommented},
		{Reviewer: "bob", State: types.ReviewApproved},
		{Reviewer: "carol", State: types.ReviewApproved},
	})
	if s, ok := tally.State("CAROL"); !ok || s != types.ReviewApproved {
		t.Errorf("State(CAROL) = %v, %v", s, ok)
	}
	if _, ok := tally.State("dave"); ok {
		t.Error("unknown reviewer should have no state")
	}
	if r := tally.Reviewers(); len(r) != 2 || r[0] != "carol" || r[1] != "bob" {
		t.Errorf("Reviewers() = %v", r)
	}
}
