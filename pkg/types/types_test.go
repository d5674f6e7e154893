package types

import (
	"errors"
	"strings"
	"testing"
)

func TestUser_RequestableFor(t *testing.T) {
	tests := []struct {
		name string
		user User
		repo string
		want bool
	}{
		{"benched", User{Requestable: false}, "api", false},
		{"no repo restrictions", User{Requestable: true}, "api", true},
		{"empty repo", User{Requestable: true, Repositories: map[string]bool{"web": true}}, "", true},
		{"repo allowed", User{Requestable: true, Repositories: map[string]bool{"api": true}}, "API", true},
		{"repo disabled", User{Requestable: true, Repositories: map[string]bool{"api": false}}, "api", false},
		{"repo missing", User{Requestable: true, Repositories: map[string]bool{"web": true}}, "api", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.RequestableFor(tt.repo); got != tt.want {
				t.Errorf("RequestableFor(%q) = %v, want %v", tt.repo, got, tt.want)
			}
		})
	}
}

func TestUser_Clone(t *testing.T) {
	u := User{GitHub: "alice", Repositories: map[string]bool{"api": true}}
	c := u.Clone()
	c.Repositories["api"] = false

	if !u.Repositories["api"] {
		t.Error("clone shares repositories map with original")
	}
}

func TestUser_Mention(t *testing.T) {
	if got := (User{ChatID: "U1", GitHub: "alice"}).Mention(); got != "<@U1>" {
		t.Errorf("Mention() = %q", got)
	}
	if got := (User{GitHub: "alice"}).Mention(); got != "@alice" {
		t.Errorf("Mention() = %q", got)
	}
}

func TestParseReviewState(t *testing.T) {
	tests := map[string]ReviewState{
		"approved":          ReviewApproved,
		"Changes_Requested": ReviewChangesRequested,
		" commented ":       ReviewCommented,
	}
	for in, want := range tests {
		if got := ParseReviewState(in); got != want {
			t.Errorf("ParseReviewState(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIncident(t *testing.T) {
	inc := NewIncident("register", ErrDuplicateUser)

	if inc.ID == "" {
		t.Fatal("expected correlation id")
	}
	if !errors.Is(inc, ErrDuplicateUser) {
		t.Error("incident should unwrap to its cause")
	}
	if !strings.Contains(inc.UserMessage(), inc.ID) {
		t.Errorf("user message %q does not carry the id", inc.UserMessage())
	}
}

func TestDelivery(t *testing.T) {
	if Delivery("send", nil) != nil {
		t.Error("nil error should stay nil")
	}
	cause := errors.New("boom")
	err := Delivery("send", cause)
	if !errors.Is(err, ErrDeliveryFailure) || !errors.Is(err, cause) {
		t.Errorf("Delivery() = %v, should wrap both kind and cause", err)
	}
}
