package reviewer

import (
	"errors"
	"strings"
	"testing"

	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

type staticPool []types.User

func (p staticPool) All() []types.User { return append([]types.User(nil), p...) }

func team() staticPool {
	return staticPool{
		{GitHub: "alice", Requestable: true},
		{GitHub: "Bob", Requestable: true},
		{GitHub: "carol", Requestable: true},
		{GitHub: "dave", Requestable: false},
		{GitHub: "erin", Requestable: true, Repositories: map[string]bool{"api": true}},
	}
}

func logins(users []types.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = strings.ToLower(u.GitHub)
	}
	return out
}

func TestSelectRandom(t *testing.T) {
	tests := []struct {
		name      string
		excluded  []string
		count     int
		opts      SelectOptions
		wantLen   int
		wantErr   error
		forbidden []string
	}{
		{name: "two from pool", excluded: []string{"alice"}, count: 2, wantLen: 2, forbidden: []string{"alice", "dave"}},
		{name: "exclusion is case-insensitive", excluded: []string{"BOB", "ALICE"}, count: 1, wantLen: 1, forbidden: []string{"alice", "bob", "dave"}},
		{name: "zero count", count: 0, wantLen: 0},
		{name: "nobody left", excluded: []string{"alice", "bob", "carol", "erin"}, count: 1, wantErr: types.ErrInsufficientCandidates},
		{name: "too few without partial", excluded: []string{"alice", "bob"}, count: 3, wantErr: types.ErrInsufficientCandidates},
		{name: "too few with partial", excluded: []string{"alice", "bob"}, count: 3, opts: SelectOptions{AllowPartial: true}, wantLen: 2},
		{name: "repository filter", excluded: []string{"alice", "bob", "carol"}, count: 1, opts: SelectOptions{Repository: "web"}, wantErr: types.ErrInsufficientCandidates},
		{name: "repository match", excluded: []string{"alice", "bob", "carol"}, count: 1, opts: SelectOptions{Repository: "API"}, wantLen: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSelector(team())
			got, err := s.SelectRandom(tt.excluded, tt.count, tt.opts)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tt.wantLen {
				t.Fatalf("expected %d users, got %d", tt.wantLen, len(got))
			}
			seen := map[string]bool{}
			for _, l := range logins(got) {
				if seen[l] {
					t.Errorf("duplicate selection %s", l)
				}
				seen[l] = true
				for _, f := range tt.forbidden {
					if l == f {
						t.Errorf("selected forbidden user %s", l)
					}
				}
			}
		})
	}
}

func TestSelectRandom_Deterministic(t *testing.T) {
	s := NewSelector(team())
	s.intn = func(int) int { return 0 }

	got, err := s.SelectRandom(nil, 2, SelectOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l := logins(got); l[0] != "alice" || l[1] != "bob" {
		t.Errorf("expected [alice bob], got %v", l)
	}
}

func TestSelectRandom_CoversEveryCandidate(t *testing.T) {
	s := NewSelector(team())
	seen := map[string]bool{}
	for range 500 {
		got, err := s.SelectRandom(nil, 1, SelectOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		seen[logins(got)[0]] = true
	}
	for _, want := range []string{"alice", "bob", "carol", "erin"} {
		if !seen[want] {
			t.Errorf("%s was never selected", want)
		}
	}
	if seen["dave"] {
		t.Error("benched user was selected")
	}
}
