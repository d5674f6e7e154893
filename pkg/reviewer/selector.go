package reviewer

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

// Pool lists the users reviewers may be drawn from.
type Pool interface {
	All() []types.User
}

// Selector picks reviewers uniformly at random without replacement.
type Selector struct {
	pool Pool
	intn func(n int) int
}

// NewSelector returns a selector over pool.
func NewSelector(pool Pool) *Selector {
	return &Selector{pool: pool, intn: rand.IntN}
}

// SelectOptions tunes a selection.
type SelectOptions struct {
	Repository   string // restrict to users requestable for this repository
	AllowPartial bool   // return fewer than count instead of failing
}

// SelectRandom picks count requestable users whose GitHub login is not in excluded.
// It fails with types.ErrInsufficientCandidates when nobody is eligible, or when fewer
// than count are eligible and opts.AllowPartial is false.
func (s *Selector) SelectRandom(excluded []string, count int, opts SelectOptions) ([]types.User, error) {
	if count <= 0 {
		return nil, nil
	}

	skip := make(map[string]bool, len(excluded)+count)
	for _, name := range excluded {
		if name != "" {
			skip[strings.ToLower(name)] = true
		}
	}

	var candidates []types.User
	for _, u := range s.pool.All() {
		if u.GitHub == "" || skip[strings.ToLower(u.GitHub)] || !u.RequestableFor(opts.Repository) {
			continue
		}
		candidates = append(candidates, u)
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("no available users for repository %q: %w", opts.Repository, types.ErrInsufficientCandidates)
	}
	if len(candidates) < count && !opts.AllowPartial {
		return nil, fmt.Errorf("need %d reviewers for repository %q, only %d available: %w",
			count, opts.Repository, len(candidates), types.ErrInsufficientCandidates)
	}

	selected := make([]types.User, 0, count)
	for len(selected) < count && len(candidates) > 0 {
		i := s.intn(len(candidates))
		pick := candidates[i]
		candidates = append(candidates[:i], candidates[i+1:]...)
		if skip[strings.ToLower(pick.GitHub)] {
			continue
		}
		skip[strings.ToLower(pick.GitHub)] = true
		selected = append(selected, pick)
	}

	slog.Debug("Selected reviewers", "component", "reviewer", "requested", count, "selected", len(selected), "repo", opts.Repository)
	return selected, nil
}
