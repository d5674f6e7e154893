package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

const maxRequired = 10

// Settings are the knobs admins may change while the bot runs.
type Settings struct {
	AnnounceChannel   string `json:"announce_channel"`
	RequiredReviewers int    `json:"required_reviewers"`
	RequiredApprovals int    `json:"required_approvals"`
	Silent            bool   `json:"silent"`
}

func (s Settings) validate() error {
	if s.RequiredReviewers < 1 || s.RequiredReviewers > maxRequired {
		return fmt.Errorf("required_reviewers must be between 1 and %d", maxRequired)
	}
	if s.RequiredApprovals < 1 || s.RequiredApprovals > maxRequired {
		return fmt.Errorf("required_approvals must be between 1 and %d", maxRequired)
	}
	return nil
}

// Runtime guards the live Settings.
type Runtime struct {
	s  Settings
	mu sync.RWMutex
}

// NewRuntime starts from s.
func NewRuntime(s Settings) *Runtime {
	return &Runtime{s: s}
}

// Snapshot returns a copy of the current settings.
func (r *Runtime) Snapshot() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s
}

// RequiredReviewers is the reviewer count every PR is topped up to.
func (r *Runtime) RequiredReviewers() int { return r.Snapshot().RequiredReviewers }

// RequiredApprovals is the approval count that makes a PR ready to merge.
func (r *Runtime) RequiredApprovals() int { return r.Snapshot().RequiredApprovals }

// AnnounceChannel is where boot announcements go.
func (r *Runtime) AnnounceChannel() string { return r.Snapshot().AnnounceChannel }

// Silent reports whether channel announcements are suppressed.
func (r *Runtime) Silent() bool { return r.Snapshot().Silent }

// JSON renders the current settings.
func (r *Runtime) JSON() string {
	b, err := json.MarshalIndent(r.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Merge applies the fields present in raw. Unknown fields and invalid values are rejected
// and leave the settings untouched.
func (r *Runtime) Merge(raw []byte) (Settings, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Settings{}, errors.New("empty settings")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.s
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	if err := next.validate(); err != nil {
		return Settings{}, err
	}
	r.s = next
	return next, nil
}
