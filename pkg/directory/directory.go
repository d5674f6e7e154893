// Package directory maps people to their Slack identity, GitHub login and availability.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/codeGROOVE-dev/slackin/pkg/store"
	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

// Flag names accepted by FilterByFlag.
const (
	FlagRequestable   = "requestable"
	FlagMerger        = "merger"
	FlagNotifications = "notifications"
)

// Directory is the in-memory view of the user store.
// Mutations are serialized and committed to the store before the in-memory view changes.
type Directory struct {
	store store.Store
	users []types.User
	mu    sync.RWMutex
}

// Availability lists display names by requestability.
type Availability struct {
	Available []string
	Benched   []string
}

// Load reads the full user set from s.
func Load(ctx context.Context, s store.Store) (*Directory, error) {
	users, err := s.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading users: %w", err)
	}
	slog.Info("Loaded user directory", "component", "directory", "users", len(users))
	return &Directory{store: s, users: users}, nil
}

// FindByGitHub returns the user bound to a GitHub login, case-insensitively.
func (d *Directory) FindByGitHub(name string) (types.User, bool) {
	if name == "" {
		return types.User{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	i := d.indexByGitHub(name)
	if i < 0 {
		return types.User{}, false
	}
	return d.users[i].Clone(), true
}

// FindByChatID returns the user bound to a Slack id, case-insensitively.
func (d *Directory) FindByChatID(id string) (types.User, bool) {
	if id == "" {
		return types.User{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	i := d.indexByChatID(id)
	if i < 0 {
		return types.User{}, false
	}
	return d.users[i].Clone(), true
}

// Register creates a user. It fails with types.ErrDuplicateUser when the GitHub login
// or the Slack identity is already bound.
func (d *Directory) Register(ctx context.Context, github string, chat types.ChatIdentity, defaults types.UserDefaults) (types.User, error) {
	github = strings.TrimPrefix(strings.TrimSpace(github), "@")
	if github == "" {
		return types.User{}, fmt.Errorf("github username required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if i := d.indexByGitHub(github); i >= 0 {
		return types.User{}, fmt.Errorf("%s is bound to %s: %w", github, d.users[i].DisplayName(), types.ErrDuplicateUser)
	}
	if chat.ID != "" {
		if i := d.indexByChatID(chat.ID); i >= 0 {
			return types.User{}, fmt.Errorf("%s is already registered as %s: %w", chat.ID, d.users[i].GitHub, types.ErrDuplicateUser)
		}
	}

	name := chat.Name
	if name == "" {
		name = github
	}
	u := types.User{
		Name:          name,
		ChatID:        chat.ID,
		ChatName:      chat.Name,
		GitHub:        github,
		ReviewAction:  defaults.ReviewAction,
		Requestable:   defaults.Requestable,
		Merger:        defaults.Merger,
		Notifications: defaults.Notifications,
	}

	next := d.snapshot()
	next = append(next, u)
	if err := d.commit(ctx, next); err != nil {
		return types.User{}, err
	}

	slog.Info("New user registered", "component", "directory", "github", github, "slack_id", chat.ID)
	return u.Clone(), nil
}

// SetRequestable benches or unbenches the user with the given Slack id.
// It reports false without error when no such user exists.
func (d *Directory) SetRequestable(ctx context.Context, chatID string, requestable bool) (bool, error) {
	return d.update(ctx, chatID, func(u *types.User) { u.Requestable = requestable })
}

// SetNotificationsEnabled mutes or unmutes the user with the given Slack id.
func (d *Directory) SetNotificationsEnabled(ctx context.Context, chatID string, enabled bool) (bool, error) {
	return d.update(ctx, chatID, func(u *types.User) { u.Notifications = enabled })
}

// ListByAvailability returns display names split by requestability, in directory order.
func (d *Directory) ListByAvailability() Availability {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var a Availability
	for _, u := range d.users {
		if u.Requestable {
			a.Available = append(a.Available, u.DisplayName())
		} else {
			a.Benched = append(a.Benched, u.DisplayName())
		}
	}
	return a
}

// FilterByFlag returns users whose named flag equals value. Unknown flags match nobody.
func (d *Directory) FilterByFlag(flag string, value bool) []types.User {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []types.User
	for _, u := range d.users {
		var v bool
		switch flag {
		case FlagRequestable:
			v = u.Requestable
		case FlagMerger:
			v = u.Merger
		case FlagNotifications:
			v = u.Notifications
		default:
			return nil
		}
		if v == value {
			out = append(out, u.Clone())
		}
	}
	return out
}

// All returns a copy of every user.
func (d *Directory) All() []types.User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot()
}

func (d *Directory) update(ctx context.Context, chatID string, mutate func(*types.User)) (bool, error) {
	if chatID == "" {
		return false, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.indexByChatID(chatID)
	if i < 0 {
		slog.Info("Could not find user to update", "component", "directory", "slack_id", chatID)
		return false, nil
	}

	next := d.snapshot()
	mutate(&next[i])
	if err := d.commit(ctx, next); err != nil {
		return false, err
	}

	slog.Info("Updated user", "component", "directory", "slack_id", chatID, "github", next[i].GitHub,
		"requestable", next[i].Requestable, "notifications", next[i].Notifications)
	return true, nil
}

// commit persists next and only then swaps it in. Callers hold the write lock.
func (d *Directory) commit(ctx context.Context, next []types.User) error {
	if err := d.store.ReplaceAll(ctx, next); err != nil {
		slog.Error("Failed to persist user directory", "component", "directory", "error", err)
		return fmt.Errorf("%w: %w", types.ErrPersistenceFailure, err)
	}
	d.users = next
	return nil
}

func (d *Directory) snapshot() []types.User {
	out := make([]types.User, len(d.users))
	for i, u := range d.users {
		out[i] = u.Clone()
	}
	return out
}

func (d *Directory) indexByGitHub(name string) int {
	for i, u := range d.users {
		if u.GitHub != "" && strings.EqualFold(u.GitHub, name) {
			return i
		}
	}
	return -1
}

func (d *Directory) indexByChatID(id string) int {
	for i, u := range d.users {
		if u.ChatID != "" && strings.EqualFold(u.ChatID, id) {
			return i
		}
	}
	return -1
}
