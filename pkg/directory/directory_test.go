package directory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

// memStore is an in-memory store.Store that can be told to fail.
type memStore struct {
	err    error
	users  []types.User
	writes int
	mu     sync.Mutex
}

func (m *memStore) Load(context.Context) ([]types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.User(nil), m.users...), nil
}

func (m *memStore) ReplaceAll(_ context.Context, users []types.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.writes++
	m.users = append([]types.User(nil), users...)
	return nil
}

func newTestDirectory(t *testing.T, users ...types.User) (*Directory, *memStore) {
	t.Helper()
	s := &memStore{users: users}
	d, err := Load(context.Background(), s)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return d, s
}

func TestDirectory_Find(t *testing.T) {
	d, _ := newTestDirectory(t,
		types.User{Name: "Alice", GitHub: "Alice-GH", ChatID: "U01ALICE"},
		types.User{Name: "Bob", GitHub: "bob"},
	)

	if u, ok := d.FindByGitHub("alice-gh"); !ok || u.Name != "Alice" {
		t.Errorf("FindByGitHub(alice-gh) = %+v, %v", u, ok)
	}
	if u, ok := d.FindByChatID("u01alice"); !ok || u.GitHub != "Alice-GH" {
		t.Errorf("FindByChatID(u01alice) = %+v, %v", u, ok)
	}
	if _, ok := d.FindByGitHub("alice"); ok {
		t.Error("FindByGitHub must be an exact match")
	}
	if _, ok := d.FindByChatID(""); ok {
		t.Error("empty chat id must not match users without one")
	}
	if _, ok := d.FindByGitHub(""); ok {
		t.Error("empty login must not match")
	}
}

func TestDirectory_Register(t *testing.T) {
	d, s := newTestDirectory(t, types.User{Name: "Alice", GitHub: "alice", ChatID: "U1"})
	ctx := context.Background()

	u, err := d.Register(ctx, "@Bob", types.ChatIdentity{ID: "U2", Name: "bobby"}, types.DefaultUser())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if u.GitHub != "Bob" || !u.Requestable || !u.Notifications || u.ReviewAction != types.ReviewActionRespond {
		t.Errorf("unexpected registered user %+v", u)
	}
	if s.writes != 1 || len(s.users) != 2 {
		t.Errorf("expected one write of two users, got %d writes of %d users", s.writes, len(s.users))
	}

	if _, err := d.Register(ctx, "ALICE", types.ChatIdentity{ID: "U3"}, types.DefaultUser()); !errors.Is(err, types.ErrDuplicateUser) {
		t.Errorf("expected ErrDuplicateUser for existing login, got %v", err)
	}
	if _, err := d.Register(ctx, "carol", types.ChatIdentity{ID: "u1"}, types.DefaultUser()); !errors.Is(err, types.ErrDuplicateUser) {
		t.Errorf("expected ErrDuplicateUser for existing chat id, got %v", err)
	}
	if _, err := d.Register(ctx, "  ", types.ChatIdentity{ID: "U9"}, types.DefaultUser()); err == nil {
		t.Error("expected error for empty login")
	}
}

func TestDirectory_SetRequestable(t *testing.T) {
	d, s := newTestDirectory(t, types.User{GitHub: "alice", ChatID: "U1", Requestable: true})
	ctx := context.Background()

	ok, err := d.SetRequestable(ctx, "u1", false)
	if err != nil || !ok {
		t.Fatalf("SetRequestable() = %v, %v", ok, err)
	}
	if u, _ := d.FindByChatID("U1"); u.Requestable {
		t.Error("user should be benched in memory")
	}
	if s.users[0].Requestable {
		t.Error("user should be benched in the store")
	}

	ok, err = d.SetRequestable(ctx, "U404", true)
	if err != nil || ok {
		t.Errorf("SetRequestable(unknown) = %v, %v; want false, nil", ok, err)
	}
}

func TestDirectory_PersistenceFailureKeepsMemory(t *testing.T) {
	d, s := newTestDirectory(t, types.User{GitHub: "alice", ChatID: "U1", Notifications: true})
	s.err = errors.New("disk full")
	ctx := context.Background()

	ok, err := d.SetNotificationsEnabled(ctx, "U1", false)
	if !errors.Is(err, types.ErrPersistenceFailure) {
		t.Fatalf("expected ErrPersistenceFailure, got %v", err)
	}
	if ok {
		t.Error("failed mutation must not report success")
	}
	if u, _ := d.FindByChatID("U1"); !u.Notifications {
		t.Error("in-memory state diverged from store after failed write")
	}

	if _, err := d.Register(ctx, "bob", types.ChatIdentity{ID: "U2"}, types.DefaultUser()); !errors.Is(err, types.ErrPersistenceFailure) {
		t.Errorf("expected ErrPersistenceFailure from Register, got %v", err)
	}
	if _, ok := d.FindByGitHub("bob"); ok {
		t.Error("user visible in memory after failed register")
	}
}

func TestDirectory_ListByAvailability(t *testing.T) {
	d, _ := newTestDirectory(t,
		types.User{Name: "Alice", GitHub: "alice", Requestable: true},
		types.User{Name: "Bob", GitHub: "bob"},
		types.User{GitHub: "carol", Requestable: true},
	)

	a := d.ListByAvailability()
	if len(a.Available) != 2 || a.Available[0] != "Alice" || a.Available[1] != "carol" {
		t.Errorf("Available = %v", a.Available)
	}
	if len(a.Benched) != 1 || a.Benched[0] != "Bob" {
		t.Errorf("Benched = %v", a.Benched)
	}
}

func TestDirectory_FilterByFlag(t *testing.T) {
	d, _ := newTestDirectory(t,
		types.User{GitHub: "alice", Merger: true},
		types.User{GitHub: "bob"},
		types.User{GitHub: "carol", Merger: true},
	)

	mergers := d.FilterByFlag(FlagMerger, true)
	if len(mergers) != 2 {
		t.Errorf("expected 2 mergers, got %d", len(mergers))
	}
	if got := d.FilterByFlag("bogus", true); got != nil {
		t.Errorf("unknown flag should match nobody, got %v", got)
	}
}

func TestDirectory_ConcurrentMutationsSerialize(t *testing.T) {
	var users []types.User
	for _, id := range []string{"U1", "U2", "U3", "U4", "U5", "U6", "U7", "U8"} {
		users = append(users, types.User{GitHub: "gh-" + id, ChatID: id, Requestable: true})
	}
	d, s := newTestDirectory(t, users...)

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := d.SetRequestable(context.Background(), id, false); err != nil {
				t.Errorf("SetRequestable(%s) error = %v", id, err)
			}
		}(u.ChatID)
	}
	wg.Wait()

	for _, u := range s.users {
		if u.Requestable {
			t.Errorf("lost update for %s", u.ChatID)
		}
	}
	if a := d.ListByAvailability(); len(a.Available) != 0 {
		t.Errorf("expected everyone benched, available = %v", a.Available)
	}
}
