package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joestump/vetric/internal/store"
	"github.com/joestump/vetric/internal/testutil"
)

type storeEnv struct {
	users    *store.UserStore
	sessions *store.SessionStore
	resets   *store.ResetStore
}

func newStoreEnv(t *testing.T) *storeEnv {
	t.Helper()
	db := testutil.NewTestDB(t)
	return &storeEnv{
		users:    store.NewUserStore(db),
		sessions: store.NewSessionStore(db),
		resets:   store.NewResetStore(db),
	}
}

func (e *storeEnv) seedUser(t *testing.T, email string) *store.User {
	t.Helper()
	u, err := e.users.Create(context.Background(), email, "hash")
	if err != nil {
		t.Fatalf("seed user %q: %v", email, err)
	}
	return u
}

func TestUserStore_CreateNormalizesEmail(t *testing.T) {
	env := newStoreEnv(t)
	u := env.seedUser(t, "  Alice@Example.COM ")

	if u.Email != "alice@example.com" {
		t.Errorf("Email = %q, want %q", u.Email, "alice@example.com")
	}
	got, err := env.users.GetByEmail(context.Background(), "ALICE@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("GetByEmail ID = %q, want %q", got.ID, u.ID)
	}
}

func TestUserStore_CreateDuplicate(t *testing.T) {
	env := newStoreEnv(t)
	env.seedUser(t, "bob@example.com")

	_, err := env.users.Create(context.Background(), "Bob@example.com", "hash")
	if !errors.Is(err, store.ErrDuplicateEmail) {
		t.Fatalf("err = %v, want ErrDuplicateEmail", err)
	}
}

func TestUserStore_GetMissing(t *testing.T) {
	env := newStoreEnv(t)

	if _, err := env.users.GetByEmail(context.Background(), "nobody@example.com"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetByEmail err = %v, want ErrNotFound", err)
	}
	if _, err := env.users.GetByID(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetByID err = %v, want ErrNotFound", err)
	}
}

func TestUserStore_UpdatePassword(t *testing.T) {
	env := newStoreEnv(t)
	ctx := context.Background()
	u := env.seedUser(t, "carol@example.com")

	if err := env.users.UpdatePassword(ctx, u.ID, "new-hash"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	got, err := env.users.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.PasswordHash != "new-hash" {
		t.Errorf("PasswordHash = %q, want %q", got.PasswordHash, "new-hash")
	}
	if err := env.users.UpdatePassword(ctx, "missing", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdatePassword(missing) err = %v, want ErrNotFound", err)
	}
}

func TestSessionStore_Lifecycle(t *testing.T) {
	env := newStoreEnv(t)
	ctx := context.Background()
	u := env.seedUser(t, "dave@example.com")

	live, err := env.sessions.Create(ctx, u.ID, time.Hour)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if live.Email != "dave@example.com" {
		t.Errorf("Email = %q, want dave@example.com", live.Email)
	}
	expired, err := env.sessions.Create(ctx, u.ID, -time.Hour)
	if err != nil {
		t.Fatalf("Create expired: %v", err)
	}

	active, err := env.sessions.ListActive(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 || active[0].ID != live.ID {
		t.Fatalf("ListActive = %+v, want only %s", active, live.ID)
	}

	stale, err := env.sessions.ListExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListExpired: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != expired.ID {
		t.Fatalf("ListExpired = %+v, want only %s", stale, expired.ID)
	}

	if err := env.sessions.Delete(ctx, live.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := env.sessions.Delete(ctx, live.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
}

func TestSessionStore_DeleteByUser(t *testing.T) {
	env := newStoreEnv(t)
	ctx := context.Background()
	u := env.seedUser(t, "erin@example.com")

	for i := 0; i < 2; i++ {
		if _, err := env.sessions.Create(ctx, u.ID, time.Hour); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	ids, err := env.sessions.DeleteByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("DeleteByUser: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("deleted %d sessions, want 2", len(ids))
	}
	active, _ := env.sessions.ListActive(ctx, time.Now())
	if len(active) != 0 {
		t.Errorf("ListActive after DeleteByUser = %d, want 0", len(active))
	}
}

func TestResetStore_ConsumeOnce(t *testing.T) {
	env := newStoreEnv(t)
	ctx := context.Background()
	u := env.seedUser(t, "frank@example.com")

	if _, err := env.resets.Create(ctx, u.ID, "hash-1", time.Hour); err != nil {
		t.Fatalf("Create: %v", err)
	}
	r, err := env.resets.Consume(ctx, "hash-1")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if r.UserID != u.ID {
		t.Errorf("UserID = %q, want %q", r.UserID, u.ID)
	}
	if _, err := env.resets.Consume(ctx, "hash-1"); !errors.Is(err, store.ErrResetExpired) {
		t.Errorf("second Consume err = %v, want ErrResetExpired", err)
	}
	if _, err := env.resets.Consume(ctx, "unknown"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Consume(unknown) err = %v, want ErrNotFound", err)
	}
}

func TestResetStore_ConsumeExpired(t *testing.T) {
	env := newStoreEnv(t)
	ctx := context.Background()
	u := env.seedUser(t, "grace@example.com")

	if _, err := env.resets.Create(ctx, u.ID, "hash-old", -time.Minute); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := env.resets.Consume(ctx, "hash-old"); !errors.Is(err, store.ErrResetExpired) {
		t.Errorf("Consume err = %v, want ErrResetExpired", err)
	}
}
