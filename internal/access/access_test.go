package access

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/NASA-0007/Rosaiq-Trial/internal/store"
	"github.com/NASA-0007/Rosaiq-Trial/internal/store/storetest"
	apperr "github.com/NASA-0007/Rosaiq-Trial/pkg/errors"
	"github.com/NASA-0007/Rosaiq-Trial/pkg/roles"
	"github.com/google/uuid"
)

type fixture struct {
	gate  *Gate
	alice Principal
	bob   Principal
	admin Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := storetest.Open(t, nil)
	ctx := context.Background()
	mk := func(name, role string) Principal {
		u, err := repo.CreateUser(ctx, name, "hash", role)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		return Principal{UserID: u.ID, Username: u.Username, Role: u.Role}
	}
	f := &fixture{
		gate:  &Gate{Repo: repo},
		alice: mk("alice", roles.User),
		bob:   mk("bob", roles.User),
		admin: mk("root", roles.Admin),
	}
	for _, id := range []string{"a", "b"} {
		if _, err := repo.EnsureDevice(ctx, "rosaiq:"+id, id, "", ""); err != nil {
			t.Fatalf("ensure: %v", err)
		}
	}
	if _, err := f.gate.Claim(ctx, f.alice, "a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	return f
}

func TestAuthorizeDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.gate.AuthorizeDevice(ctx, f.alice, "rosaiq:a"); err != nil {
		t.Fatalf("owner denied: %v", err)
	}
	if _, err := f.gate.AuthorizeDevice(ctx, f.bob, "rosaiq:a"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for non-owner, got %v", err)
	}
	if _, err := f.gate.AuthorizeDevice(ctx, f.alice, "rosaiq:b"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for unowned device, got %v", err)
	}
	if _, err := f.gate.AuthorizeDevice(ctx, f.bob, "rosaiq:nope"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for unknown device, got %v", err)
	}
	for _, id := range []string{"rosaiq:a", "rosaiq:b"} {
		if _, err := f.gate.AuthorizeDevice(ctx, f.admin, id); err != nil {
			t.Fatalf("admin denied %s: %v", id, err)
		}
	}
	if _, err := f.gate.AuthorizeDevice(ctx, f.admin, "rosaiq:nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for admin on unknown device, got %v", err)
	}
}

func TestOwnsAndScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if ok, err := f.gate.Owns(ctx, f.alice.UserID, "rosaiq:a"); err != nil || !ok {
		t.Fatalf("expected alice to own a: %v %v", ok, err)
	}
	if ok, _ := f.gate.Owns(ctx, f.bob.UserID, "rosaiq:a"); ok {
		t.Fatalf("bob must not own a")
	}
	if ok, err := f.gate.Owns(ctx, f.bob.UserID, "rosaiq:nope"); err != nil || ok {
		t.Fatalf("unknown device must be unowned: %v %v", ok, err)
	}
	if Scope(f.admin) != nil {
		t.Fatalf("admin scope must be unrestricted")
	}
	if s := Scope(f.alice); s == nil || *s != f.alice.UserID {
		t.Fatalf("user scope must be own id")
	}
}

func TestClaimConflictsAndAdminOnlyAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.gate.Claim(ctx, f.bob, "a"); !errors.Is(err, store.ErrAlreadyOwned) {
		t.Fatalf("expected already owned, got %v", err)
	}
	if _, err := f.gate.Claim(ctx, f.bob, "zzz"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.gate.Claim(ctx, f.bob, ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if _, err := f.gate.Unassign(ctx, f.alice, "rosaiq:a"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("owner must not unassign, got %v", err)
	}
	if _, err := f.gate.Assign(ctx, f.alice, "rosaiq:b", f.alice.UserID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("owner must not assign, got %v", err)
	}

	dev, err := f.gate.Assign(ctx, f.admin, "rosaiq:a", f.bob.UserID)
	if err != nil {
		t.Fatalf("admin reassign: %v", err)
	}
	if dev.OwnerID == nil || *dev.OwnerID != f.bob.UserID {
		t.Fatalf("expected bob as owner, got %v", dev.OwnerID)
	}
	dev, err = f.gate.Unassign(ctx, f.admin, "rosaiq:a")
	if err != nil {
		t.Fatalf("admin unassign: %v", err)
	}
	if dev.OwnerID != nil {
		t.Fatalf("expected unowned device")
	}
	if _, err := f.gate.Assign(ctx, f.admin, "rosaiq:a", uuid.New()); !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(hash, "correct horse") {
		t.Fatalf("expected match")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatalf("expected mismatch")
	}
	if _, err := HashPassword("123"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected short password rejected, got %v", err)
	}
	if _, err := HashPassword(strings.Repeat("a", 73)); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected long password rejected, got %v", err)
	}
	if _, err := HashPassword(strings.Repeat("a", 72)); err != nil {
		t.Fatalf("72 bytes should hash: %v", err)
	}
}
