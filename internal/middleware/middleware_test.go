package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NASA-0007/Rosaiq-Trial/internal/store"
	"github.com/NASA-0007/Rosaiq-Trial/pkg/roles"
	"github.com/google/uuid"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

type fakeUsers map[uuid.UUID]*store.User

func (f fakeUsers) GetUser(_ context.Context, id uuid.UUID) (*store.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, store.ErrUserNotFound
}

func (f fakeUsers) add(name, role string) *store.User {
	u := &store.User{ID: uuid.New(), Username: name, Role: role}
	f[u.ID] = u
	return u
}

type brokenUsers struct{}

func (brokenUsers) GetUser(context.Context, uuid.UUID) (*store.User, error) {
	return nil, errors.New("database is closed")
}

func serve(h http.Handler, tok string) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestSessionRoundTrip(t *testing.T) {
	users := fakeUsers{}
	alice := users.add("alice", roles.User)
	s := NewSessions("secret", time.Hour, users)
	id := alice.ID
	tok, exp, err := s.Issue(id, "alice", roles.User)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry in the past")
	}

	var got string
	h := s.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r)
		if !ok || p.UserID != id || p.Username != "alice" {
			t.Errorf("unexpected principal %+v", p)
		}
		got = p.Role
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != roles.User {
		t.Fatalf("handler not reached with bearer token")
	}

	got = ""
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tok})
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != roles.User {
		t.Fatalf("handler not reached with cookie")
	}
}

func TestSessionRejectsBadTokens(t *testing.T) {
	users := fakeUsers{}
	alice := users.add("alice", roles.User)
	s := NewSessions("secret", time.Hour, users)
	other := NewSessions("other", time.Hour, users)
	forged, _, _ := other.Issue(alice.ID, "mallory", roles.Admin)

	expired := NewSessions("secret", time.Hour, users)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _, _ := expired.Issue(alice.ID, "alice", roles.User)

	for name, header := range map[string]string{
		"missing": "",
		"garbage": "Bearer not-a-token",
		"forged":  "Bearer " + forged,
		"expired": "Bearer " + stale,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			s.RequireSession(okHandler()).ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	users := fakeUsers{}
	s := NewSessions("secret", time.Hour, users)
	h := s.RequireSession(RequireAdmin(okHandler()))

	for role, want := range map[string]int{roles.User: http.StatusForbidden, roles.Admin: http.StatusNoContent} {
		u := users.add("u-"+role, role)
		tok, _, _ := s.Issue(u.ID, u.Username, role)
		if got := serve(h, tok); got != want {
			t.Fatalf("role %s: expected %d, got %d", role, want, got)
		}
	}
}

func TestSessionUsesStoredRole(t *testing.T) {
	users := fakeUsers{}
	s := NewSessions("secret", time.Hour, users)
	h := s.RequireSession(RequireAdmin(okHandler()))

	root := users.add("root", roles.Admin)
	tok, _, _ := s.Issue(root.ID, root.Username, roles.Admin)
	if got := serve(h, tok); got != http.StatusNoContent {
		t.Fatalf("admin: expected 204, got %d", got)
	}
	root.Role = roles.User
	if got := serve(h, tok); got != http.StatusForbidden {
		t.Fatalf("demoted admin: expected 403, got %d", got)
	}

	bob := users.add("bob", roles.User)
	elevated, _, _ := s.Issue(bob.ID, bob.Username, roles.Admin)
	if got := serve(h, elevated); got != http.StatusForbidden {
		t.Fatalf("role claim must not grant admin, got %d", got)
	}
}

func TestSessionRejectsUnknownUser(t *testing.T) {
	users := fakeUsers{}
	s := NewSessions("secret", time.Hour, users)
	gone := users.add("gone", roles.Admin)
	tok, _, _ := s.Issue(gone.ID, gone.Username, roles.Admin)
	delete(users, gone.ID)
	if got := serve(s.RequireSession(okHandler()), tok); got != http.StatusUnauthorized {
		t.Fatalf("deleted user: expected 401, got %d", got)
	}

	broken := NewSessions("secret", time.Hour, brokenUsers{})
	if got := serve(broken.RequireSession(okHandler()), tok); got != http.StatusInternalServerError {
		t.Fatalf("lookup failure: expected 500, got %d", got)
	}
}

func TestAPIKey(t *testing.T) {
	guarded := APIKey(true, "k3y")(okHandler())
	cases := map[string]int{"": http.StatusUnauthorized, "wrong": http.StatusUnauthorized, "k3y": http.StatusNoContent}
	for key, want := range cases {
		req := httptest.NewRequest(http.MethodPost, "/sensors/x/measures", nil)
		if key != "" {
			req.Header.Set(APIKeyHeader, key)
		}
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("key %q: expected %d, got %d", key, want, rec.Code)
		}
	}

	open := APIKey(false, "k3y")(okHandler())
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("disabled guard must pass through, got %d", rec.Code)
	}
}
