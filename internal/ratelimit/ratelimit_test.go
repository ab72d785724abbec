package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestKeyByDevice(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Post("/sensors/{deviceId}/measures", func(w http.ResponseWriter, r *http.Request) {
		got = KeyByDevice(r)
	})
	req := httptest.NewRequest(http.MethodPost, "/sensors/rosaiq:abc/measures", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)
	if got != "device:rosaiq:abc" {
		t.Fatalf("unexpected key %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/config", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	if k := KeyByDevice(req); k != "ip:10.0.0.7" {
		t.Fatalf("unexpected fallback key %q", k)
	}
}

func TestMiddlewareFailsOpenWithoutRedis(t *testing.T) {
	// Nothing listens on port 1.
	rl := New(NewClient("127.0.0.1:1", ""), "test", LimiterConfig{RPS: 1, Burst: 1})
	defer rl.Redis.Close()

	if err := Ping(context.Background(), rl.Redis); err == nil {
		t.Fatalf("expected ping to fail")
	}
	h := rl.Middleware(KeyByIP)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected pass-through, got %d", i, rec.Code)
		}
	}
}
