package auth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareRejectsMissingKey(t *testing.T) {
	store := &CredentialStore{Logger: slog.Default()}
	mw := Middleware(store, slog.Default())

	called := false
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if called {
		t.Fatal("handler should not be called without a valid key")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestMiddlewareAcceptsBootstrapKey(t *testing.T) {
	store := &CredentialStore{BootstrapKey: "boot-secret", Logger: slog.Default()}
	mw := Middleware(store, slog.Default())

	var seen *Principal
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	r.Header.Set("x-api-key", "boot-secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if seen == nil || !seen.IsAdmin() {
		t.Fatalf("expected admin principal in context, got %+v", seen)
	}
}
