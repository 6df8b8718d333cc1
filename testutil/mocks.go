package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockIdentityServer mocks the Twitch identity endpoints (/validate, /token).
type MockIdentityServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockIdentityServer creates a mock identity provider; register per-path
// handlers on Handlers, unknown paths return 404.
func NewMockIdentityServer(t *testing.T) *MockIdentityServer {
	t.Helper()
	m := &MockIdentityServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockValidateResponse serves a 200 validation result with the given
// remaining lifetime and scopes.
func (m *MockIdentityServer) MockValidateResponse(login, userID string, expiresIn int, scopes []string) {
	m.Handlers["/validate"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"client_id":  "mock-client",
			"login":      login,
			"user_id":    userID,
			"scopes":     scopes,
			"expires_in": expiresIn,
		})
	}
}

// MockValidateRejection serves a 401 for every validation call.
func (m *MockIdentityServer) MockValidateRejection() {
	m.Handlers["/validate"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status":401,"message":"invalid access token"}`))
	}
}

// MockTokenGrant serves a 200 token response for refresh and code exchanges.
func (m *MockIdentityServer) MockTokenGrant(access, refresh string, expiresIn int, scopes []string) {
	m.Handlers["/token"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  access,
			"refresh_token": refresh,
			"token_type":    "bearer",
			"scope":         scopes,
			"expires_in":    expiresIn,
		})
	}
}

// MockTokenRejection serves a 400 for every token grant.
func (m *MockIdentityServer) MockTokenRejection() {
	m.Handlers["/token"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":400,"message":"Invalid refresh token"}`))
	}
}
