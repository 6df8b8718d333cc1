package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/relaxbot/config"
	dbpkg "github.com/onnwee/relaxbot/db"
	"github.com/onnwee/relaxbot/oauth"
	"github.com/onnwee/relaxbot/twitchapi"
)

const tokenProvider = "twitch"

// Manager is the slice of the lifecycle manager the HTTP surface needs.
type Manager interface {
	Current() oauth.Credential
	Adopt(ctx context.Context, cred oauth.Credential)
}

// Handlers carries the dependencies shared by all HTTP handlers.
type Handlers struct {
	db     *sql.DB
	cfg    *config.Config
	twitch *twitchapi.Client
	mgr    Manager
	start  time.Time

	stateMu    sync.RWMutex
	stateStore map[string]time.Time
}

func NewHandlers(db *sql.DB, cfg *config.Config, tc *twitchapi.Client, mgr Manager) *Handlers {
	return &Handlers{
		db:         db,
		cfg:        cfg,
		twitch:     tc,
		mgr:        mgr,
		start:      time.Now(),
		stateStore: make(map[string]time.Time),
	}
}

// HandleHealthz responds to liveness probes by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes with detailed checks: the
// database must answer and a credential pair must be stored.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"credentials", func() error {
			var count int
			err := h.db.QueryRowContext(r.Context(),
				"SELECT COUNT(*) FROM oauth_tokens WHERE provider = $1", tokenProvider).Scan(&count)
			if err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("missing OAuth tokens")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus reports the bot identity and current token state. Tokens
// themselves are never exposed, only expiry and scopes.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cred := h.mgr.Current()
	login, _ := dbpkg.GetKV(ctx, h.db, "bot_login")
	userID, _ := dbpkg.GetKV(ctx, h.db, "bot_user_id")

	out := map[string]any{
		"channel":        h.cfg.TwitchChannel,
		"bot_login":      login,
		"bot_user_id":    userID,
		"token_scopes":   cred.Scopes,
		"uptime_seconds": int(time.Since(h.start).Seconds()),
	}
	if !cred.Expiry.IsZero() {
		out["token_expires_at"] = cred.Expiry.UTC().Format(time.RFC3339)
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// HandleOAuthStart initiates the Twitch code grant by redirecting to Twitch.
// This is the out-of-band recovery path when a refresh token has been
// rejected and the bot is running degraded.
func (h *Handlers) HandleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.cfg.TwitchClientID == "" || h.cfg.TwitchRedirectURI == "" {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	st := hex.EncodeToString(b)
	h.addOAuthState(st, time.Now().Add(10*time.Minute))
	authURL, err := twitchapi.BuildAuthorizeURL(h.cfg.TwitchClientID, h.cfg.TwitchRedirectURI, h.cfg.TwitchScopes, st)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleOAuthCallback exchanges the code, persists the new pair, and hands
// it to the lifecycle manager so the live connection picks it up.
func (h *Handlers) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.takeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	res, err := h.twitch.ExchangeAuthCode(ctx, code, h.cfg.TwitchRedirectURI)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	cred := oauth.Credential{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		Expiry:       twitchapi.ComputeExpiry(res.ExpiresIn),
		Scopes:       res.Scope,
	}
	if err := dbpkg.UpsertOAuthToken(ctx, h.db, tokenProvider, cred.AccessToken, cred.RefreshToken, cred.Expiry, strings.Join(cred.Scopes, " ")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.mgr.Adopt(ctx, cred)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "ok", "scopes": res.Scope, "expires_in": res.ExpiresIn}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

func (h *Handlers) addOAuthState(state string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	// opportunistic cleanup of expired states
	now := time.Now()
	for s, exp := range h.stateStore {
		if now.After(exp) {
			delete(h.stateStore, s)
		}
	}
	h.stateStore[state] = expiry
}

// takeOAuthState consumes a pending state, returning false when unknown or expired.
func (h *Handlers) takeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return !time.Now().After(exp)
}
