// Package oauth owns the bot's user credential: a mutex-guarded lifecycle
// manager that validates, refreshes, persists, and propagates the token pair,
// plus a jittered scheduler driving periodic checks.
package oauth

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/relaxbot/telemetry"
)

// RefreshWindow is the remaining lifetime below which a refresh is forced.
// Refreshing well before expiry tolerates clock skew and call latency.
const RefreshWindow = 300 * time.Second

// callTimeout bounds each identity-provider call so a stalled endpoint
// cannot stall the scheduler indefinitely.
const callTimeout = 10 * time.Second

// Credential is the access/refresh token pair plus provider metadata. The
// pair is always replaced as a unit; a mixed pair would desynchronize every
// future refresh call.
type Credential struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       []string
}

// ValidateFunc reports the remaining lifetime and granted scopes of an
// access token. The manager treats any error as "expires now, no scopes".
type ValidateFunc func(ctx context.Context, accessToken string) (remaining time.Duration, scopes []string, err error)

// RefreshFunc exchanges a (single-use) refresh token for a new credential.
type RefreshFunc func(ctx context.Context, refreshToken string) (Credential, error)

// PersistFunc durably stores the pair. Failures are reported but never roll
// back the in-memory credential; at worst a restart redoes one refresh.
type PersistFunc func(ctx context.Context, cred Credential) error

// TokenSink receives the new access token after each successful refresh so a
// live connection keeps working without reconnecting.
type TokenSink interface {
	UpdateLiveToken(token string)
}

// Manager holds the single authoritative credential for the process. The
// scheduler and command handlers both funnel through EnsureValid, so at most
// one refresh is in flight and every caller observes the same pair.
type Manager struct {
	validate ValidateFunc
	refresh  RefreshFunc
	persist  PersistFunc
	required []string

	mu   sync.Mutex
	cred Credential
	sink TokenSink
}

func NewManager(cred Credential, validate ValidateFunc, refresh RefreshFunc, persist PersistFunc, requiredScopes []string) *Manager {
	return &Manager{
		validate: validate,
		refresh:  refresh,
		persist:  persist,
		required: requiredScopes,
		cred:     cred,
	}
}

// SetSink attaches the live connection once it exists. Passing nil detaches.
func (m *Manager) SetSink(sink TokenSink) {
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
}

// Current returns a snapshot of the credential for status reporting.
func (m *Manager) Current() Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred
}

// Adopt replaces the credential with one obtained out of band (e.g. the
// re-authorization callback) and pushes it into the live connection.
func (m *Manager) Adopt(ctx context.Context, cred Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.install(ctx, cred)
	slog.Info("adopted re-authorized credential", slog.Time("expiry", cred.Expiry))
}

// EnsureValid reports whether the credential is currently usable for chat,
// refreshing it first when it is near expiry or missing a required scope.
// The whole check-refresh-replace sequence runs under the mutex: concurrent
// invocations serialize, never issue two refresh calls against the same
// single-use refresh token, and never observe a half-updated pair. On
// refresh failure the credential is left untouched and false is returned;
// the refresh token is dead and only re-authorization can recover it.
func (m *Manager) EnsureValid(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	var spanErr error
	ctx, span := telemetry.StartSpan(ctx, "token.ensure_valid")
	defer func() { telemetry.EndSpan(span, spanErr) }()

	vctx, cancel := context.WithTimeout(ctx, callTimeout)
	remaining, scopes, err := m.validate(vctx, m.cred.AccessToken)
	cancel()
	telemetry.CountValidation(err == nil)
	if err != nil {
		slog.Warn("token validation failed; forcing refresh", slog.Any("err", err))
		remaining, scopes = 0, nil
	}
	if remaining >= RefreshWindow && hasScopes(scopes, m.required) {
		telemetry.SetTokenRemaining(remaining)
		return true
	}

	slog.Info("refreshing token", slog.Duration("remaining", remaining), slog.Any("scopes", scopes))
	rctx, cancel := context.WithTimeout(ctx, callTimeout)
	refreshStart := time.Now()
	cred, err := m.refresh(rctx, m.cred.RefreshToken)
	telemetry.ObserveRefreshDuration(time.Since(refreshStart))
	cancel()
	if err != nil {
		spanErr = err
		telemetry.CountRefresh(false)
		slog.Error("token refresh failed; re-authorize out of band",
			slog.Any("err", err),
			slog.String("hint", "twitch token -u -s '"+strings.Join(m.required, " ")+"'"))
		return false
	}
	m.install(ctx, cred)
	telemetry.CountRefresh(true)
	telemetry.SetTokenRemaining(time.Until(cred.Expiry))
	return true
}

// install replaces the credential, updates the live connection, then
// persists. Persistence comes last so a crash in between only costs redoing
// an already-successful refresh on restart. Caller holds m.mu.
func (m *Manager) install(ctx context.Context, cred Credential) {
	m.cred = cred
	if m.sink != nil {
		m.sink.UpdateLiveToken(cred.AccessToken)
	}
	if m.persist != nil {
		if err := m.persist(ctx, cred); err != nil {
			slog.Warn("token persist failed; continuing with in-memory credential", slog.Any("err", err))
		}
	}
}

func hasScopes(granted, required []string) bool {
	for _, want := range required {
		found := false
		for _, got := range granted {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
