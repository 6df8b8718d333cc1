// Package twitchapi talks to the Twitch identity endpoints: access token
// validation, the refresh_token grant, and the authorization-code grant used
// for out-of-band re-authorization.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAuthBase is the production Twitch identity endpoint prefix.
const DefaultAuthBase = "https://id.twitch.tv/oauth2"

// ErrTokenInvalid is returned by Validate when the provider rejects the
// presented access token (any non-200 validation response).
var ErrTokenInvalid = errors.New("twitch access token invalid")

// ValidateResult is the 200 response of the validate endpoint.
type ValidateResult struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

// TokenGrantResult is the 200 response of the token endpoint for both the
// refresh_token and authorization_code grants. Twitch rotates the refresh
// token on every refresh; the returned pair replaces the old one entirely.
type TokenGrantResult struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Scope        []string `json:"scope"`
	ExpiresIn    int      `json:"expires_in"`
}

// Client carries the app identity used for token grants. The zero value of
// HTTPClient and AuthBase select a 10s-timeout client and the production
// endpoints; tests point AuthBase at an httptest server.
type Client struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	AuthBase     string
}

var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return defaultHTTPClient
}

func (c *Client) base() string {
	if c.AuthBase != "" {
		return strings.TrimRight(c.AuthBase, "/")
	}
	return DefaultAuthBase
}

// Validate asks Twitch how long the access token remains valid and which
// scopes it carries. Any non-200 status maps to ErrTokenInvalid; callers
// treat that as "expires now, no scopes" and move on to a refresh.
func (c *Client) Validate(ctx context.Context, accessToken string) (*ValidateResult, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrTokenInvalid)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/validate", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrTokenInvalid, resp.Status)
	}
	var res ValidateResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode validate response: %w", err)
	}
	return &res, nil
}

// Refresh exchanges a refresh token for a new access/refresh pair. The given
// refresh token is single-use: a successful call invalidates it, so failures
// must not be retried with the same token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenGrantResult, error) {
	if c.ClientID == "" || c.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.tokenGrant(ctx, form)
}

// ExchangeAuthCode exchanges an authorization code for access & refresh tokens.
func (c *Client) ExchangeAuthCode(ctx context.Context, code, redirectURI string) (*TokenGrantResult, error) {
	if c.ClientID == "" || c.ClientSecret == "" || code == "" || redirectURI == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", redirectURI)
	return c.tokenGrant(ctx, form)
}

func (c *Client) tokenGrant(ctx context.Context, form url.Values) (*TokenGrantResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("twitch token grant failed: %s: %s", resp.Status, string(b))
	}
	var res TokenGrantResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		return nil, errors.New("incomplete token pair in twitch response")
	}
	return &res, nil
}

// BuildAuthorizeURL constructs the user authorization URL for the OAuth code grant.
func BuildAuthorizeURL(clientID, redirectURI, scopes, state string) (string, error) {
	if clientID == "" || redirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", clientID)
	v.Set("redirect_uri", redirectURI)
	if scopes != "" {
		v.Set("scope", strings.TrimSpace(strings.ReplaceAll(scopes, ",", " ")))
	}
	if state != "" {
		v.Set("state", state)
	}
	return DefaultAuthBase + "/authorize?" + v.Encode(), nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
