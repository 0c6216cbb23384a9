// Package accounts manages linked calendar identities and their credentials.
//
// Linking exchanges a server authorization code for access and refresh
// tokens and persists the account. Refreshing is deliberately not delegated
// to an oauth2.TokenSource: the reconciler needs to proceed with a stale
// access token when refresh fails, and a TokenSource fails hard instead.
package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"eventsieve/internal/store"
)

// DefaultTokenURL is Google's OAuth 2.0 token endpoint.
const DefaultTokenURL = "https://oauth2.googleapis.com/token"

// Config holds the OAuth client identity used for code exchange and refresh.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string // empty = DefaultTokenURL
}

// Manager links, unlinks and refreshes accounts against the store.
type Manager struct {
	store  store.Store
	cfg    Config
	client *http.Client
	log    *logrus.Logger
}

// NewManager creates a Manager.
func NewManager(s store.Store, cfg Config, log *logrus.Logger) *Manager {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	return &Manager{
		store:  s,
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}
}

// Link exchanges authCode for tokens and persists the account. An exchange
// failure still records the account identity with empty credentials — the
// user is linked, pushes will fail until re-auth, matching the nullable
// token lifecycle.
func (m *Manager) Link(ctx context.Context, id, email, displayName, authCode string) (*store.LinkedAccount, error) {
	acct := &store.LinkedAccount{
		ID:          id,
		Email:       email,
		DisplayName: displayName,
		LinkedAt:    time.Now().UTC(),
	}

	if authCode != "" {
		tok, err := m.exchange(ctx, authCode)
		if err != nil {
			m.log.WithError(err).WithField("account", id).Warn("authorization code exchange failed, linking without credentials")
		} else {
			acct.AccessToken = tok.AccessToken
			acct.RefreshToken = tok.RefreshToken
		}
	}

	if err := m.store.PutAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("persisting account %s: %w", id, err)
	}

	m.log.WithFields(logrus.Fields{"account": id, "email": email}).Info("account linked")
	return acct, nil
}

// Unlink removes an account and its stored credentials.
func (m *Manager) Unlink(ctx context.Context, id string) error {
	if err := m.store.DeleteAccount(ctx, id); err != nil {
		return fmt.Errorf("unlinking account %s: %w", id, err)
	}
	m.log.WithField("account", id).Info("account unlinked")
	return nil
}

// exchange swaps an authorization code for tokens via the configured
// endpoint.
func (m *Manager) exchange(ctx context.Context, authCode string) (*oauth2.Token, error) {
	conf := &oauth2.Config{
		ClientID:     m.cfg.ClientID,
		ClientSecret: m.cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: m.cfg.TokenURL},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.client)
	return conf.Exchange(ctx, authCode)
}

// refreshResponse is the token endpoint's reply; access_token may be absent
// on failure even with a 200 status.
type refreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Refresh exchanges a refresh credential for a new access token via a
// form-encoded POST. Returns an error when the endpoint fails or returns no
// access token.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", fmt.Errorf("no refresh token")
	}

	form := url.Values{}
	form.Set("client_id", m.cfg.ClientID)
	form.Set("client_secret", m.cfg.ClientSecret)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, "POST", m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var rr refreshResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return "", fmt.Errorf("parsing refresh response: %w", err)
	}
	if rr.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access token")
	}
	return rr.AccessToken, nil
}
