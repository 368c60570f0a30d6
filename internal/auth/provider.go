// Package auth handles the Google OAuth flow, credential lifecycle, and
// the per-action authorization gate.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ewalk/calbot/internal/types"
)

const (
	defaultAuthURL   = "https://accounts.google.com/o/oauth2/auth"
	defaultTokenURL  = "https://oauth2.googleapis.com/token"
	defaultRevokeURL = "https://oauth2.googleapis.com/revoke"

	calendarScope = "https://www.googleapis.com/auth/calendar.events https://www.googleapis.com/auth/calendar.readonly"
)

// ProviderConfig configures the OAuth client. The endpoint URLs are
// overridable for tests.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL   string
	TokenURL  string
	RevokeURL string
}

// Provider is the Google OAuth 2.0 client: it builds consent URLs and
// exchanges, refreshes, and revokes credential bundles.
type Provider struct {
	config     ProviderConfig
	httpClient *http.Client
}

// NewProvider creates an OAuth provider
func NewProvider(config ProviderConfig) *Provider {
	if config.AuthURL == "" {
		config.AuthURL = defaultAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultTokenURL
	}
	if config.RevokeURL == "" {
		config.RevokeURL = defaultRevokeURL
	}
	return &Provider{
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// AuthURL builds the consent URL carrying the given state token.
// access_type=offline and prompt=consent make Google return a refresh
// token on every grant.
func (p *Provider) AuthURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {calendarScope},
		"state":         {state},
		"access_type":   {"offline"},
		"prompt":        {"consent"},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Exchange trades an authorization code for a credential bundle
func (p *Provider) Exchange(ctx context.Context, code string) (*types.Credential, error) {
	resp, err := p.tokenRequest(ctx, url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	if resp.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token in exchange response")
	}
	return credentialFrom(resp, ""), nil
}

// Refresh trades the refresh token for a fresh bundle. The old bundle's
// refresh token is carried over when Google omits it from the response.
func (p *Provider) Refresh(ctx context.Context, cred *types.Credential) (*types.Credential, error) {
	if cred == nil || cred.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token available")
	}
	resp, err := p.tokenRequest(ctx, url.Values{
		"refresh_token": {cred.RefreshToken},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"grant_type":    {"refresh_token"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	return credentialFrom(resp, cred.RefreshToken), nil
}

// Revoke invalidates the credential with the provider
func (p *Provider) Revoke(ctx context.Context, cred *types.Credential) error {
	if cred == nil {
		return nil
	}
	token := cred.RefreshToken
	if token == "" {
		token = cred.AccessToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.RevokeURL,
		strings.NewReader(url.Values{"token": {token}}.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("revoke failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (p *Provider) tokenRequest(ctx context.Context, data url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL,
		strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}
	return &tr, nil
}

func credentialFrom(tr *tokenResponse, fallbackRefresh string) *types.Credential {
	refresh := tr.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	return &types.Credential{
		AccessToken:  tr.AccessToken,
		RefreshToken: refresh,
		Expiry:       time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
}
