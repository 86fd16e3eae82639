package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// Hub endpoint paths
	authorizePath = "/auth/authorize"
	tokenPath     = "/auth/token"
	statesPath    = "/api/states"
	openLockPath  = "/api/services/lock/open"

	// HTTP request timeouts
	defaultTimeout = 15 * time.Second

	maxBodyBytes = 1 << 20
)

// Client calls hubs on behalf of this service. The hub base URL is passed per
// call because every integration points at its own hub.
type Client struct {
	client      *http.Client
	clientID    string
	redirectURI string
}

// Config holds client settings
type Config struct {
	// ClientID is this service's public URL, which hubs use as the OAuth client id
	ClientID string

	// RedirectURI receives the authorization callback
	RedirectURI string

	// Timeout bounds every outbound request; defaults to 15s
	Timeout time.Duration

	// HTTPClient overrides the underlying client, mainly for tests
	HTTPClient *http.Client
}

// NewClient creates a hub client
func NewClient(cfg Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.RedirectURI == "" {
		return nil, fmt.Errorf("redirect URI is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		client:      httpClient,
		clientID:    cfg.ClientID,
		redirectURI: cfg.RedirectURI,
	}, nil
}

// AuthorizeURL builds the hub authorization URL carrying state
func (c *Client) AuthorizeURL(baseURL, state string) string {
	cfg := oauth2.Config{
		ClientID:    c.clientID,
		RedirectURL: c.redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   baseURL + authorizePath,
			TokenURL:  baseURL + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return cfg.AuthCodeURL(state)
}

// ExchangeCode exchanges an authorization code for the initial token pair
func (c *Client) ExchangeCode(ctx context.Context, baseURL, code, clientSecret string) (*Token, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {c.redirectURI},
		"client_id":     {c.clientID},
		"client_secret": {clientSecret},
	}

	token, err := c.requestToken(ctx, baseURL, data)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("exchanging code: %w: response missing refresh_token", ErrUpstreamAuth)
	}
	return token, nil
}

// RefreshToken obtains a new access token with a refresh token
func (c *Client) RefreshToken(ctx context.Context, baseURL, refreshToken, clientSecret string) (*Token, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.clientID},
		"client_secret": {clientSecret},
	}

	token, err := c.requestToken(ctx, baseURL, data)
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	return token, nil
}

// requestToken posts a form to the token endpoint. Every failure wraps ErrUpstreamAuth.
func (c *Client) requestToken(ctx context.Context, baseURL string, data url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+tokenPath, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: creating token request: %w", ErrUpstreamAuth, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending token request: %w", ErrUpstreamAuth, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading token response: %w", ErrUpstreamAuth, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
			return nil, fmt.Errorf("%w: token endpoint returned status %d", ErrUpstreamAuth, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: token endpoint returned status %d: %s: %s",
			ErrUpstreamAuth, resp.StatusCode, errResp.Error, errResp.ErrorDescription)
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    *int64 `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("%w: parsing token response: %w", ErrUpstreamAuth, err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("%w: response missing access_token", ErrUpstreamAuth)
	}
	if tokenResp.ExpiresIn == nil {
		return nil, fmt.Errorf("%w: response missing expires_in", ErrUpstreamAuth)
	}

	return &Token{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresIn:    time.Duration(*tokenResp.ExpiresIn) * time.Second,
	}, nil
}

// bearer returns a client that attaches accessToken to every request
func (c *Client) bearer(ctx context.Context, accessToken string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	client.Timeout = c.client.Timeout
	return client
}

// States lists all entity states known to the hub
func (c *Client) States(ctx context.Context, baseURL, accessToken string) ([]Entity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+statesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating states request: %w", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.bearer(ctx, accessToken).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending states request: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: states returned status %d", ErrUpstream, resp.StatusCode)
	}

	var entities []Entity
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8*maxBodyBytes)).Decode(&entities); err != nil {
		return nil, fmt.Errorf("%w: parsing states response: %w", ErrUpstream, err)
	}
	return entities, nil
}

// OpenLock calls the lock.open service for entityID and returns the hub's status code verbatim
func (c *Client) OpenLock(ctx context.Context, baseURL, accessToken, entityID string) (int, error) {
	payload, err := json.Marshal(map[string]string{"entity_id": entityID})
	if err != nil {
		return 0, fmt.Errorf("%w: encoding open request: %w", ErrUpstream, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+openLockPath, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("%w: creating open request: %w", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.bearer(ctx, accessToken).Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: sending open request: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	return resp.StatusCode, nil
}
