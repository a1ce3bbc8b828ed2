package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMetadataCacheTTL is the default TTL for cached OAuth metadata.
	DefaultMetadataCacheTTL = 30 * time.Minute

	// transientRetryAttempts bounds local retries of transport-level failures
	// (timeouts, 5xx). Application-level 4xx errors propagate immediately.
	transientRetryAttempts = 3

	// transientRetryBaseDelay is the initial backoff delay, doubled per attempt.
	transientRetryBaseDelay = 500 * time.Millisecond
)

// Well-known metadata paths.
const (
	wellKnownProtectedResource   = "/.well-known/oauth-protected-resource"
	wellKnownAuthorizationServer = "/.well-known/oauth-authorization-server"
	wellKnownOpenIDConfiguration = "/.well-known/openid-configuration"
)

// metadataCacheEntry holds cached OAuth metadata with its timestamp.
type metadataCacheEntry struct {
	metadata  *Metadata
	fetchedAt time.Time
}

// Client handles OAuth 2.1 protocol operations against a remote authorization
// server: metadata discovery, dynamic client registration, authorization-code
// exchange, refresh, and the device authorization grant.
//
// The client is stateless with respect to flows; it holds only the HTTP
// client and a TTL-bounded metadata cache. Callers own token persistence.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	// Metadata cache with mutex for thread safety
	metadataMu    sync.RWMutex
	metadataCache map[string]*metadataCacheEntry
	metadataTTL   time.Duration

	// singleflight group to deduplicate concurrent metadata fetches
	metadataGroup singleflight.Group

	// now and sleep are injectable for testing timing behavior.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// ClientOption configures the OAuth client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetadataCacheTTL sets the metadata cache TTL.
func WithMetadataCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.metadataTTL = ttl
	}
}

// WithClock replaces the wall clock and sleep functions.
// Used by tests to drive polling and retry timing with a simulated clock.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) {
		c.now = now
		c.sleep = sleep
	}
}

// NewClient creates a new OAuth client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: DefaultHTTPTimeout},
		logger:        slog.Default(),
		metadataCache: make(map[string]*metadataCacheEntry),
		metadataTTL:   DefaultMetadataCacheTTL,
		now:           time.Now,
		sleep:         sleepContext,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// sleepContext sleeps for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DiscoverServer resolves the full OAuth configuration for a protected
// resource. It fetches the resource's RFC 9728 protected-resource metadata to
// learn the authorization server, then discovers that server's RFC 8414
// metadata. When the resource publishes no protected-resource document, the
// resource URL itself is treated as the issuer.
func (c *Client) DiscoverServer(ctx context.Context, baseURL string) (*ServerConfig, error) {
	resourceURL := NormalizeServerURL(baseURL)

	issuer := resourceURL
	if prm, err := c.DiscoverProtectedResource(ctx, resourceURL); err == nil && len(prm.AuthorizationServers) > 0 {
		issuer = strings.TrimSuffix(prm.AuthorizationServers[0], "/")
	} else if err != nil {
		c.logger.Debug("No protected resource metadata, treating resource as issuer",
			"resource", resourceURL,
			"error", err)
	}

	metadata, err := c.DiscoverMetadata(ctx, issuer)
	if err != nil {
		return nil, err
	}

	return &ServerConfig{
		ResourceURL: resourceURL,
		Metadata:    metadata,
	}, nil
}

// DiscoverProtectedResource fetches the RFC 9728 protected resource metadata
// for the given resource base URL.
func (c *Client) DiscoverProtectedResource(ctx context.Context, resourceURL string) (*ProtectedResourceMetadata, error) {
	metadataURL := strings.TrimSuffix(resourceURL, "/") + wellKnownProtectedResource

	body, err := c.getJSON(ctx, metadataURL)
	if err != nil {
		return nil, fmt.Errorf("%w: protected resource metadata: %v", ErrDiscovery, err)
	}

	var prm ProtectedResourceMetadata
	if err := json.Unmarshal(body, &prm); err != nil {
		return nil, fmt.Errorf("%w: failed to parse protected resource metadata: %v", ErrDiscovery, err)
	}

	return &prm, nil
}

// DiscoverMetadata fetches OAuth metadata from the issuer's well-known endpoint.
// It tries RFC 8414 (/.well-known/oauth-authorization-server) first,
// then falls back to OpenID Connect (/.well-known/openid-configuration).
//
// Results are cached with a TTL to reduce network requests.
func (c *Client) DiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	issuer = strings.TrimSuffix(issuer, "/")

	// Check cache first with read lock
	c.metadataMu.RLock()
	if entry, ok := c.metadataCache[issuer]; ok {
		if time.Since(entry.fetchedAt) < c.metadataTTL {
			c.metadataMu.RUnlock()
			return entry.metadata, nil
		}
	}
	c.metadataMu.RUnlock()

	// Use singleflight to deduplicate concurrent fetches
	result, err, _ := c.metadataGroup.Do(issuer, func() (interface{}, error) {
		// Double-check cache after acquiring singleflight lock
		c.metadataMu.RLock()
		if entry, ok := c.metadataCache[issuer]; ok {
			if time.Since(entry.fetchedAt) < c.metadataTTL {
				c.metadataMu.RUnlock()
				return entry.metadata, nil
			}
		}
		c.metadataMu.RUnlock()

		return c.doDiscoverMetadata(ctx, issuer)
	})

	if err != nil {
		return nil, err
	}

	return result.(*Metadata), nil
}

// doDiscoverMetadata performs the actual HTTP fetches for OAuth metadata.
func (c *Client) doDiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	metadata, err := c.fetchMetadata(ctx, issuer+wellKnownAuthorizationServer)
	if err != nil {
		c.logger.Debug("RFC 8414 metadata fetch failed, trying OIDC",
			"issuer", issuer,
			"error", err)

		metadata, err = c.fetchMetadata(ctx, issuer+wellKnownOpenIDConfiguration)
		if err != nil {
			return nil, fmt.Errorf("%w: issuer %s: %v", ErrDiscovery, issuer, err)
		}
	}

	if metadata.AuthorizationEndpoint == "" || metadata.TokenEndpoint == "" {
		return nil, fmt.Errorf("%w: metadata for %s is missing authorization_endpoint or token_endpoint", ErrDiscovery, issuer)
	}

	c.cacheMetadata(issuer, metadata)
	return metadata, nil
}

// fetchMetadata fetches metadata from a specific URL.
func (c *Client) fetchMetadata(ctx context.Context, metadataURL string) (*Metadata, error) {
	body, err := c.getJSON(ctx, metadataURL)
	if err != nil {
		return nil, err
	}

	var metadata Metadata
	if err := json.Unmarshal(body, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	return &metadata, nil
}

// cacheMetadata stores metadata in the cache.
func (c *Client) cacheMetadata(issuer string, metadata *Metadata) {
	c.metadataMu.Lock()
	c.metadataCache[issuer] = &metadataCacheEntry{
		metadata:  metadata,
		fetchedAt: time.Now(),
	}
	c.metadataMu.Unlock()

	c.logger.Debug("Cached OAuth metadata",
		"issuer", issuer,
		"authorization_endpoint", metadata.AuthorizationEndpoint,
		"token_endpoint", metadata.TokenEndpoint)
}

// ClearMetadataCache clears the metadata cache.
// Useful for testing or when metadata needs to be refreshed immediately.
func (c *Client) ClearMetadataCache() {
	c.metadataMu.Lock()
	c.metadataCache = make(map[string]*metadataCacheEntry)
	c.metadataMu.Unlock()
}

// RegisterClient performs RFC 7591 dynamic client registration at the given
// registration endpoint and returns the issued client credentials.
func (c *Client) RegisterClient(ctx context.Context, registrationEndpoint string, meta ClientMetadata) (*ClientRegistration, error) {
	payload, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal client metadata: %v", ErrRegistration, err)
	}

	resp, body, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationEndpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistration, err)
	}

	// RFC 7591 servers answer 201 Created; accept any 2xx.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if serverErr := parseServerError(resp.StatusCode, body); serverErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrRegistration, serverErr)
		}
		return nil, fmt.Errorf("%w: registration request failed with status %d", ErrRegistration, resp.StatusCode)
	}

	var reg ClientRegistration
	if err := json.Unmarshal(body, &reg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse registration response: %v", ErrRegistration, err)
	}
	if reg.ClientID == "" {
		return nil, fmt.Errorf("%w: registration response is missing client_id", ErrRegistration)
	}
	if reg.IssuedAt.IsZero() {
		reg.IssuedAt = c.now()
	}

	c.logger.Info("Registered OAuth client",
		"registration_endpoint", registrationEndpoint,
		"client_id", reg.ClientID)

	return &reg, nil
}

// BuildAuthorizationURL constructs an OAuth authorization URL.
func (c *Client) BuildAuthorizationURL(authEndpoint, clientID, redirectURI, state, scope string, pkce *PKCEChallenge) (string, error) {
	authURL, err := url.Parse(authEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	query := authURL.Query()
	query.Set("response_type", "code")
	query.Set("client_id", clientID)
	query.Set("redirect_uri", redirectURI)
	query.Set("state", state)

	if scope != "" {
		query.Set("scope", scope)
	}

	if pkce != nil {
		query.Set("code_challenge", pkce.CodeChallenge)
		query.Set("code_challenge_method", pkce.CodeChallengeMethod)
	}

	authURL.RawQuery = query.Encode()
	return authURL.String(), nil
}

// ExchangeCode exchanges an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, tokenEndpoint, code, redirectURI, clientID, codeVerifier string) (*Token, error) {
	data := url.Values{
		"grant_type":    {GrantTypeAuthorizationCode},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {clientID},
		"code_verifier": {codeVerifier},
	}

	token, err := c.doTokenRequest(ctx, tokenEndpoint, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	return token, nil
}

// RefreshToken obtains a new access token using a refresh token.
// An invalid_grant response means the refresh token is dead; the caller
// should discard stored credentials and re-authorize (ErrReauthRequired).
func (c *Client) RefreshToken(ctx context.Context, tokenEndpoint, refreshToken, clientID string) (*Token, error) {
	data := url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {refreshToken},
		"client_id":     {clientID},
	}

	token, err := c.doTokenRequest(ctx, tokenEndpoint, data)
	if err != nil {
		var serverErr *ServerError
		if errors.As(err, &serverErr) && serverErr.IsInvalidGrant() {
			return nil, fmt.Errorf("%w: %v", ErrReauthRequired, serverErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenRefresh, err)
	}

	// Refresh responses may omit the refresh token (fixed-token mode);
	// preserve the one we already hold.
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}

	return token, nil
}

// RequestDeviceAuthorization starts an RFC 8628 device authorization grant.
func (c *Client) RequestDeviceAuthorization(ctx context.Context, deviceEndpoint, clientID, scope string) (*DeviceAuthorization, error) {
	data := url.Values{
		"client_id": {clientID},
	}
	if scope != "" {
		data.Set("scope", scope)
	}

	resp, body, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return newFormRequest(ctx, deviceEndpoint, data)
	})
	if err != nil {
		return nil, fmt.Errorf("device authorization request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if serverErr := parseServerError(resp.StatusCode, body); serverErr != nil {
			return nil, fmt.Errorf("device authorization request failed: %w", serverErr)
		}
		return nil, fmt.Errorf("device authorization request failed with status %d", resp.StatusCode)
	}

	var auth DeviceAuthorization
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, fmt.Errorf("failed to parse device authorization response: %w", err)
	}
	if auth.DeviceCode == "" || auth.VerificationURI == "" {
		return nil, fmt.Errorf("device authorization response is missing device_code or verification_uri")
	}
	auth.IssuedAt = c.now()

	return &auth, nil
}

// doTokenRequest performs a token endpoint request.
func (c *Client) doTokenRequest(ctx context.Context, tokenEndpoint string, data url.Values) (*Token, error) {
	resp, body, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return newFormRequest(ctx, tokenEndpoint, data)
	})
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if serverErr := parseServerError(resp.StatusCode, body); serverErr != nil {
			return nil, serverErr
		}
		c.logger.Debug("Token request failed",
			"status", resp.StatusCode,
			"body", string(body))
		return nil, fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response is missing access_token")
	}

	token.IssuedAt = c.now()
	token.SetExpiresAtFromExpiresIn()

	return &token, nil
}

// doWithRetry executes an HTTP request with bounded retries of transport-level
// failures (network errors, 5xx). The request is rebuilt per attempt so form
// bodies can be replayed. 4xx responses return immediately without retry.
func (c *Client) doWithRetry(ctx context.Context, build func() (*http.Request, error)) (*http.Response, []byte, error) {
	var lastErr error
	delay := transientRetryBaseDelay

	for attempt := 0; attempt < transientRetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, delay); err != nil {
				return nil, nil, err
			}
			delay *= 2
		}

		req, err := build()
		if err != nil {
			return nil, nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("request failed with status %d", resp.StatusCode)
			continue
		}

		return resp, body, nil
	}

	return nil, nil, lastErr
}

// getJSON fetches a JSON document with transient retry.
func (c *Client) getJSON(ctx context.Context, requestURL string) ([]byte, error) {
	resp, body, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	return body, nil
}

// newFormRequest builds a form-encoded POST request.
func newFormRequest(ctx context.Context, endpoint string, data url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// parseServerError decodes an OAuth error response body. Returns nil when the
// body carries no recognizable error code.
func parseServerError(status int, body []byte) *ServerError {
	var serverErr ServerError
	if err := json.Unmarshal(body, &serverErr); err != nil || serverErr.Code == "" {
		return nil
	}
	serverErr.Status = status
	return &serverErr
}
