package oauth

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	pkgoauth "mcpauth/pkg/oauth"
)

// Transport is an http.RoundTripper that authenticates requests to remote
// MCP servers. It attaches a bearer token obtained from the AuthManager and,
// when the server rejects it, invalidates the stored token, re-authorizes
// once, and retries the request exactly once. A second rejection is
// surfaced as an authentication error rather than another flow.
type Transport struct {
	base    http.RoundTripper
	manager *AuthManager
}

// NewTransport wraps base with bearer authentication driven by manager.
// A nil base uses http.DefaultTransport.
func NewTransport(base http.RoundTripper, manager *AuthManager) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, manager: manager}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	serverURL := serverURLForRequest(req.URL)

	token, err := t.manager.ObtainValidToken(req.Context(), serverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain token for %s: %w", serverURL, err)
	}

	resp, err := t.send(req, token.AccessToken)
	if err != nil {
		return nil, err
	}

	if !isAuthRejection(resp.StatusCode) {
		return resp, nil
	}

	// The server rejected a token that looked valid locally (revoked,
	// or expired by a stricter clock). Discard it, authorize once, retry once.
	// The WWW-Authenticate challenge, when present, carries issuer and scope
	// hints for the re-authorization.
	challenge := pkgoauth.ParseWWWAuthenticateFromResponse(resp)
	if challenge != nil {
		slog.Debug("Server returned authentication challenge",
			"server_url", serverURL,
			"issuer_url", challenge.GetIssuer(),
			"scope", challenge.Scope,
			"error", challenge.Error,
		)
	}
	drainAndClose(resp.Body)

	if err := t.manager.Invalidate(serverURL); err != nil {
		return nil, fmt.Errorf("failed to invalidate rejected token for %s: %w", serverURL, err)
	}

	token, err = t.manager.ObtainValidTokenWithChallenge(req.Context(), serverURL, challenge)
	if err != nil {
		return nil, fmt.Errorf("re-authorization for %s failed: %w", serverURL, err)
	}

	resp, err = t.send(req, token.AccessToken)
	if err != nil {
		return nil, err
	}

	if isAuthRejection(resp.StatusCode) {
		status := resp.StatusCode
		drainAndClose(resp.Body)
		return nil, fmt.Errorf("%w: %s rejected a freshly obtained token with status %d",
			pkgoauth.ErrAuthentication, serverURL, status)
	}

	return resp, nil
}

// send issues one attempt with the given access token. The request is cloned
// and its body rebuilt so the retry sends a complete body.
func (t *Transport) send(req *http.Request, accessToken string) (*http.Response, error) {
	attempt := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		attempt.Body = body
	}
	attempt.Header.Set("Authorization", "Bearer "+accessToken)
	return t.base.RoundTrip(attempt)
}

// isAuthRejection reports whether a status code means the bearer token was
// rejected. 403 is included: some servers answer it for expired tokens.
func isAuthRejection(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// serverURLForRequest derives the normalized server URL a request targets.
func serverURLForRequest(u *url.URL) string {
	base := &url.URL{
		Scheme: u.Scheme,
		Host:   u.Host,
		Path:   u.Path,
	}
	return pkgoauth.NormalizeServerURL(base.String())
}

// drainAndClose consumes and closes a response body so the underlying
// connection can be reused.
func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
