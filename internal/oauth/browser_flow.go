package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pkgoauth "mcpauth/pkg/oauth"
)

// BrowserFlow runs the authorization-code + PKCE grant against one server.
// It is stateless across invocations: every Authorize call generates a
// fresh PKCE pair and CSRF state, and produces at most one token.
type BrowserFlow struct {
	oauthClient *pkgoauth.Client
	registrar   *Registrar

	// newUI constructs the authorization UI for one attempt.
	newUI func() AuthorizationUI

	// timeout bounds the whole attempt, dominated by the callback wait.
	timeout time.Duration
}

// NewBrowserFlow creates a browser flow. newUI defaults to a BrowserUI on
// the given callback port.
func NewBrowserFlow(oauthClient *pkgoauth.Client, registrar *Registrar, callbackPort int, timeout time.Duration, newUI func() AuthorizationUI) *BrowserFlow {
	if timeout <= 0 {
		timeout = DefaultFlowTimeout
	}
	if newUI == nil {
		newUI = func() AuthorizationUI { return NewBrowserUI(callbackPort) }
	}
	return &BrowserFlow{
		oauthClient: oauthClient,
		registrar:   registrar,
		newUI:       newUI,
		timeout:     timeout,
	}
}

// Authorize runs one complete authorization-code attempt and returns the
// resulting token. All teardown paths close the callback listener.
func (f *BrowserFlow) Authorize(ctx context.Context, server *pkgoauth.ServerConfig, scope string) (*pkgoauth.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	ui := f.newUI()
	defer ui.Close()

	redirectURI, err := ui.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start authorization UI: %w", err)
	}

	reg, err := f.registrar.EnsureClient(ctx, server, redirectURI)
	if err != nil {
		return nil, err
	}

	pkce, err := pkgoauth.GeneratePKCE()
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE: %w", err)
	}

	state, err := pkgoauth.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	authURL, err := f.oauthClient.BuildAuthorizationURL(
		server.Metadata.AuthorizationEndpoint, reg.ClientID, redirectURI, state, scope, pkce)
	if err != nil {
		return nil, fmt.Errorf("failed to build authorization URL: %w", err)
	}

	result, err := ui.Authorize(ctx, authURL)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", pkgoauth.ErrAuthorizationTimeout, f.timeout)
		}
		return nil, fmt.Errorf("authorization callback failed: %w", err)
	}

	// State validation comes before everything else. An unvalidated
	// callback must never reach the token endpoint.
	if result.State != state {
		slog.Warn("OAuth state mismatch detected",
			"server_url", server.ResourceURL,
			"expected_state_len", len(state),
			"received_state_len", len(result.State),
		)
		return nil, pkgoauth.ErrCSRFStateMismatch
	}

	if result.IsError() {
		if result.ErrorDescription != "" {
			return nil, fmt.Errorf("%w: %s - %s", pkgoauth.ErrAuthorizationDenied, result.Error, result.ErrorDescription)
		}
		return nil, fmt.Errorf("%w: %s", pkgoauth.ErrAuthorizationDenied, result.Error)
	}

	token, err := f.oauthClient.ExchangeCode(ctx,
		server.Metadata.TokenEndpoint, result.Code, redirectURI, reg.ClientID, pkce.CodeVerifier)
	if err != nil {
		return nil, err
	}

	token.Issuer = server.Metadata.Issuer
	slog.Info("OAuth authentication successful",
		"server_url", server.ResourceURL,
		"issuer_url", token.Issuer,
	)

	return token, nil
}
