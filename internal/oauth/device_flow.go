package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pkgoauth "mcpauth/pkg/oauth"
)

// DeviceNotifier presents the device authorization details (verification URI
// and user code) to the user. Returning an error aborts the flow before any
// polling starts.
type DeviceNotifier func(ctx context.Context, auth *pkgoauth.DeviceAuthorization) error

// DeviceFlow runs the RFC 8628 device authorization grant. It is the
// headless counterpart of BrowserFlow: no local listener, no browser, just
// a code shown to the user and bounded polling of the token endpoint.
type DeviceFlow struct {
	oauthClient *pkgoauth.Client
	registrar   *Registrar
	notify      DeviceNotifier
}

// NewDeviceFlow creates a device flow. notify defaults to printing nothing;
// callers that want the user to see the code must supply one.
func NewDeviceFlow(oauthClient *pkgoauth.Client, registrar *Registrar, notify DeviceNotifier) *DeviceFlow {
	if notify == nil {
		notify = func(context.Context, *pkgoauth.DeviceAuthorization) error { return nil }
	}
	return &DeviceFlow{
		oauthClient: oauthClient,
		registrar:   registrar,
		notify:      notify,
	}
}

// Authorize runs one complete device grant and returns the resulting token.
// The polling deadline is the device code lifetime reported by the server.
func (f *DeviceFlow) Authorize(ctx context.Context, server *pkgoauth.ServerConfig, scope string) (*pkgoauth.Token, error) {
	if !server.Metadata.SupportsDeviceGrant() {
		return nil, fmt.Errorf("%w: %s does not support the device authorization grant",
			pkgoauth.ErrAuthentication, server.ResourceURL)
	}

	// Device grants use no redirect URI.
	reg, err := f.registrar.EnsureClient(ctx, server, "")
	if err != nil {
		return nil, err
	}

	auth, err := f.oauthClient.RequestDeviceAuthorization(ctx,
		server.Metadata.DeviceAuthorizationEndpoint, reg.ClientID, scope)
	if err != nil {
		return nil, err
	}

	slog.Info("Device authorization started",
		"server_url", server.ResourceURL,
		"verification_uri", auth.VerificationURI,
		"expires_in", auth.ExpiresIn,
	)

	if err := f.notify(ctx, auth); err != nil {
		return nil, fmt.Errorf("failed to present device authorization: %w", err)
	}

	token, err := f.oauthClient.PollDeviceToken(ctx, server.Metadata.TokenEndpoint, reg.ClientID, auth)
	if err != nil {
		return nil, err
	}

	token.Issuer = server.Metadata.Issuer
	slog.Info("Device authorization successful",
		"server_url", server.ResourceURL,
		"issuer_url", token.Issuer,
	)

	return token, nil
}

// FormatDeviceInstructions renders the user-facing instructions for a device
// authorization. The complete URI is preferred when the server provides one.
func FormatDeviceInstructions(auth *pkgoauth.DeviceAuthorization) string {
	var b strings.Builder

	if auth.VerificationURIComplete != "" {
		fmt.Fprintf(&b, "Open the following URL to authorize this device:\n\n    %s\n", auth.VerificationURIComplete)
	} else {
		fmt.Fprintf(&b, "Open the following URL and enter the code to authorize this device:\n\n    %s\n", auth.VerificationURI)
	}
	fmt.Fprintf(&b, "\n    Code: %s\n", auth.UserCode)
	if auth.ExpiresIn > 0 {
		fmt.Fprintf(&b, "\nThe code expires in %s.\n", (time.Duration(auth.ExpiresIn) * time.Second).String())
	}

	return b.String()
}
