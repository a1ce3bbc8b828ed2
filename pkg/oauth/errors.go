package oauth

import (
	"errors"
	"fmt"
)

// OAuth error codes returned by authorization and token endpoints.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeAuthorizationPending = "authorization_pending"
	ErrorCodeSlowDown             = "slow_down"
	ErrorCodeExpiredToken         = "expired_token"
	ErrorCodeServerError          = "server_error"
)

// Sentinel errors for the client-side OAuth failure taxonomy. Callers match
// them with errors.Is; most are produced wrapped in a FlowError that carries
// the attempted flow and a corrective hint.
var (
	// ErrDiscovery indicates metadata discovery failed (timeout, non-2xx,
	// or a document missing authorization_endpoint/token_endpoint).
	ErrDiscovery = errors.New("oauth metadata discovery failed")

	// ErrRegistration indicates dynamic client registration failed.
	ErrRegistration = errors.New("dynamic client registration failed")

	// ErrAuthorizationDenied indicates the authorization server returned an
	// error on the callback (e.g. the user declined consent).
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrAuthorizationTimeout indicates no callback arrived within the flow budget.
	ErrAuthorizationTimeout = errors.New("timed out waiting for authorization")

	// ErrCSRFStateMismatch indicates the callback state did not match the
	// issued value. Always fatal; the token endpoint is never called.
	ErrCSRFStateMismatch = errors.New("state mismatch - possible CSRF attack")

	// ErrDeviceAuthDenied indicates the user denied the device authorization.
	ErrDeviceAuthDenied = errors.New("device authorization denied")

	// ErrDeviceAuthExpired indicates the device code expired before authorization.
	ErrDeviceAuthExpired = errors.New("device code expired")

	// ErrTokenExchange indicates the authorization-code exchange failed.
	ErrTokenExchange = errors.New("token exchange failed")

	// ErrTokenRefresh indicates a refresh-token grant failed.
	ErrTokenRefresh = errors.New("token refresh failed")

	// ErrReauthRequired indicates the stored credentials are no longer usable
	// (e.g. invalid_grant on refresh) and a full re-authorization is needed.
	ErrReauthRequired = errors.New("re-authentication required")

	// ErrAuthentication is the terminal error surfaced when the single
	// post-401 retry also fails.
	ErrAuthentication = errors.New("authentication failed")

	// errAuthorizationPending and errSlowDown are internal device-poll
	// signals; they never escape PollDeviceToken.
	errAuthorizationPending = errors.New("authorization pending")
	errSlowDown             = errors.New("slow down")
)

// ServerError represents an OAuth 2.0 error response body
// ({"error": "...", "error_description": "..."}).
type ServerError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

// IsInvalidGrant reports whether the server rejected the grant itself
// (expired/revoked refresh token or authorization code). Retrying the same
// grant is pointless; the caller must re-authorize.
func (e *ServerError) IsInvalidGrant() bool {
	return e.Code == ErrorCodeInvalidGrant
}

// FlowError is the user-facing terminal error for a failed authentication
// attempt. It identifies which flow was attempted, wraps the underlying
// cause, and carries a suggested corrective action.
type FlowError struct {
	// Flow names the attempted flow: "browser", "device", "refresh", "discovery".
	Flow string

	// Hint is a suggested corrective action ("retry", "check scopes", ...).
	Hint string

	err error
}

// NewFlowError wraps err with flow attribution and a corrective hint.
func NewFlowError(flow string, err error, hint string) *FlowError {
	return &FlowError{Flow: flow, Hint: hint, err: err}
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s flow failed: %v (%s)", e.Flow, e.err, e.Hint)
	}
	return fmt.Sprintf("%s flow failed: %v", e.Flow, e.err)
}

// Unwrap returns the underlying cause for errors.Is/errors.As matching.
func (e *FlowError) Unwrap() error {
	return e.err
}
