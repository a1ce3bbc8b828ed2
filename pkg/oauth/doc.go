// Package oauth implements the client side of OAuth 2.1 for remote MCP
// servers: metadata discovery (RFC 8414 / RFC 9728), dynamic client
// registration (RFC 7591), PKCE (RFC 7636), the authorization-code grant,
// refresh, and the device authorization grant (RFC 8628).
//
// The package is a stateless protocol core. It performs HTTP against the
// authorization server but holds no tokens and opens no listeners; flow
// orchestration, token persistence, and user interaction live in
// internal/oauth.
package oauth
