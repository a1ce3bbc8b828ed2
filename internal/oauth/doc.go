// Package oauth implements the OAuth 2.1 client machinery for authenticating
// to remote MCP servers.
//
// # Architecture
//
// The package is organized around a few cooperating pieces:
//   - TokenStore: XDG-compliant file storage, one record per server
//   - Registrar: client identity resolution (static, cached, or RFC 7591
//     dynamic registration)
//   - BrowserFlow: authorization-code + PKCE flow with a loopback callback
//     listener and the system browser
//   - DeviceFlow: RFC 8628 device authorization grant for headless hosts
//   - AuthManager: the token lifecycle orchestrator that owns all storage
//     writes and decides between cached, refreshed, and freshly authorized
//     tokens
//   - Transport: an http.RoundTripper that attaches bearer tokens and
//     retries exactly once after a server-side rejection
//
// Protocol-level operations (discovery, registration, exchanges, polling)
// live in mcpauth/pkg/oauth; this package adds storage, user interaction,
// and lifecycle policy on top.
//
// # Token Storage
//
// Tokens are stored in an XDG-compliant location:
//
//	~/.config/mcpauth/tokens/{server-hash}.json
//
// Files are created with 0600 permissions in a 0700 directory, and token
// values are never logged.
//
// # Usage
//
//	manager, err := oauth.NewAuthManager(oauth.ManagerConfig{FileMode: true})
//	if err != nil { ... }
//
//	httpClient := &http.Client{Transport: oauth.NewTransport(nil, manager)}
//	resp, err := httpClient.Post(serverURL+"/mcp", "application/json", body)
package oauth
