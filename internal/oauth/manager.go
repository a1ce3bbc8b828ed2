package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	pkgoauth "mcpauth/pkg/oauth"
)

// ManagerConfig configures an AuthManager.
type ManagerConfig struct {
	// TokenStorageDir is where tokens and cached registrations live.
	// Defaults to ~/.config/mcpauth/tokens.
	TokenStorageDir string

	// FileMode enables persistent storage. If false, everything is in-memory.
	FileMode bool

	// CallbackPort is the loopback port for the browser flow. 0 selects an
	// ephemeral port.
	CallbackPort int

	// ClientID is a statically configured OAuth client identifier. When set,
	// dynamic registration is skipped.
	ClientID string

	// Scopes to request during authorization. When empty, the scopes the
	// server advertises are requested.
	Scopes []string

	// Headless selects the device authorization grant instead of the
	// browser flow.
	Headless bool

	// FlowTimeout bounds one interactive authorization attempt.
	FlowTimeout time.Duration

	// SoftwareVersion is reported during dynamic client registration.
	SoftwareVersion string

	// HTTPClient overrides the HTTP client for protocol operations.
	HTTPClient *http.Client

	// Notifier presents device authorization details to the user.
	Notifier DeviceNotifier

	// UI overrides the authorization UI factory for the browser flow.
	// Nil means a real browser plus loopback listener.
	UI func() AuthorizationUI
}

// AuthManager owns the token lifecycle for remote MCP servers: it decides
// per request whether a cached token is usable, whether a refresh is worth
// attempting, or whether a full interactive flow is required, and it is the
// only component that writes to the token store.
type AuthManager struct {
	oauthClient *pkgoauth.Client
	store       *TokenStore
	registrar   *Registrar
	browserFlow *BrowserFlow
	deviceFlow  *DeviceFlow

	scopes   []string
	headless bool

	// group deduplicates concurrent authorization attempts per server, so
	// parallel requests against the same server trigger one flow.
	group singleflight.Group
}

// NewAuthManager creates an auth manager from the given configuration.
func NewAuthManager(cfg ManagerConfig) (*AuthManager, error) {
	clientOpts := []pkgoauth.ClientOption{}
	if cfg.HTTPClient != nil {
		clientOpts = append(clientOpts, pkgoauth.WithHTTPClient(cfg.HTTPClient))
	}
	oauthClient := pkgoauth.NewClient(clientOpts...)

	store, err := NewTokenStore(TokenStoreConfig{
		StorageDir: cfg.TokenStorageDir,
		FileMode:   cfg.FileMode,
	})
	if err != nil {
		return nil, err
	}

	registrar := NewRegistrar(oauthClient, RegistrarConfig{
		StaticClientID:  cfg.ClientID,
		SoftwareVersion: cfg.SoftwareVersion,
		StorageDir:      store.StorageDir(),
		FileMode:        cfg.FileMode,
	})

	return &AuthManager{
		oauthClient: oauthClient,
		store:       store,
		registrar:   registrar,
		browserFlow: NewBrowserFlow(oauthClient, registrar, cfg.CallbackPort, cfg.FlowTimeout, cfg.UI),
		deviceFlow:  NewDeviceFlow(oauthClient, registrar, cfg.Notifier),
		scopes:      cfg.Scopes,
		headless:    cfg.Headless,
	}, nil
}

// Store exposes the underlying token store for read-only inspection
// (status listings). Mutation goes through the manager.
func (m *AuthManager) Store() *TokenStore {
	return m.store
}

// ObtainValidToken returns a usable access token for the given server,
// running refresh or a full interactive flow as needed. Concurrent calls
// for the same server share one flow.
func (m *AuthManager) ObtainValidToken(ctx context.Context, serverURL string) (*pkgoauth.Token, error) {
	return m.ObtainValidTokenWithChallenge(ctx, serverURL, nil)
}

// ObtainValidTokenWithChallenge is ObtainValidToken with hints from a
// WWW-Authenticate challenge the server answered: the challenge's issuer is
// used when discovery from the server URL fails, and its scope overrides the
// configured scopes for the re-authorization. A nil challenge is fine.
func (m *AuthManager) ObtainValidTokenWithChallenge(ctx context.Context, serverURL string, challenge *pkgoauth.AuthChallenge) (*pkgoauth.Token, error) {
	normalized := pkgoauth.NormalizeServerURL(serverURL)

	// Fast path outside the singleflight group.
	if stored := m.store.Get(normalized); stored != nil && !needsProactiveRefresh(stored) {
		return stored.ToToken(), nil
	}

	result, err, _ := m.group.Do(normalized, func() (interface{}, error) {
		// Re-check inside the group: a concurrent caller may have just
		// finished a flow for this server.
		stored := m.store.Get(normalized)
		switch {
		case stored != nil && !needsProactiveRefresh(stored):
			return stored.ToToken(), nil

		case stored != nil:
			// Still valid but expiring soon. Refresh ahead of time; when
			// that fails, keep using the current token until it expires.
			token, err := m.refresh(ctx, normalized, stored)
			if err != nil {
				slog.Info("Proactive token refresh failed, keeping current token",
					"server_url", normalized,
					"error", err.Error(),
				)
				return stored.ToToken(), nil
			}
			return token, nil

		default:
			return m.obtainToken(ctx, normalized, challenge)
		}
	})
	if err != nil {
		return nil, err
	}

	return result.(*pkgoauth.Token), nil
}

// needsProactiveRefresh reports whether a stored, still-valid token is close
// enough to expiry to be worth refreshing ahead of time.
func needsProactiveRefresh(stored *StoredToken) bool {
	if stored.RefreshToken == "" || stored.Expiry.IsZero() {
		return false
	}
	return !time.Now().Add(pkgoauth.TokenRefreshThreshold).Before(stored.Expiry)
}

// obtainToken tries refresh first, then falls back to a full flow.
func (m *AuthManager) obtainToken(ctx context.Context, serverURL string, challenge *pkgoauth.AuthChallenge) (*pkgoauth.Token, error) {
	stored := m.store.GetIncludingExpired(serverURL)
	if stored != nil && stored.RefreshToken != "" {
		token, err := m.refresh(ctx, serverURL, stored)
		if err == nil {
			return token, nil
		}
		slog.Info("Token refresh failed, falling back to full authorization",
			"server_url", serverURL,
			"error", err.Error(),
		)
		if errors.Is(err, pkgoauth.ErrReauthRequired) {
			// The refresh token is dead. Remove the record so nothing
			// retries it.
			_ = m.store.Delete(serverURL)
		}
	}

	return m.authorize(ctx, serverURL, challenge)
}

// discover resolves the server's authorization server metadata. When
// discovery from the server URL fails and a 401 challenge named an issuer,
// that issuer is tried directly.
func (m *AuthManager) discover(ctx context.Context, serverURL string, challenge *pkgoauth.AuthChallenge) (*pkgoauth.ServerConfig, error) {
	server, err := m.oauthClient.DiscoverServer(ctx, serverURL)
	if err == nil {
		return server, nil
	}

	issuer := challenge.GetIssuer()
	if issuer == "" {
		return nil, err
	}

	slog.Info("Discovery from server URL failed, trying challenge issuer",
		"server_url", serverURL,
		"issuer_url", issuer,
	)
	metadata, merr := m.oauthClient.DiscoverMetadata(ctx, issuer)
	if merr != nil {
		return nil, err
	}
	return &pkgoauth.ServerConfig{ResourceURL: serverURL, Metadata: metadata}, nil
}

// refresh exchanges the stored refresh token for a new access token and
// persists the result.
func (m *AuthManager) refresh(ctx context.Context, serverURL string, stored *StoredToken) (*pkgoauth.Token, error) {
	server, err := m.oauthClient.DiscoverServer(ctx, serverURL)
	if err != nil {
		return nil, err
	}

	reg, err := m.registrar.EnsureClient(ctx, server, "")
	if err != nil {
		return nil, err
	}

	token, err := m.oauthClient.RefreshToken(ctx, server.Metadata.TokenEndpoint, stored.RefreshToken, reg.ClientID)
	if err != nil {
		return nil, err
	}

	token.Issuer = server.Metadata.Issuer
	if err := m.store.Save(serverURL, token); err != nil {
		return nil, err
	}

	slog.Info("OAuth token refreshed",
		"server_url", serverURL,
		"issuer_url", token.Issuer,
	)

	return token, nil
}

// authorize runs the full interactive flow (browser or device) and persists
// the resulting token.
func (m *AuthManager) authorize(ctx context.Context, serverURL string, challenge *pkgoauth.AuthChallenge) (*pkgoauth.Token, error) {
	server, err := m.discover(ctx, serverURL, challenge)
	if err != nil {
		return nil, err
	}

	scope := m.resolveScope(server)
	if challenge != nil && challenge.Scope != "" {
		// The server told us exactly which scope the rejected request needed.
		scope = challenge.Scope
	}

	var token *pkgoauth.Token
	if m.headless {
		token, err = m.deviceFlow.Authorize(ctx, server, scope)
		if err != nil {
			return nil, pkgoauth.NewFlowError("device", err, flowHint(err))
		}
	} else {
		token, err = m.browserFlow.Authorize(ctx, server, scope)
		if err != nil {
			return nil, pkgoauth.NewFlowError("browser", err, flowHint(err))
		}
	}

	if err := m.store.Save(serverURL, token); err != nil {
		return nil, err
	}

	return token, nil
}

// flowHint maps a flow failure to a corrective suggestion for the user.
func flowHint(err error) string {
	switch {
	case errors.Is(err, pkgoauth.ErrAuthorizationTimeout):
		return "run the command again and complete the prompt in time"
	case errors.Is(err, pkgoauth.ErrAuthorizationDenied), errors.Is(err, pkgoauth.ErrDeviceAuthDenied):
		return "approve the authorization request when prompted"
	case errors.Is(err, pkgoauth.ErrDeviceAuthExpired):
		return "run the command again to get a fresh code"
	case errors.Is(err, pkgoauth.ErrCSRFStateMismatch):
		return "make sure nothing else is answering on the callback port"
	default:
		return ""
	}
}

// resolveScope picks the scopes to request: configured scopes win, otherwise
// whatever the authorization server advertises.
func (m *AuthManager) resolveScope(server *pkgoauth.ServerConfig) string {
	if len(m.scopes) > 0 {
		return strings.Join(m.scopes, " ")
	}
	return strings.Join(server.Metadata.ScopesSupported, " ")
}

// ObtainStoredToken returns a usable token using only stored credentials:
// a cached valid token, or a refresh when an expired record still carries a
// refresh token. It never starts an interactive flow.
func (m *AuthManager) ObtainStoredToken(ctx context.Context, serverURL string) (*pkgoauth.Token, error) {
	normalized := pkgoauth.NormalizeServerURL(serverURL)

	if stored := m.store.Get(normalized); stored != nil {
		return stored.ToToken(), nil
	}

	return m.Refresh(ctx, normalized)
}

// Refresh forces a refresh-token grant for the server and persists the
// result. Servers without a stored refresh token need a full login instead.
func (m *AuthManager) Refresh(ctx context.Context, serverURL string) (*pkgoauth.Token, error) {
	normalized := pkgoauth.NormalizeServerURL(serverURL)

	stored := m.store.GetIncludingExpired(normalized)
	if stored == nil || stored.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no stored credentials for %s", pkgoauth.ErrReauthRequired, normalized)
	}

	token, err := m.refresh(ctx, normalized, stored)
	if err != nil {
		if errors.Is(err, pkgoauth.ErrReauthRequired) {
			_ = m.store.Delete(normalized)
		}
		return nil, err
	}
	return token, nil
}

// Invalidate discards the stored token for a server. Called when the server
// rejects a token that looked valid locally.
func (m *AuthManager) Invalidate(serverURL string) error {
	slog.Info("Invalidating rejected OAuth token",
		"server_url", pkgoauth.NormalizeServerURL(serverURL),
	)
	return m.store.Delete(serverURL)
}

// HasValidToken reports whether a usable token is stored for the server.
func (m *AuthManager) HasValidToken(serverURL string) bool {
	return m.store.HasValidToken(serverURL)
}

// Logout removes the stored token for a server.
func (m *AuthManager) Logout(serverURL string) error {
	if m.store.GetIncludingExpired(serverURL) == nil {
		return fmt.Errorf("no stored token for %s", pkgoauth.NormalizeServerURL(serverURL))
	}
	return m.store.Delete(serverURL)
}

// LogoutAll removes every stored token.
func (m *AuthManager) LogoutAll() error {
	return m.store.Clear()
}

// List returns all stored token records, sorted by server URL.
func (m *AuthManager) List() []*StoredToken {
	return m.store.List()
}
