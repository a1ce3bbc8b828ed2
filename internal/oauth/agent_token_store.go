package oauth

import (
	"context"
	"sync"

	"github.com/mark3labs/mcp-go/client/transport"

	pkgoauth "mcpauth/pkg/oauth"
)

// AgentTokenStore adapts the file-based TokenStore to mcp-go's
// transport.TokenStore interface, bound to one server URL.
//
// It has no storage of its own; reads and writes pass through the underlying
// TokenStore. The only local state is a cached copy of the ID token, because
// mcp-go's transport.Token does not carry ID tokens and refresh responses
// typically omit them.
type AgentTokenStore struct {
	serverURL  string
	issuerURL  string
	tokenStore *TokenStore

	mu      sync.RWMutex
	idToken string
}

// NewAgentTokenStore binds the given server URL to the token store.
func NewAgentTokenStore(serverURL string, tokenStore *TokenStore) *AgentTokenStore {
	return &AgentTokenStore{
		serverURL:  pkgoauth.NormalizeServerURL(serverURL),
		tokenStore: tokenStore,
	}
}

// GetToken returns the current token for the bound server. It returns
// transport.ErrNoToken when nothing is stored, which signals mcp-go to start
// its own authorization flow. Expired records are returned as-is so mcp-go
// can use their refresh token.
func (s *AgentTokenStore) GetToken(ctx context.Context) (*transport.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored := s.tokenStore.GetIncludingExpired(s.serverURL)
	if stored == nil || stored.AccessToken == "" {
		return nil, transport.ErrNoToken
	}

	s.mu.Lock()
	if stored.IDToken != "" {
		s.idToken = stored.IDToken
	}
	if stored.IssuerURL != "" {
		s.issuerURL = stored.IssuerURL
	}
	s.mu.Unlock()

	return &transport.Token{
		AccessToken:  stored.AccessToken,
		TokenType:    stored.TokenType,
		RefreshToken: stored.RefreshToken,
		ExpiresAt:    stored.Expiry,
	}, nil
}

// SaveToken persists a token mcp-go writes back after a refresh. The cached
// ID token and issuer are carried over since refresh responses omit them.
func (s *AgentTokenStore) SaveToken(ctx context.Context, token *transport.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.tokenStore == nil || token == nil {
		return nil
	}

	s.mu.RLock()
	idToken := s.idToken
	issuerURL := s.issuerURL
	s.mu.RUnlock()

	return s.tokenStore.Save(s.serverURL, &pkgoauth.Token{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt,
		IDToken:      idToken,
		Issuer:       issuerURL,
	})
}

// GetIDToken returns the last cached ID token for SSO forwarding.
func (s *AgentTokenStore) GetIDToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idToken
}

var _ transport.TokenStore = (*AgentTokenStore)(nil)
