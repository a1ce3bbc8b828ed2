package oauth

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/client/transport"

	pkgoauth "mcpauth/pkg/oauth"
)

// SetupOAuthConfig creates an AgentTokenStore over the default storage
// directory and returns the OAuthConfig for mcp-go's WithHTTPOAuth /
// WithOAuth transport options. Tokens stored by `mcpauth login` are picked
// up by the transport automatically.
func SetupOAuthConfig(serverURL, clientID string, scopes []string) (*transport.OAuthConfig, *AgentTokenStore, error) {
	return SetupOAuthConfigWithDir(serverURL, "", clientID, scopes)
}

// SetupOAuthConfigWithDir is SetupOAuthConfig with a custom storage
// directory. An empty tokenStorageDir selects ~/.config/mcpauth/tokens.
func SetupOAuthConfigWithDir(serverURL, tokenStorageDir, clientID string, scopes []string) (*transport.OAuthConfig, *AgentTokenStore, error) {
	if tokenStorageDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		tokenStorageDir = filepath.Join(homeDir, pkgoauth.DefaultTokenStorageDir)
	}

	tokenStore, err := NewTokenStore(TokenStoreConfig{
		StorageDir: tokenStorageDir,
		FileMode:   true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create token store: %w", err)
	}

	agentStore := NewAgentTokenStore(serverURL, tokenStore)

	config := &transport.OAuthConfig{
		ClientID:    clientID,
		TokenStore:  agentStore,
		Scopes:      scopes,
		PKCEEnabled: true,
	}

	return config, agentStore, nil
}
