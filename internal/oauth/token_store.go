package oauth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	pkgoauth "mcpauth/pkg/oauth"
)

// TokenStore persists OAuth tokens, one file per remote server.
// It supports both file-based (XDG-compliant) and in-memory storage.
//
// SECURITY: This store handles sensitive OAuth credentials. The following
// security measures are implemented:
//   - Files are created with 0600 permissions (owner read/write only)
//   - Storage directory is created with 0700 permissions (owner only)
//   - Token values are NEVER logged (only server URLs and issuers)
//   - Expired tokens are rejected by Get
//   - Token expiry includes a 60-second buffer for safety
//
// The store is scoped to one local process and user. There is no
// cross-process locking; concurrent writers get last-writer-wins.
type TokenStore struct {
	mu         sync.RWMutex
	storageDir string
	tokens     map[string]*StoredToken // In-memory cache
	fileMode   bool                    // Whether to persist to files
	expiry     time.Duration           // validity buffer
}

// StoredToken is the on-disk representation of an OAuth token.
type StoredToken struct {
	// ServerURL is the normalized URL of the server this token authenticates to.
	ServerURL string `json:"server_url"`

	// IssuerURL is the OAuth issuer that issued this token.
	IssuerURL string `json:"issuer_url,omitempty"`

	// AccessToken is the OAuth access token.
	AccessToken string `json:"access_token"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type"`

	// RefreshToken is the OAuth refresh token (if available).
	RefreshToken string `json:"refresh_token,omitempty"`

	// IDToken is the OIDC ID token (if available).
	IDToken string `json:"id_token,omitempty"`

	// Expiry is the absolute instant the access token expires.
	// Zero means the token carries no expiry.
	Expiry time.Time `json:"expiry,omitempty"`

	// CreatedAt is when the token was stored.
	CreatedAt time.Time `json:"created_at"`
}

// ToToken converts the stored record back to a protocol token.
func (t *StoredToken) ToToken() *pkgoauth.Token {
	return &pkgoauth.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		IDToken:      t.IDToken,
		ExpiresAt:    t.Expiry,
		IssuedAt:     t.CreatedAt,
		Issuer:       t.IssuerURL,
	}
}

// TokenStoreConfig configures the token store.
type TokenStoreConfig struct {
	// StorageDir is the directory for storing token files.
	// Defaults to ~/.config/mcpauth/tokens
	StorageDir string

	// FileMode enables file-based persistence. If false, tokens are in-memory only.
	FileMode bool

	// ExpiryBuffer is the margin applied when deciding whether a token is
	// still usable. Defaults to 60 seconds.
	ExpiryBuffer time.Duration
}

// NewTokenStore creates a new token store with the specified configuration.
func NewTokenStore(cfg TokenStoreConfig) (*TokenStore, error) {
	storageDir := cfg.StorageDir
	if storageDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		storageDir = filepath.Join(homeDir, pkgoauth.DefaultTokenStorageDir)
	}

	expiry := cfg.ExpiryBuffer
	if expiry == 0 {
		expiry = pkgoauth.DefaultExpiryMargin
	}

	store := &TokenStore{
		storageDir: storageDir,
		tokens:     make(map[string]*StoredToken),
		fileMode:   cfg.FileMode,
		expiry:     expiry,
	}

	// Create storage directory if file mode is enabled
	if cfg.FileMode {
		if err := os.MkdirAll(storageDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create token storage directory: %w", err)
		}
	}

	return store, nil
}

// StorageDir returns the directory token files are written to.
func (s *TokenStore) StorageDir() string {
	return s.storageDir
}

// Save stores an OAuth token for a specific server, replacing any prior
// record for that server.
// SECURITY: Token values are never logged. Only server/issuer URLs are logged for audit purposes.
func (s *TokenStore) Save(serverURL string, token *pkgoauth.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := pkgoauth.NormalizeServerURL(serverURL)
	stored := &StoredToken{
		ServerURL:    normalized,
		IssuerURL:    token.Issuer,
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		IDToken:      token.IDToken,
		Expiry:       token.ExpiresAt,
		CreatedAt:    time.Now(),
	}

	key := tokenKey(normalized)
	s.tokens[key] = stored

	if s.fileMode {
		if err := s.writeTokenFile(key, stored); err != nil {
			// SECURITY AUDIT: Token storage failed
			slog.Warn("SECURITY_AUDIT: OAuth token storage failed",
				"event", "token_store_failed",
				"server_url", normalized,
				"issuer_url", stored.IssuerURL,
				"error", err.Error(),
			)
			return fmt.Errorf("failed to persist token: %w", err)
		}
		// SECURITY AUDIT: Token successfully stored
		slog.Info("SECURITY_AUDIT: OAuth token stored",
			"event", "token_stored",
			"server_url", normalized,
			"issuer_url", stored.IssuerURL,
			"expiry", stored.Expiry.Format(time.RFC3339),
			"has_refresh_token", stored.RefreshToken != "",
		)
	}

	return nil
}

// Get retrieves a stored token for a specific server.
// Returns nil if no token exists or the token has expired.
func (s *TokenStore) Get(serverURL string) *StoredToken {
	token := s.GetIncludingExpired(serverURL)
	if token == nil || !s.isTokenValid(token) {
		return nil
	}
	return token
}

// GetIncludingExpired retrieves a stored token even when it is past its
// expiry. Callers use this to reach the refresh token of an expired record.
func (s *TokenStore) GetIncludingExpired(serverURL string) *StoredToken {
	key := tokenKey(pkgoauth.NormalizeServerURL(serverURL))

	// Fast path with read lock - check memory cache
	s.mu.RLock()
	if token, ok := s.tokens[key]; ok {
		s.mu.RUnlock()
		return token
	}
	s.mu.RUnlock()

	if !s.fileMode {
		return nil
	}

	// Slow path with write lock for cache population
	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check in case another goroutine populated it
	if token, ok := s.tokens[key]; ok {
		return token
	}

	token, err := s.readTokenFile(key)
	if err != nil {
		return nil
	}
	s.tokens[key] = token
	return token
}

// HasValidToken checks if a valid (non-expired) token exists for a server.
func (s *TokenStore) HasValidToken(serverURL string) bool {
	return s.Get(serverURL) != nil
}

// Delete removes a stored token for a specific server. Used for logout and
// for invalidating a token the server rejected.
// SECURITY: Logs token deletion for audit trail without logging token values.
func (s *TokenStore) Delete(serverURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := pkgoauth.NormalizeServerURL(serverURL)
	key := tokenKey(normalized)
	delete(s.tokens, key)

	if s.fileMode {
		if err := s.deleteTokenFile(key); err != nil {
			slog.Warn("SECURITY_AUDIT: OAuth token deletion failed",
				"event", "token_delete_failed",
				"server_url", normalized,
				"error", err.Error(),
			)
			return err
		}
	}

	// SECURITY AUDIT: Token deleted
	slog.Info("SECURITY_AUDIT: OAuth token deleted",
		"event", "token_deleted",
		"server_url", normalized,
	)
	return nil
}

// List returns every stored token record, sorted by server URL. Expired
// records are included so callers can render their state.
func (s *TokenStore) List() []*StoredToken {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]*StoredToken)
	for key, token := range s.tokens {
		seen[key] = token
	}

	if s.fileMode {
		entries, err := os.ReadDir(s.storageDir)
		if err == nil {
			for _, entry := range entries {
				name := entry.Name()
				if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, clientFileSuffix) {
					continue
				}
				key := strings.TrimSuffix(name, ".json")
				if _, ok := seen[key]; ok {
					continue
				}
				token, err := s.readTokenFile(key)
				if err != nil {
					continue
				}
				seen[key] = token
				s.tokens[key] = token
			}
		}
	}

	tokens := make([]*StoredToken, 0, len(seen))
	for _, token := range seen {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].ServerURL < tokens[j].ServerURL
	})
	return tokens
}

// Clear removes all stored tokens (both in-memory and file-based).
// SECURITY: Logs bulk token clearing for audit trail.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokenCount := len(s.tokens)
	s.tokens = make(map[string]*StoredToken)

	if s.fileMode {
		entries, err := os.ReadDir(s.storageDir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("failed to read token directory: %w", err)
		}

		fileCount := 0
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, clientFileSuffix) {
				continue
			}
			filePath := filepath.Join(s.storageDir, name)
			if err := os.Remove(filePath); err != nil {
				return fmt.Errorf("failed to remove token file %s: %w", name, err)
			}
			fileCount++
		}

		// SECURITY AUDIT: All tokens cleared
		slog.Info("SECURITY_AUDIT: All OAuth tokens cleared",
			"event", "tokens_cleared",
			"memory_tokens_cleared", tokenCount,
			"file_tokens_cleared", fileCount,
		)
	}

	return nil
}

// tokenKey generates a unique key for a server URL.
// Uses SHA256 hash to create filesystem-safe identifiers.
func tokenKey(serverURL string) string {
	hash := sha256.Sum256([]byte(serverURL))
	return hex.EncodeToString(hash[:16]) // Use first 16 bytes (32 hex chars)
}

// isTokenValid checks if a token is still valid (not expired).
// A buffer accounts for clock skew, network latency, and to leave room
// for long-running operations. A token without an expiry never expires by
// this check alone; it is still invalidated when a server rejects it.
func (s *TokenStore) isTokenValid(token *StoredToken) bool {
	if token == nil {
		return false
	}

	if token.Expiry.IsZero() {
		return true
	}

	return time.Now().Add(s.expiry).Before(token.Expiry)
}

// writeTokenFile persists a token to a JSON file.
func (s *TokenStore) writeTokenFile(key string, token *StoredToken) error {
	filePath := filepath.Join(s.storageDir, key+".json")

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	// Write with restricted permissions (owner read/write only)
	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	return nil
}

// readTokenFile reads a token from a JSON file.
func (s *TokenStore) readTokenFile(key string) (*StoredToken, error) {
	filePath := filepath.Join(s.storageDir, key+".json")

	// #nosec G304 -- filePath is constructed from internal key, not user input
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var token StoredToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	return &token, nil
}

// deleteTokenFile removes a token file.
func (s *TokenStore) deleteTokenFile(key string) error {
	filePath := filepath.Join(s.storageDir, key+".json")
	err := os.Remove(filePath)
	if os.IsNotExist(err) {
		return nil // Already deleted
	}
	return err
}
