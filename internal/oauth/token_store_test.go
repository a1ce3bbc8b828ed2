package oauth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	pkgoauth "mcpauth/pkg/oauth"
)

func TestTokenStore_SaveAndGet(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewTokenStore(TokenStoreConfig{
		StorageDir: tmpDir,
		FileMode:   false, // In-memory only for this test
	})
	if err != nil {
		t.Fatalf("Failed to create token store: %v", err)
	}

	serverURL := "https://tools.example.com"
	token := &pkgoauth.Token{
		AccessToken:  "test-access-token",
		RefreshToken: "test-refresh-token",
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(1 * time.Hour),
		Issuer:       "https://auth.example.com",
	}

	if err := store.Save(serverURL, token); err != nil {
		t.Fatalf("Failed to save token: %v", err)
	}

	stored := store.Get(serverURL)
	if stored == nil {
		t.Fatal("Expected to get stored token, got nil")
	}

	if stored.AccessToken != token.AccessToken {
		t.Errorf("Expected access token %q, got %q", token.AccessToken, stored.AccessToken)
	}

	if stored.RefreshToken != token.RefreshToken {
		t.Errorf("Expected refresh token %q, got %q", token.RefreshToken, stored.RefreshToken)
	}

	if stored.ServerURL != serverURL {
		t.Errorf("Expected server URL %q, got %q", serverURL, stored.ServerURL)
	}

	if stored.IssuerURL != token.Issuer {
		t.Errorf("Expected issuer URL %q, got %q", token.Issuer, stored.IssuerURL)
	}
}

func TestTokenStore_NormalizesServerURL(t *testing.T) {
	store, err := NewTokenStore(TokenStoreConfig{
		StorageDir: t.TempDir(),
		FileMode:   false,
	})
	if err != nil {
		t.Fatalf("Failed to create token store: %v", err)
	}

	token := &pkgoauth.Token{
		AccessToken: "test-token",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(1 * time.Hour),
	}

	// Save under the /mcp endpoint, read back under other spellings.
	if err := store.Save("https://tools.example.com/mcp", token); err != nil {
		t.Fatalf("Failed to save token: %v", err)
	}

	for _, url := range []string{
		"https://tools.example.com",
		"https://tools.example.com/",
		"https://tools.example.com/mcp",
		"https://tools.example.com/sse",
	} {
		if store.Get(url) == nil {
			t.Errorf("Expected token for %q, got nil", url)
		}
	}
}

func TestTokenStore_ExpiredToken(t *testing.T) {
	store, err := NewTokenStore(TokenStoreConfig{
		StorageDir: t.TempDir(),
		FileMode:   false,
	})
	if err != nil {
		t.Fatalf("Failed to create token store: %v", err)
	}

	serverURL := "https://tools.example.com"

	expired := &pkgoauth.Token{
		AccessToken:  "expired-token",
		RefreshToken: "still-here",
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(-1 * time.Hour),
	}

	if err := store.Save(serverURL, expired); err != nil {
		t.Fatalf("Failed to save token: %v", err)
	}

	if stored := store.Get(serverURL); stored != nil {
		t.Error("Expected nil for expired token, got a token")
	}

	// The expired record is still reachable for its refresh token.
	stored := store.GetIncludingExpired(serverURL)
	if stored == nil {
		t.Fatal("Expected expired record via GetIncludingExpired, got nil")
	}
	if stored.RefreshToken != "still-here" {
		t.Errorf("Expected refresh token %q, got %q", "still-here", stored.RefreshToken)
	}
}

func TestTokenStore_ExpiryBuffer(t *testing.T) {
	store, err := NewTokenStore(TokenStoreConfig{
		StorageDir:   t.TempDir(),
		FileMode:     false,
		ExpiryBuffer: 60 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create token store: %v", err)
	}

	serverURL := "https://tools.example.com"

	// Expires in 30s: inside the 60s buffer, so treated as expired.
	soon := &pkgoauth.Token{
		AccessToken: "soon-to-expire",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(30 * time.Second),
	}
	if err := store.Save(serverURL, soon); err != nil {
		t.Fatalf("Failed to save token: %v", err)
	}
	if store.Get(serverURL) != nil {
		t.Error("Expected token inside expiry buffer to be treated as expired")
	}

	// Expires in 10m: comfortably valid.
	later := &pkgoauth.Token{
		AccessToken: "still-valid",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	}
	if err := store.Save(serverURL, later); err != nil {
		t.Fatalf("Failed to save token: %v", err)
	}
	if store.Get(serverURL) == nil {
		t.Error("Expected token outside expiry buffer to be valid")
	}
}

func TestTokenStore_NoExpiry(t *testing.T) {
	store, err := NewTokenStore(TokenStoreConfig{
		StorageDir: t.TempDir(),
		FileMode:   false,
	})
	if err != nil {
		t.Fatalf("Failed to create token store: %v", err)
	}

	serverURL := "https://tools.example.com"
	token := &pkgoauth.Token{
		AccessToken: "no-expiry-token",
		TokenType:   "Bearer",
	}

	if err := store.Save(serverURL, token); err != nil {
		t.Fatalf("Failed to save token: %v", err)
	}

	if store.Get(serverURL) == nil {
		t.Error("Expected token without expiry to be valid")
	}
}

func TestTokenStore_Delete(t *testing.T) {
	store, err := NewTokenStore(TokenStoreConfig{
		StorageDir: t.TempDir(),
		FileMode:   false,
	})
	if err != nil {
		t.Fatalf("Failed to create token store: %v", err)
	}

	serverURL := "https://tools.example.com"
	token := &pkgoauth.Token{
		AccessToken: "test-token",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(1 * time.Hour),
	}

	if err := store.Save(serverURL, token); err != nil {
		t.Fatalf("Failed to save token: %v", err)
	}

	if err := store.Delete(serverURL); err != nil {
		t.Fatalf("Failed to delete token: %v", err)
	}

	if store.Get(serverURL) != nil {
		t.Error("Expected nil after deletion, got a token")
	}
}

func TestTokenStore_FileMode(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewTokenStore(TokenStoreConfig{
		StorageDir: tmpDir,
		FileMode:   true,
	})
	if err != nil {
		t.Fatalf("Failed to create token store: %v", err)
	}

	serverURL := "https://tools.example.com"
	token := &pkgoauth.Token{
		AccessToken: "persistent-token",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(1 * time.Hour),
	}

	if err := store.Save(serverURL, token); err != nil {
		t.Fatalf("Failed to save token: %v", err)
	}

	files, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("Failed to read token directory: %v", err)
	}

	if len(files) != 1 {
		t.Fatalf("Expected 1 token file, got %d", len(files))
	}

	if filepath.Ext(files[0].Name()) != ".json" {
		t.Errorf("Expected .json file, got %s", files[0].Name())
	}

	info, err := files[0].Info()
	if err != nil {
		t.Fatalf("Failed to stat token file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("Expected token file mode 0600, got %o", perm)
	}

	// A fresh store instance must pick the token up from disk.
	store2, err := NewTokenStore(TokenStoreConfig{
		StorageDir: tmpDir,
		FileMode:   true,
	})
	if err != nil {
		t.Fatalf("Failed to create second token store: %v", err)
	}

	stored := store2.Get(serverURL)
	if stored == nil {
		t.Fatal("Expected to get token from file, got nil")
	}

	if stored.AccessToken != token.AccessToken {
		t.Errorf("Expected access token %q, got %q", token.AccessToken, stored.AccessToken)
	}
}

func TestTokenStore_DirPermissions(t *testing.T) {
	tmpDir := t.TempDir()
	storageDir := filepath.Join(tmpDir, "tokens")

	_, err := NewTokenStore(TokenStoreConfig{
		StorageDir: storageDir,
		FileMode:   true,
	})
	if err != nil {
		t.Fatalf("Failed to create token store: %v", err)
	}

	info, err := os.Stat(storageDir)
	if err != nil {
		t.Fatalf("Failed to stat storage directory: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("Expected storage directory mode 0700, got %o", perm)
	}
}

func TestTokenStore_List(t *testing.T) {
	store, err := NewTokenStore(TokenStoreConfig{
		StorageDir: t.TempDir(),
		FileMode:   true,
	})
	if err != nil {
		t.Fatalf("Failed to create token store: %v", err)
	}

	servers := []string{
		"https://c.example.com",
		"https://a.example.com",
		"https://b.example.com",
	}
	for _, serverURL := range servers {
		token := &pkgoauth.Token{
			AccessToken: "token-for-" + serverURL,
			TokenType:   "Bearer",
			ExpiresAt:   time.Now().Add(1 * time.Hour),
		}
		if err := store.Save(serverURL, token); err != nil {
			t.Fatalf("Failed to save token: %v", err)
		}
	}

	tokens := store.List()
	if len(tokens) != 3 {
		t.Fatalf("Expected 3 tokens, got %d", len(tokens))
	}

	// Sorted by server URL.
	want := []string{
		"https://a.example.com",
		"https://b.example.com",
		"https://c.example.com",
	}
	for i, stored := range tokens {
		if stored.ServerURL != want[i] {
			t.Errorf("List[%d]: expected %q, got %q", i, want[i], stored.ServerURL)
		}
	}
}

func TestTokenStore_ListSkipsClientRegistrations(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewTokenStore(TokenStoreConfig{
		StorageDir: tmpDir,
		FileMode:   true,
	})
	if err != nil {
		t.Fatalf("Failed to create token store: %v", err)
	}

	token := &pkgoauth.Token{
		AccessToken: "test-token",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(1 * time.Hour),
	}
	if err := store.Save("https://tools.example.com", token); err != nil {
		t.Fatalf("Failed to save token: %v", err)
	}

	// A cached registration in the same directory must not show up.
	regFile := filepath.Join(tmpDir, "deadbeef"+clientFileSuffix)
	if err := os.WriteFile(regFile, []byte(`{"client_id":"abc"}`), 0600); err != nil {
		t.Fatalf("Failed to write registration file: %v", err)
	}

	tokens := store.List()
	if len(tokens) != 1 {
		t.Errorf("Expected 1 token, got %d", len(tokens))
	}
}

func TestTokenStore_Clear(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewTokenStore(TokenStoreConfig{
		StorageDir: tmpDir,
		FileMode:   true,
	})
	if err != nil {
		t.Fatalf("Failed to create token store: %v", err)
	}

	for i := 0; i < 3; i++ {
		serverURL := "https://tools" + string(rune('0'+i)) + ".example.com"
		token := &pkgoauth.Token{
			AccessToken: "token-" + string(rune('0'+i)),
			TokenType:   "Bearer",
			ExpiresAt:   time.Now().Add(1 * time.Hour),
		}
		if err := store.Save(serverURL, token); err != nil {
			t.Fatalf("Failed to save token: %v", err)
		}
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Failed to clear tokens: %v", err)
	}

	for i := 0; i < 3; i++ {
		serverURL := "https://tools" + string(rune('0'+i)) + ".example.com"
		if store.HasValidToken(serverURL) {
			t.Errorf("Expected no token for %s after clear", serverURL)
		}
	}

	files, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("Failed to read token directory: %v", err)
	}

	jsonFiles := 0
	for _, f := range files {
		if filepath.Ext(f.Name()) == ".json" {
			jsonFiles++
		}
	}

	if jsonFiles != 0 {
		t.Errorf("Expected 0 token files after clear, got %d", jsonFiles)
	}
}

func TestStoredToken_ToToken(t *testing.T) {
	expiry := time.Now().Add(1 * time.Hour)
	stored := &StoredToken{
		ServerURL:    "https://tools.example.com",
		IssuerURL:    "https://auth.example.com",
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		TokenType:    "Bearer",
		IDToken:      "id-token",
		Expiry:       expiry,
	}

	token := stored.ToToken()

	if token.AccessToken != stored.AccessToken {
		t.Errorf("Expected access token %q, got %q", stored.AccessToken, token.AccessToken)
	}
	if token.RefreshToken != stored.RefreshToken {
		t.Errorf("Expected refresh token %q, got %q", stored.RefreshToken, token.RefreshToken)
	}
	if token.IDToken != stored.IDToken {
		t.Errorf("Expected ID token %q, got %q", stored.IDToken, token.IDToken)
	}
	if !token.ExpiresAt.Equal(expiry) {
		t.Errorf("Expected expiry %v, got %v", expiry, token.ExpiresAt)
	}
	if token.Issuer != stored.IssuerURL {
		t.Errorf("Expected issuer %q, got %q", stored.IssuerURL, token.Issuer)
	}
}
