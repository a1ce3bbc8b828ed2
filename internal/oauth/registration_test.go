package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgoauth "mcpauth/pkg/oauth"
)

func testServerConfig(issuer, registrationEndpoint string) *pkgoauth.ServerConfig {
	return &pkgoauth.ServerConfig{
		ResourceURL: "https://tools.example.com",
		Metadata: &pkgoauth.Metadata{
			Issuer:                issuer,
			AuthorizationEndpoint: issuer + "/authorize",
			TokenEndpoint:         issuer + "/token",
			RegistrationEndpoint:  registrationEndpoint,
		},
	}
}

func TestRegistrar_StaticClientID(t *testing.T) {
	registrar := NewRegistrar(pkgoauth.NewClient(), RegistrarConfig{
		StaticClientID: "static-client",
	})

	// No registration endpoint: the static ID must still win.
	server := testServerConfig("https://auth.example.com", "")

	reg, err := registrar.EnsureClient(context.Background(), server, "http://127.0.0.1:3000/callback")
	if err != nil {
		t.Fatalf("EnsureClient failed: %v", err)
	}

	if reg.ClientID != "static-client" {
		t.Errorf("Expected client ID %q, got %q", "static-client", reg.ClientID)
	}
}

func TestRegistrar_DynamicRegistration(t *testing.T) {
	var registrations int
	var gotMeta pkgoauth.ClientMetadata

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		registrations++
		if err := json.NewDecoder(r.Body).Decode(&gotMeta); err != nil {
			t.Errorf("Failed to decode registration request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"client_id": "dynamic-client"}`))
	}))
	defer ts.Close()

	registrar := NewRegistrar(pkgoauth.NewClient(), RegistrarConfig{
		SoftwareVersion: "1.2.3",
	})
	server := testServerConfig("https://auth.example.com", ts.URL)

	reg, err := registrar.EnsureClient(context.Background(), server, "http://127.0.0.1:3000/callback")
	if err != nil {
		t.Fatalf("EnsureClient failed: %v", err)
	}

	if reg.ClientID != "dynamic-client" {
		t.Errorf("Expected client ID %q, got %q", "dynamic-client", reg.ClientID)
	}

	if gotMeta.TokenEndpointAuthMethod != "none" {
		t.Errorf("Expected token_endpoint_auth_method %q, got %q", "none", gotMeta.TokenEndpointAuthMethod)
	}
	if gotMeta.SoftwareID == "" {
		t.Error("Expected a software_id in the registration request")
	}
	if gotMeta.SoftwareVersion != "1.2.3" {
		t.Errorf("Expected software_version %q, got %q", "1.2.3", gotMeta.SoftwareVersion)
	}
	if len(gotMeta.RedirectURIs) != 1 || gotMeta.RedirectURIs[0] != "http://127.0.0.1:3000/callback" {
		t.Errorf("Unexpected redirect URIs: %v", gotMeta.RedirectURIs)
	}

	// The second call for the same issuer reuses the cached registration.
	reg2, err := registrar.EnsureClient(context.Background(), server, "http://127.0.0.1:3000/callback")
	if err != nil {
		t.Fatalf("Second EnsureClient failed: %v", err)
	}
	if reg2.ClientID != reg.ClientID {
		t.Errorf("Expected cached client ID %q, got %q", reg.ClientID, reg2.ClientID)
	}
	if registrations != 1 {
		t.Errorf("Expected 1 registration request, got %d", registrations)
	}
}

func TestRegistrar_PersistsRegistration(t *testing.T) {
	var registrations int

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		registrations++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"client_id": "persisted-client"}`))
	}))
	defer ts.Close()

	tmpDir := t.TempDir()
	server := testServerConfig("https://auth.example.com", ts.URL)

	registrar := NewRegistrar(pkgoauth.NewClient(), RegistrarConfig{
		StorageDir: tmpDir,
		FileMode:   true,
	})
	if _, err := registrar.EnsureClient(context.Background(), server, ""); err != nil {
		t.Fatalf("EnsureClient failed: %v", err)
	}

	// A fresh registrar over the same directory must reuse the file.
	registrar2 := NewRegistrar(pkgoauth.NewClient(), RegistrarConfig{
		StorageDir: tmpDir,
		FileMode:   true,
	})
	reg, err := registrar2.EnsureClient(context.Background(), server, "")
	if err != nil {
		t.Fatalf("EnsureClient with fresh registrar failed: %v", err)
	}
	if reg.ClientID != "persisted-client" {
		t.Errorf("Expected client ID %q, got %q", "persisted-client", reg.ClientID)
	}
	if registrations != 1 {
		t.Errorf("Expected 1 registration request, got %d", registrations)
	}
}

func TestRegistrar_NoEndpointNoClientID(t *testing.T) {
	registrar := NewRegistrar(pkgoauth.NewClient(), RegistrarConfig{})
	server := testServerConfig("https://auth.example.com", "")

	_, err := registrar.EnsureClient(context.Background(), server, "")
	if err == nil {
		t.Fatal("Expected error when no registration endpoint and no client ID, got nil")
	}
}
