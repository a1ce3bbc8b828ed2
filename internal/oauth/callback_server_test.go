package oauth

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestCallbackServer_ReceivesCallback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := NewCallbackServer(0) // ephemeral port
	redirectURI, err := server.Start(ctx)
	if err != nil {
		t.Fatalf("Failed to start callback server: %v", err)
	}
	defer server.Stop()

	if !strings.HasPrefix(redirectURI, "http://127.0.0.1:") {
		t.Errorf("Expected loopback redirect URI, got %q", redirectURI)
	}
	if !strings.HasSuffix(redirectURI, "/callback") {
		t.Errorf("Expected /callback path, got %q", redirectURI)
	}

	resp, err := http.Get(redirectURI + "?code=test-code&state=test-state")
	if err != nil {
		t.Fatalf("Callback request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "Authentication complete") {
		t.Error("Expected success page in response body")
	}

	result, err := server.WaitForCallback(ctx)
	if err != nil {
		t.Fatalf("WaitForCallback failed: %v", err)
	}

	if result.Code != "test-code" {
		t.Errorf("Expected code %q, got %q", "test-code", result.Code)
	}
	if result.State != "test-state" {
		t.Errorf("Expected state %q, got %q", "test-state", result.State)
	}
	if result.IsError() {
		t.Errorf("Expected no error, got %q", result.Error)
	}
}

func TestCallbackServer_ErrorCallback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := NewCallbackServer(0)
	redirectURI, err := server.Start(ctx)
	if err != nil {
		t.Fatalf("Failed to start callback server: %v", err)
	}
	defer server.Stop()

	resp, err := http.Get(redirectURI + "?error=access_denied&error_description=user+said+no")
	if err != nil {
		t.Fatalf("Callback request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if !strings.Contains(string(body), "access_denied") {
		t.Error("Expected error code in response body")
	}

	result, err := server.WaitForCallback(ctx)
	if err != nil {
		t.Fatalf("WaitForCallback failed: %v", err)
	}

	if !result.IsError() {
		t.Fatal("Expected error result")
	}
	if result.Error != "access_denied" {
		t.Errorf("Expected error %q, got %q", "access_denied", result.Error)
	}
	if result.ErrorDescription != "user said no" {
		t.Errorf("Expected error description %q, got %q", "user said no", result.ErrorDescription)
	}
}

func TestCallbackServer_SingleCallbackOnly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := NewCallbackServer(0)
	redirectURI, err := server.Start(ctx)
	if err != nil {
		t.Fatalf("Failed to start callback server: %v", err)
	}
	defer server.Stop()

	resp1, err := http.Get(redirectURI + "?code=first&state=s")
	if err != nil {
		t.Fatalf("First callback request failed: %v", err)
	}
	resp1.Body.Close()

	// A second request must be rejected, not overwrite the result.
	resp2, err := http.Get(redirectURI + "?code=second&state=s")
	if err == nil {
		if resp2.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400 for second callback, got %d", resp2.StatusCode)
		}
		resp2.Body.Close()
	}

	result, err := server.WaitForCallback(ctx)
	if err != nil {
		t.Fatalf("WaitForCallback failed: %v", err)
	}
	if result.Code != "first" {
		t.Errorf("Expected code from first callback, got %q", result.Code)
	}
}

func TestCallbackServer_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	server := NewCallbackServer(0)
	if _, err := server.Start(ctx); err != nil {
		t.Fatalf("Failed to start callback server: %v", err)
	}
	defer server.Stop()

	cancel()

	if _, err := server.WaitForCallback(ctx); err == nil {
		t.Error("Expected error from cancelled context, got nil")
	}
}

func TestCallbackServer_SecurityHeaders(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := NewCallbackServer(0)
	redirectURI, err := server.Start(ctx)
	if err != nil {
		t.Fatalf("Failed to start callback server: %v", err)
	}
	defer server.Stop()

	resp, err := http.Get(redirectURI + "?code=c&state=s")
	if err != nil {
		t.Fatalf("Callback request failed: %v", err)
	}
	resp.Body.Close()

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("Expected header %s=%q, got %q", header, want, got)
		}
	}
}
