package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	pkgoauth "mcpauth/pkg/oauth"
)

// clientFileSuffix distinguishes cached client registrations from token
// files in the shared storage directory.
const clientFileSuffix = ".client.json"

// clientName is the name sent in dynamic registration requests.
const clientName = "mcpauth"

// Registrar resolves the OAuth client identity for an authorization server.
//
// Resolution order: a statically configured client_id wins; otherwise a
// previously cached registration for the issuer is reused; otherwise the
// server's RFC 7591 registration endpoint is called and the result cached.
// Registrations are keyed by issuer so one registration serves every
// resource behind the same authorization server.
type Registrar struct {
	oauthClient *pkgoauth.Client

	// StaticClientID short-circuits registration when set.
	staticClientID string

	// softwareVersion is reported as software_version during registration.
	softwareVersion string

	storageDir string
	fileMode   bool

	mu    sync.Mutex
	cache map[string]*pkgoauth.ClientRegistration
}

// RegistrarConfig configures a Registrar.
type RegistrarConfig struct {
	// StaticClientID is a pre-provisioned client identifier. When set,
	// dynamic registration is never attempted.
	StaticClientID string

	// SoftwareVersion is the build version reported during registration.
	SoftwareVersion string

	// StorageDir is where cached registrations live (shared with the
	// token store). Ignored unless FileMode is set.
	StorageDir string

	// FileMode enables persisting registrations across runs.
	FileMode bool
}

// NewRegistrar creates a registrar backed by the given protocol client.
func NewRegistrar(oauthClient *pkgoauth.Client, cfg RegistrarConfig) *Registrar {
	return &Registrar{
		oauthClient:     oauthClient,
		staticClientID:  cfg.StaticClientID,
		softwareVersion: cfg.SoftwareVersion,
		storageDir:      cfg.StorageDir,
		fileMode:        cfg.FileMode,
		cache:           make(map[string]*pkgoauth.ClientRegistration),
	}
}

// EnsureClient returns the client registration to use against the given
// server, registering dynamically when needed. redirectURI may be empty for
// flows that use no redirect (device grant).
func (r *Registrar) EnsureClient(ctx context.Context, server *pkgoauth.ServerConfig, redirectURI string) (*pkgoauth.ClientRegistration, error) {
	if r.staticClientID != "" {
		return &pkgoauth.ClientRegistration{ClientID: r.staticClientID}, nil
	}

	issuer := server.Metadata.Issuer
	if issuer == "" {
		issuer = server.ResourceURL
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if reg, ok := r.cache[issuer]; ok {
		return reg, nil
	}

	if r.fileMode {
		if reg, err := r.readRegistrationFile(issuer); err == nil {
			r.cache[issuer] = reg
			return reg, nil
		}
	}

	if server.Metadata.RegistrationEndpoint == "" {
		return nil, fmt.Errorf("%w: %s offers no registration endpoint and no client_id is configured",
			pkgoauth.ErrRegistration, issuer)
	}

	meta := pkgoauth.ClientMetadata{
		ClientName: clientName,
		GrantTypes: []string{
			pkgoauth.GrantTypeAuthorizationCode,
			pkgoauth.GrantTypeRefreshToken,
			pkgoauth.GrantTypeDeviceCode,
		},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
		SoftwareID:              uuid.NewString(),
		SoftwareVersion:         r.softwareVersion,
	}
	if redirectURI != "" {
		meta.RedirectURIs = []string{redirectURI}
	}

	reg, err := r.oauthClient.RegisterClient(ctx, server.Metadata.RegistrationEndpoint, meta)
	if err != nil {
		return nil, err
	}

	r.cache[issuer] = reg

	if r.fileMode {
		if err := r.writeRegistrationFile(issuer, reg); err != nil {
			// The registration is still usable for this run.
			slog.Warn("Failed to cache client registration",
				"issuer", issuer,
				"error", err.Error(),
			)
		}
	}

	return reg, nil
}

// registrationPath returns the cache file path for an issuer.
func (r *Registrar) registrationPath(issuer string) string {
	return filepath.Join(r.storageDir, tokenKey(issuer)+clientFileSuffix)
}

func (r *Registrar) readRegistrationFile(issuer string) (*pkgoauth.ClientRegistration, error) {
	// #nosec G304 -- path is derived from a hashed issuer, not user input
	data, err := os.ReadFile(r.registrationPath(issuer))
	if err != nil {
		return nil, err
	}

	var reg pkgoauth.ClientRegistration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client registration: %w", err)
	}
	if reg.ClientID == "" {
		return nil, fmt.Errorf("cached client registration is missing client_id")
	}

	return &reg, nil
}

func (r *Registrar) writeRegistrationFile(issuer string, reg *pkgoauth.ClientRegistration) error {
	if err := os.MkdirAll(r.storageDir, 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal client registration: %w", err)
	}

	// Client secrets are credentials too; same permissions as tokens.
	if err := os.WriteFile(r.registrationPath(issuer), data, 0600); err != nil {
		return fmt.Errorf("failed to write client registration: %w", err)
	}

	return nil
}
