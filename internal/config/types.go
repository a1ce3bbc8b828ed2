package config

// Config is the top-level configuration structure for mcpauth.
type Config struct {
	// Auth holds the OAuth client settings that apply to every server.
	Auth AuthConfig `yaml:"auth"`

	// Servers lists known remote MCP servers with per-server overrides.
	Servers []ServerEntry `yaml:"servers,omitempty"`
}

// AuthConfig defines the OAuth client behavior shared by all servers.
type AuthConfig struct {
	// CallbackPort is the port the loopback callback listener binds during
	// the browser flow. 0 picks an ephemeral port (default: 3000).
	CallbackPort int `yaml:"callbackPort,omitempty"`

	// TokenStorageDir is the directory token files are written to
	// (default: ~/.config/mcpauth/tokens).
	TokenStorageDir string `yaml:"tokenStorageDir,omitempty"`

	// ClientID is a statically configured OAuth client identifier used when
	// a server offers no dynamic registration endpoint.
	ClientID string `yaml:"clientID,omitempty"`

	// Scopes are the default scopes requested during authorization.
	Scopes []string `yaml:"scopes,omitempty"`

	// Headless selects the device authorization grant instead of the
	// browser flow for all servers (e.g. when running over SSH).
	Headless bool `yaml:"headless,omitempty"`

	// FlowTimeoutSeconds bounds one authorization attempt, covering the
	// browser callback wait (default: 300).
	FlowTimeoutSeconds int `yaml:"flowTimeoutSeconds,omitempty"`
}

// ServerEntry describes one remote MCP server.
type ServerEntry struct {
	// Name is a short alias usable instead of the full URL in CLI commands.
	Name string `yaml:"name"`

	// URL is the server's base endpoint.
	URL string `yaml:"url"`

	// Scopes overrides the default scopes for this server.
	Scopes []string `yaml:"scopes,omitempty"`

	// ClientID overrides the default static client ID for this server.
	ClientID string `yaml:"clientID,omitempty"`

	// Headless forces the device flow for this server.
	Headless bool `yaml:"headless,omitempty"`
}

// FindServer returns the entry whose name matches, or nil.
func (c *Config) FindServer(name string) *ServerEntry {
	for i := range c.Servers {
		if c.Servers[i].Name == name {
			return &c.Servers[i]
		}
	}
	return nil
}
