package config

const (
	// DefaultCallbackPort is the default port for the loopback callback listener.
	DefaultCallbackPort = 3000

	// DefaultFlowTimeoutSeconds bounds one authorization attempt.
	DefaultFlowTimeoutSeconds = 300
)

// DefaultScopes are requested when neither the config nor the server's
// advertised scopes say otherwise.
var DefaultScopes = []string{"openid", "profile", "email", "offline_access"}

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() Config {
	return Config{
		Auth: AuthConfig{
			CallbackPort:       DefaultCallbackPort,
			FlowTimeoutSeconds: DefaultFlowTimeoutSeconds,
			Scopes:             append([]string(nil), DefaultScopes...),
		},
	}
}
