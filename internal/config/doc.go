// Package config loads the mcpauth configuration from
// ~/.config/mcpauth/config.yaml.
//
// Loading starts from built-in defaults and overlays whatever the file
// defines, so a missing or partial config.yaml always yields a usable
// Config. The file holds OAuth client behavior (callback port, token
// storage directory, default scopes, headless mode) plus a list of named
// remote MCP servers with per-server overrides:
//
//	auth:
//	  callbackPort: 3000
//	  headless: false
//	  scopes: [openid, profile, email, offline_access]
//	servers:
//	  - name: corp
//	    url: https://mcp.example.com
//	    scopes: [mcp.tools]
//	  - name: ci
//	    url: https://ci-tools.example.com
//	    headless: true
package config
