// Package config handles configuration loading for huddle-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML (or .toml) file with environment
// variable expansion. A .env file beside the config is loaded first and
// never overrides variables already set.
//
// # Configuration File
//
// DefaultPath resolves, in order:
//
//  1. Path from HUDDLE_CONFIG environment variable
//  2. <user config dir>/huddle/gateway.yaml
//
// # Environment Variable Expansion
//
//	crypto:
//	  encryption_key: "${HUDDLE_ENCRYPTION_KEY}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # REST API and /ws
//	  grpc_addr: "0.0.0.0:50051"  # optional gRPC health service
//
//	database:
//	  path: "/var/lib/huddle/gateway.db"
//
//	auth:
//	  jwt_secret: "${HUDDLE_JWT_SECRET}"   # at least 32 bytes
//
//	crypto:
//	  encryption_key: "${HUDDLE_ENCRYPTION_KEY}"   # 64 hex chars
//
//	bots:
//	  default_api_key: "${GEMINI_API_KEY}"   # empty disables the default bot
//	  system_prompt: "You are a helpful assistant."
//	  max_tokens: 1500
//	  temperature: 0.7
//	  history_limit: 10
//	  dispatch_timeout: "30s"
//	  providers:
//	    mistral:
//	      base_url: "https://api.mistral.ai/v1"
//
//	tailscale:
//	  enabled: false
//	  hostname: "huddle"
//	  auth_key: "${TS_AUTHKEY}"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Validation
//
// Every validation failure wraps ErrConfiguration. A missing or malformed
// encryption key also wraps secret.ErrConfiguration.
package config
