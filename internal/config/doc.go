// Package config handles configuration loading for pennyworth.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PENNYWORTH_CONFIG environment variable
//  2. ./config.yaml (current directory)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	admin:
//	  jwt_secret: "${PENNYWORTH_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	recovery:
//	  initial_backoff: "1s"
//	  max_backoff: "1m"
//	  failure_window: "10m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Relay connection:
//
//	relay:
//	  url: "wss://relay.example.com"
//	  token: "${PENNYWORTH_RELAY_TOKEN}"
//
// Database:
//
//	database:
//	  path: "/var/lib/pennyworth/ledger.db"
//
// Receipt extraction:
//
//	extraction:
//	  api_key: "${ARK_API_KEY}"
//	  model: "vision-model-id"
//	  base_url: "https://ark.cn-beijing.volces.com/api/v3"
//	  timeout: "30s"
//
// Admin API:
//
//	admin:
//	  addr: ":8081"
//	  jwt_secret: "${PENNYWORTH_JWT_SECRET}"
//
// Rate limits:
//
//	limits:
//	  text_limit: 20
//	  text_window: "1m"
//	  photo_limit: 3
//	  photo_window: "1m"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
