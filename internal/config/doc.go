// Package config handles configuration loading for chatgate.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion, then CHATGATE_* environment overrides are applied on top.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. --config flag
//  2. Path from CHATGATE_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/chatgate/gateway.yaml
//  4. ~/.config/chatgate/gateway.yaml
//
// A file ending in .toml is decoded with BurntSushi/toml; anything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	provider:
//	  api_key: "${AZURE_OPENAI_API_KEY}"
//
// # Environment Overrides
//
//	CHATGATE_HTTP_ADDR    server.http_addr
//	CHATGATE_DB_PATH      database.path
//	CHATGATE_LOG_LEVEL    logging.level
//	CHATGATE_BUS_DRIVER   bus.driver
//	CHATGATE_NATS_URL     bus.nats_url
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:18790"
//
//	web:
//	  enabled: true
//	  allow_from: ["alice-laptop"]   # empty allows every client
//	  max_frame_bytes: 2097152
//	  write_timeout: "10s"
//	  history_limit: 200
//
//	database:
//	  driver: "sqlite"               # sqlite, sqlite3, pgx
//	  path: "~/.chatgate/sessions.db"
//	  cache_ttl: "10m"
//	  cache_size: 1024
//
//	bus:
//	  driver: "memory"               # memory, nats
//	  nats_url: "nats://127.0.0.1:4222"
//	  subject_prefix: "chatgate"
//
//	provider:
//	  model: "azure/gpt-5.1"
//	  api_key: "${AZURE_OPENAI_API_KEY}"
//	  api_base: "https://example.openai.azure.com"
//	  api_version: "2024-12-01-preview"
//	  max_tokens: 8192
//	  temperature: 0.7
//	  timeout: "60s"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
