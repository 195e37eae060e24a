// Package config loads supportdesk configuration.
//
// # Sources
//
// Values are layered, later sources winning:
//
//  1. Default()
//  2. A YAML file, or TOML when the path ends in .toml. ${VAR} references
//     in the file are expanded from the environment before parsing.
//  3. SUPPORTDESK_* environment variables, e.g. SUPPORTDESK_HTTP_ADDR,
//     SUPPORTDESK_JWT_SECRET, SUPPORTDESK_DB_PATH, SUPPORTDESK_REDIS_URL.
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:5000"
//	  grpc_addr: "127.0.0.1:50051"
//
//	database:
//	  path: "./supportdesk.db"
//	  driver: "sqlite"
//
//	auth:
//	  jwt_secret: "${SUPPORTDESK_JWT_SECRET}"
//	  token_ttl: "24h"
//
//	presence:
//	  broadcast_user_status: false
//
//	relay:
//	  event_timeout: "10s"
//	  send_queue_size: 256
//
//	cors:
//	  allowed_origins: ["http://localhost:5173"]
//
//	redis:
//	  url: "redis://localhost:6379/0"
//	  channel_prefix: "supportdesk"
//
//	logging:
//	  level: "info"
//	  format: "text"
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// Durations use Go syntax ("30s", "24h").
package config
