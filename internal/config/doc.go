// Package config handles configuration loading for rtc-chat-server.
//
// # Overview
//
// Configuration is read from a YAML file, or a TOML file when the path ends
// in .toml. Environment variables are expanded before decoding, durations are
// parsed, defaults applied, and the result validated.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from RTC_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/rtc-chat/server.yaml
//  3. ~/.config/rtc-chat/server.yaml
//
// A .env file in the working directory is loaded by the binary before the
// path is resolved, so values like RTC_JWT_SECRET can live there.
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${RTC_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:3001"     # websocket namespaces and REST API
//	  grpc_addr: "0.0.0.0:50051"    # optional gRPC health service
//	  allowed_origins: ["http://localhost:3000"]
//
//	database:
//	  driver: "sqlite"              # sqlite (pure Go) or sqlite3 (cgo)
//	  path: "/var/lib/rtc-chat/chat.db"
//
//	auth:
//	  jwt_secret: "${RTC_JWT_SECRET}"
//	  token_ttl: "24h"
//	  bcrypt_cost: 12
//
//	presence:
//	  supersede: true               # close older connections of the same user
//
//	signaling:
//	  ring_timeout: "60s"           # "0s" disables unanswered-call expiry
//
//	websocket:
//	  ping_interval: "25s"
//	  pong_timeout: "60s"
//	  write_timeout: "10s"
//	  send_buffer: 64
//	  max_message_bytes: 65536
//
//	logging:
//	  level: "info"                 # debug, info, warn, error
//	  format: "text"                # text, json
//
// # Validation
//
// Validate checks listener addresses, database driver and path, JWT secret
// length (32 bytes minimum), bcrypt cost range, and websocket timing.
package config
