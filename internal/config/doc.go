// Package config handles configuration loading for coven-dataengine.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files (chosen by extension) with
// environment variable expansion. Anything the file omits keeps the value
// from Default, so an empty file is a valid configuration.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	durability:
//	  path: "${DATAENGINE_SNAPSHOTS}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	durability:
//	  lock_timeout: "1s"
//	server:
//	  shutdown_timeout: "10s"
//
// # Sections
//
//   - engine: working directory, isolation mode (auto|off), vector dimension, seed rows
//   - durability: snapshot store path, compression (zstd|lz4|none), lock timeout
//   - server: HTTP address for `dataengine serve`
//   - logging: level (debug|info|warn|error) and format (text|json)
package config
