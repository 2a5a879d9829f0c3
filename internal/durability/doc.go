// Package durability persists full database snapshots to a local bbolt file.
//
// A single value is kept under key "latest" in bucket "snapshots" and is
// overwritten on every save. Stored values start with a one-byte codec header
// (none, zstd or lz4) so the configured compression can change between runs.
//
// The manager probes the store once when created. If the probe fails, or any
// later save fails, the manager disables itself for the rest of the session
// and the engine keeps running without snapshots. Failures are logged and
// never returned to callers.
package durability
