// Package gateway is the isolation gateway in front of the execution backend.
//
// # Overview
//
// Every engine operation goes through a Gateway. At construction the
// gateway decides, once and for the rest of its life, how operations run:
//
//   - isolated: a worker owns the backend behind an in-memory gRPC service
//     (a bufconn listener) and exchanges only JSON-encoded request and
//     response envelopes with the gateway over one bidirectional stream
//   - in-process: the gateway calls the backend directly, applying the same
//     encoding and error flattening the worker does
//
// Isolation is used unless it is turned off in configuration, the probe
// fails or the worker cannot be started. Callers cannot tell the two modes
// apart from results.
//
// # Request Correlation
//
// Each isolated call gets a fresh request id and an entry in the pending
// table. The read loop resolves entries as responses arrive, in whatever
// order the worker produces them. A response for an unknown id is logged
// and dropped.
//
// If the worker stream fails (an undecodable envelope, the worker returning
// or Close), every pending call is rejected with ErrChannelFailed and every
// later call fails fast with the same error. The worker is not restarted.
//
// # Initialization
//
// Initialize is memoized per gateway. Concurrent callers share one
// in-flight attempt; a success is kept, a failure is not.
//
// # HTTP API
//
//	GET  /health         - status, mode and whether the engine is initialized
//	POST /api/rpc/{op}   - body is the operation payload, response is its result
//	GET  /api/snapshot   - raw database image
//
// Errors are returned as {"error": "..."} with a status derived from the
// error kind.
package gateway
