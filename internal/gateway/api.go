// ABOUTME: HTTP API exposing engine operations as JSON RPC endpoints
// ABOUTME: Provides POST /api/rpc/{op}, GET /api/snapshot and GET /health

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/2389/coven-dataengine/internal/backend"
)

// maxRequestBody bounds RPC bodies; snapshots travel base64-encoded inside them
const maxRequestBody = 256 << 20

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Mode        Mode   `json:"mode"`
	Initialized bool   `json:"initialized"`
}

// Handler returns the HTTP API for this gateway.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("POST /api/rpc/{op}", g.handleRPC)
	mux.HandleFunc("GET /api/snapshot", g.handleSnapshot)
	return mux
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	g.mu.Lock()
	if g.failed != nil {
		status = "failed"
	}
	g.mu.Unlock()

	resp := HealthResponse{
		Status:      status,
		Mode:        g.mode,
		Initialized: g.initialized() != nil,
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

// handleRPC handles POST /api/rpc/{op}. The body is the operation's JSON
// payload and may be empty; the response body is the operation's result.
func (g *Gateway) handleRPC(w http.ResponseWriter, r *http.Request) {
	op, err := backend.ParseOp(r.PathValue("op"))
	if err != nil {
		g.sendJSONError(w, http.StatusNotFound, err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		g.sendJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var result any
	if op == backend.OpInitialize {
		result, err = g.initializeFromBody(r.Context(), body)
	} else {
		var payload any
		if len(body) > 0 {
			payload = json.RawMessage(body)
		}
		result, err = g.Call(r.Context(), op, payload)
	}
	if err != nil {
		g.logger.Debug("rpc failed", "op", op, "error", err)
		g.sendJSONError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		g.logger.Error("failed to encode rpc response", "op", op, "error", err)
	}
}

// initializeFromBody routes initialize through Initialize so HTTP callers
// share its memoization.
func (g *Gateway) initializeFromBody(ctx context.Context, body []byte) (*backend.InitStatus, error) {
	var req backend.InitializeRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", backend.ErrInvalidRequest, err)
		}
	}
	return g.Initialize(ctx, req.Snapshot)
}

// handleSnapshot streams the current database image as raw bytes.
func (g *Gateway) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := g.ExportSnapshot(r.Context())
	if err != nil {
		g.sendJSONError(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="snapshot.db"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// statusFor maps an engine error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrChannelFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	switch backend.KindOf(err) {
	case backend.KindValidation, backend.KindInvalidRequest, backend.KindInvalidSnapshot:
		return http.StatusBadRequest
	case backend.KindNotFound, backend.KindUnknownOp:
		return http.StatusNotFound
	case backend.KindNotInitialized:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
