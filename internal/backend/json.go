// ABOUTME: JSON helpers shared by the backend and the gateway
// ABOUTME: Decodes with json.Number and normalizes numbers to int64 or float64

package backend

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/2389/coven-dataengine/internal/store"
)

// DecodeJSON decodes data into v keeping numbers as json.Number, so callers
// can normalize integers without float rounding. Empty data leaves v untouched.
func DecodeJSON(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// NormalizeJSON converts json.Number values (recursively through maps and
// slices) to int64 when integral and float64 otherwise.
func NormalizeJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, val := range x {
			x[k] = NormalizeJSON(val)
		}
		return x
	case store.Row:
		for k, val := range x {
			x[k] = NormalizeJSON(val)
		}
		return x
	case []any:
		for i, val := range x {
			x[i] = NormalizeJSON(val)
		}
		return x
	default:
		return v
	}
}

// DecodeParam normalizes a decoded query parameter and turns a
// {"$blob": "<base64>"} value back into []byte.
func DecodeParam(v any) (any, error) {
	v = NormalizeJSON(v)
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return v, nil
	}
	encoded, ok := m[blobKey].(string)
	if !ok {
		return v, nil
	}
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%s value: %w", blobKey, err)
	}
	return b, nil
}

// NormalizeQueryResult normalizes every value of a decoded QueryResult
func NormalizeQueryResult(res *store.QueryResult) {
	for _, row := range res.Rows {
		NormalizeJSON(row)
	}
}

// decodeRequest decodes an op payload into a request struct
func decodeRequest(op Op, payload []byte, v any) error {
	if err := DecodeJSON(payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrInvalidRequest, op, err)
	}
	return nil
}

// decodeEntity decodes an entity record. Nested config maps keep the
// float64 numbers encoding/json produces, matching how the store reads them back.
func decodeEntity(op Op, payload []byte, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return fmt.Errorf("%w: %s payload is empty", ErrInvalidRequest, op)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrInvalidRequest, op, err)
	}
	return nil
}
