// ABOUTME: Request payloads and result types for engine operations
// ABOUTME: These are the JSON shapes carried inside request and response envelopes

package backend

import (
	"encoding/base64"
	"encoding/json"
)

// InitializeRequest optionally carries a database image to start from
type InitializeRequest struct {
	Snapshot []byte `json:"snapshot,omitempty"`
}

// Origins of the database state after initialize
const (
	OriginSnapshot = "snapshot" // bytes supplied by the caller
	OriginDurable  = "durable"  // latest snapshot from the durable store
	OriginFresh    = "fresh"    // new database with demo content
)

// InitStatus reports the outcome of initialize
type InitStatus struct {
	Initialized bool   `json:"initialized"`
	Origin      string `json:"origin"`
	Durable     bool   `json:"durable"`
	Documents   int    `json:"documents"`
}

// QueryRequest is the payload of execute-query
type QueryRequest struct {
	Query  string `json:"query"`
	Params []any  `json:"params,omitempty"`
}

// blobKey tags a base64 query parameter that binds as a BLOB
const blobKey = "$blob"

// MarshalJSON encodes []byte params as {"$blob": "<base64>"} so they bind as
// BLOB on the other side instead of base64 TEXT.
func (r QueryRequest) MarshalJSON() ([]byte, error) {
	type plain QueryRequest
	out := plain{Query: r.Query}
	if len(r.Params) > 0 {
		out.Params = make([]any, len(r.Params))
		for i, p := range r.Params {
			if b, ok := p.([]byte); ok {
				p = nil
				if b != nil {
					p = map[string]string{blobKey: base64.StdEncoding.EncodeToString(b)}
				}
			}
			out.Params[i] = p
		}
	}
	return json.Marshal(out)
}

// CreateTableRequest is the payload of create-table-from-external-source
type CreateTableRequest struct {
	Name    string `json:"name"`
	Columns string `json:"columns"`
	Source  string `json:"source"`
}

// CreateTableResult confirms a created table
type CreateTableResult struct {
	Table  string `json:"table"`
	Source string `json:"source"`
}

// FindSimilarRequest is the payload of find-similar
type FindSimilarRequest struct {
	ID string `json:"id"`
	K  int    `json:"k"`
}

// SetVectorEligibleRequest is the payload of set-vector-eligible
type SetVectorEligibleRequest struct {
	Table    string `json:"table"`
	Eligible bool   `json:"eligible"`
}

// IDRequest identifies an entity for delete operations
type IDRequest struct {
	ID string `json:"id"`
}

// DeleteResult reports whether a delete removed anything
type DeleteResult struct {
	Deleted bool `json:"deleted"`
}

// OKResult acknowledges an operation with no other output
type OKResult struct {
	OK bool `json:"ok"`
}
