// ABOUTME: Store types and errors for the embedded relational engine
// ABOUTME: Defines query results, schema summaries, statistics and auxiliary entity records

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidIdentifier is returned when a table name or its column
// definitions fail validation.
// Nothing has been written to the engine when this is returned.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// ErrInvalidSnapshot is returned when snapshot bytes are not a database image
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Row is a single result row keyed by column name
type Row map[string]any

// QueryResult is the outcome of ExecuteQuery. Engine failures are reported
// in Error rather than as a Go error so callers can render them inline.
type QueryResult struct {
	Columns      []string `json:"columns"`
	Rows         []Row    `json:"rows"`
	Mutating     bool     `json:"mutating,omitempty"`
	RowsAffected int64    `json:"rowsAffected,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// OK reports whether the query succeeded
func (r QueryResult) OK() bool { return r.Error == "" }

// ColumnInfo describes a single table column
type ColumnInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"notNull,omitempty"`
	PrimaryKey bool   `json:"primaryKey,omitempty"`
}

// TableSummary describes a user-visible table
type TableSummary struct {
	Columns        []ColumnInfo `json:"columns"`
	Source         *string      `json:"source"` // provenance tag, nil for tables not created from an external source
	RowCount       int64        `json:"rowCount"`
	VectorEligible bool         `json:"vectorEligible"`
}

// Statistics summarizes the database contents
type Statistics struct {
	TableCount     int              `json:"tableCount"`
	TotalRows      int64            `json:"totalRows"`
	Tables         map[string]int64 `json:"tables"`
	ExternalTables int              `json:"externalTables"`
	PageCount      int64            `json:"pageCount"`
	PageSize       int64            `json:"pageSize"`
	SizeBytes      int64            `json:"sizeBytes"`
}

// MaintenanceReport is the outcome of RunIntegrityMaintenance
type MaintenanceReport struct {
	Integrity  []string `json:"integrity"`
	Healthy    bool     `json:"healthy"`
	SizeBefore int64    `json:"sizeBefore"`
	SizeAfter  int64    `json:"sizeAfter"`
}

// EligibleRow is a row from a vector-eligible table
type EligibleRow struct {
	Table  string
	RowID  int64
	Values map[string]any
	// Columns preserves the table's column order for Values
	Columns []string
}

// Connector status values
const (
	ConnectorStatusActive   = "active"
	ConnectorStatusInactive = "inactive"
	ConnectorStatusError    = "error"
)

// Connector is a configured external data source
type Connector struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Kind      string         `json:"kind"`
	Config    map[string]any `json:"config,omitempty"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Workflow status values
const (
	WorkflowStatusDraft  = "draft"
	WorkflowStatusActive = "active"
	WorkflowStatusPaused = "paused"
)

// Workflow is a stored pipeline definition
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Definition  map[string]any `json:"definition,omitempty"`
	Status      string         `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Dashboard is a named collection of widgets
type Dashboard struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Widgets     []Widget  `json:"widgets"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Widget is a single visualization on a dashboard
type Widget struct {
	ID       string         `json:"id"`
	Kind     string         `json:"kind"` // table, bar, line, metric
	Title    string         `json:"title"`
	Query    string         `json:"query"`
	Position int            `json:"position"`
	Config   map[string]any `json:"config,omitempty"`
}

// User roles
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// User is an application user record
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}
