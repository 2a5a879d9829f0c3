// Package store provides the embedded relational engine using SQLite.
//
// # Architecture
//
// SQLiteStore owns a single working database file opened through
// modernc.org/sqlite with exactly one connection. Every operation runs on
// that connection, so rows are always fully collected before the next
// statement is issued.
//
// The database can be started empty or from snapshot bytes produced by
// Export. Export uses VACUUM INTO, so the image is a complete, consistent
// database file that NewSQLiteStore accepts back unchanged.
//
// # Bookkeeping tables
//
// Tables whose names start with an underscore are hidden from SchemaSummary
// and Statistics:
//
//   - _table_provenance: source tag of tables created from an external source
//   - _table_metadata: vector eligibility flag and description per table
//
// # Query execution
//
// ExecuteQuery classifies a statement by its leading keyword. Statements
// starting with INSERT, UPDATE, DELETE, CREATE, DROP, ALTER, VACUUM or
// REPLACE are mutating and return no rows. Engine failures are carried in
// QueryResult.Error, never as a Go error.
//
// # Auxiliary entities
//
// Connectors, workflows, dashboards (with widgets) and users are stored in
// ordinary tables and exposed through keyed Upsert, Delete and List methods.
//
// # Error Handling
//
//   - ErrNotFound: requested entity or table does not exist
//   - ErrInvalidIdentifier: table name or column definitions failed validation, nothing was written
//   - ErrInvalidSnapshot: snapshot bytes are not a database image
//
// All methods accept context.Context for cancellation support.
package store
