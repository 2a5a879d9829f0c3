// ABOUTME: Typed wrappers over Gateway.Call for every engine operation
// ABOUTME: Decode results so callers never handle envelopes or raw JSON

package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/2389/coven-dataengine/internal/backend"
	"github.com/2389/coven-dataengine/internal/store"
	"github.com/2389/coven-dataengine/internal/vector"
)

// callAs runs op and decodes its result into T
func callAs[T any](ctx context.Context, g *Gateway, op backend.Op, payload any) (T, error) {
	var out T
	raw, err := g.Call(ctx, op, payload)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: decoding %s result: %v", backend.ErrInternal, op, err)
	}
	return out, nil
}

// ExecuteQuery runs a statement. Query failures are reported in the result's
// Error field; the returned error covers only transport and lifecycle failures.
// []byte params bind as BLOB. Numbers come back as int64 when integral
// (including REAL values such as 3.0) and float64 otherwise; blobs come back
// as base64 strings.
func (g *Gateway) ExecuteQuery(ctx context.Context, query string, params ...any) (store.QueryResult, error) {
	raw, err := g.Call(ctx, backend.OpExecuteQuery, backend.QueryRequest{Query: query, Params: params})
	if err != nil {
		return store.QueryResult{}, err
	}
	var res store.QueryResult
	if err := backend.DecodeJSON(raw, &res); err != nil {
		return store.QueryResult{}, fmt.Errorf("%w: decoding query result: %v", backend.ErrInternal, err)
	}
	backend.NormalizeQueryResult(&res)
	return res, nil
}

// SchemaSummary describes every user-visible table
func (g *Gateway) SchemaSummary(ctx context.Context) (map[string]store.TableSummary, error) {
	return callAs[map[string]store.TableSummary](ctx, g, backend.OpGetSchemaSummary, nil)
}

// CreateTableFromExternalSource creates a table tagged with source and seeds it
func (g *Gateway) CreateTableFromExternalSource(ctx context.Context, name, columns, source string) error {
	_, err := g.Call(ctx, backend.OpCreateTableFromExternal, backend.CreateTableRequest{
		Name:    name,
		Columns: columns,
		Source:  source,
	})
	return err
}

// FindSimilar returns up to k documents most similar to id. Unknown ids yield no matches.
func (g *Gateway) FindSimilar(ctx context.Context, id string, k int) ([]vector.Match, error) {
	return callAs[[]vector.Match](ctx, g, backend.OpFindSimilar, backend.FindSimilarRequest{ID: id, K: k})
}

// Statistics reports table and row counts
func (g *Gateway) Statistics(ctx context.Context) (*store.Statistics, error) {
	return callAs[*store.Statistics](ctx, g, backend.OpGetStatistics, nil)
}

// ExportSnapshot returns the full database image
func (g *Gateway) ExportSnapshot(ctx context.Context) ([]byte, error) {
	return callAs[[]byte](ctx, g, backend.OpExportSnapshot, nil)
}

// RunIntegrityMaintenance checks, compacts and analyzes the database
func (g *Gateway) RunIntegrityMaintenance(ctx context.Context) (*store.MaintenanceReport, error) {
	return callAs[*store.MaintenanceReport](ctx, g, backend.OpRunIntegrityMaintenance, nil)
}

// VectorStats describes the similarity index
func (g *Gateway) VectorStats(ctx context.Context) (vector.Stats, error) {
	return callAs[vector.Stats](ctx, g, backend.OpGetVectorStats, nil)
}

// RebuildVectorIndex reloads the index from current data
func (g *Gateway) RebuildVectorIndex(ctx context.Context) (vector.Stats, error) {
	return callAs[vector.Stats](ctx, g, backend.OpRebuildVectorIndex, nil)
}

// SetVectorEligible flags a table as a source of index documents
func (g *Gateway) SetVectorEligible(ctx context.Context, table string, eligible bool) error {
	_, err := g.Call(ctx, backend.OpSetVectorEligible, backend.SetVectorEligibleRequest{Table: table, Eligible: eligible})
	return err
}

// UpsertConnector creates or replaces a connector and returns the stored record
func (g *Gateway) UpsertConnector(ctx context.Context, c *store.Connector) (*store.Connector, error) {
	return callAs[*store.Connector](ctx, g, backend.OpUpsertConnector, c)
}

// DeleteConnector removes a connector, reporting whether one existed
func (g *Gateway) DeleteConnector(ctx context.Context, id string) (bool, error) {
	res, err := callAs[backend.DeleteResult](ctx, g, backend.OpDeleteConnector, backend.IDRequest{ID: id})
	return res.Deleted, err
}

// ListConnectors returns every connector
func (g *Gateway) ListConnectors(ctx context.Context) ([]*store.Connector, error) {
	return callAs[[]*store.Connector](ctx, g, backend.OpListConnectors, nil)
}

// UpsertWorkflow creates or replaces a workflow and returns the stored record
func (g *Gateway) UpsertWorkflow(ctx context.Context, w *store.Workflow) (*store.Workflow, error) {
	return callAs[*store.Workflow](ctx, g, backend.OpUpsertWorkflow, w)
}

// DeleteWorkflow removes a workflow, reporting whether one existed
func (g *Gateway) DeleteWorkflow(ctx context.Context, id string) (bool, error) {
	res, err := callAs[backend.DeleteResult](ctx, g, backend.OpDeleteWorkflow, backend.IDRequest{ID: id})
	return res.Deleted, err
}

// ListWorkflows returns every workflow
func (g *Gateway) ListWorkflows(ctx context.Context) ([]*store.Workflow, error) {
	return callAs[[]*store.Workflow](ctx, g, backend.OpListWorkflows, nil)
}

// UpsertDashboard creates or replaces a dashboard and returns the stored record
func (g *Gateway) UpsertDashboard(ctx context.Context, d *store.Dashboard) (*store.Dashboard, error) {
	return callAs[*store.Dashboard](ctx, g, backend.OpUpsertDashboard, d)
}

// DeleteDashboard removes a dashboard, reporting whether one existed
func (g *Gateway) DeleteDashboard(ctx context.Context, id string) (bool, error) {
	res, err := callAs[backend.DeleteResult](ctx, g, backend.OpDeleteDashboard, backend.IDRequest{ID: id})
	return res.Deleted, err
}

// ListDashboards returns every dashboard
func (g *Gateway) ListDashboards(ctx context.Context) ([]*store.Dashboard, error) {
	return callAs[[]*store.Dashboard](ctx, g, backend.OpListDashboards, nil)
}

// UpsertUser creates or replaces a user and returns the stored record
func (g *Gateway) UpsertUser(ctx context.Context, u *store.User) (*store.User, error) {
	return callAs[*store.User](ctx, g, backend.OpUpsertUser, u)
}

// DeleteUser removes a user, reporting whether one existed
func (g *Gateway) DeleteUser(ctx context.Context, id string) (bool, error) {
	res, err := callAs[backend.DeleteResult](ctx, g, backend.OpDeleteUser, backend.IDRequest{ID: id})
	return res.Deleted, err
}

// ListUsers returns every user
func (g *Gateway) ListUsers(ctx context.Context) ([]*store.User, error) {
	return callAs[[]*store.User](ctx, g, backend.OpListUsers, nil)
}
