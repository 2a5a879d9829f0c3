// ABOUTME: Routes a named operation with a JSON payload to the typed backend methods
// ABOUTME: Shared by the isolated worker and the in-process fallback so both behave identically

package backend

import (
	"context"
	"fmt"

	"github.com/2389/coven-dataengine/internal/store"
)

// Dispatch decodes payload for op and runs it. A panic inside the operation
// is recovered and reported as ErrInternal.
func (b *Backend) Dispatch(ctx context.Context, op Op, payload []byte) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("operation panicked", "op", op, "panic", r)
			result = nil
			err = fmt.Errorf("%w: %s: %v", ErrInternal, op, r)
		}
	}()

	switch op {
	case OpInitialize:
		var req InitializeRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return b.Initialize(ctx, req.Snapshot)

	case OpExecuteQuery:
		var req QueryRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		for i, p := range req.Params {
			v, err := DecodeParam(p)
			if err != nil {
				return nil, fmt.Errorf("%w: %s param %d: %v", ErrInvalidRequest, op, i+1, err)
			}
			req.Params[i] = v
		}
		return b.ExecuteQuery(ctx, req.Query, req.Params)

	case OpGetSchemaSummary:
		return b.SchemaSummary(ctx)

	case OpCreateTableFromExternal:
		var req CreateTableRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return b.CreateTableFromExternalSource(ctx, req.Name, req.Columns, req.Source)

	case OpFindSimilar:
		var req FindSimilarRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return b.FindSimilar(ctx, req.ID, req.K)

	case OpGetStatistics:
		return b.Statistics(ctx)

	case OpExportSnapshot:
		return b.ExportSnapshot(ctx)

	case OpRunIntegrityMaintenance:
		return b.RunIntegrityMaintenance(ctx)

	case OpGetVectorStats:
		return b.VectorStats(ctx)

	case OpRebuildVectorIndex:
		return b.RebuildVectorIndex(ctx)

	case OpSetVectorEligible:
		var req SetVectorEligibleRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		if err := b.SetVectorEligible(ctx, req.Table, req.Eligible); err != nil {
			return nil, err
		}
		return OKResult{OK: true}, nil

	case OpUpsertConnector:
		var c store.Connector
		if err := decodeEntity(op, payload, &c); err != nil {
			return nil, err
		}
		return b.UpsertConnector(ctx, &c)

	case OpDeleteConnector:
		var req IDRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return b.DeleteConnector(ctx, req.ID)

	case OpListConnectors:
		return b.ListConnectors(ctx)

	case OpUpsertWorkflow:
		var w store.Workflow
		if err := decodeEntity(op, payload, &w); err != nil {
			return nil, err
		}
		return b.UpsertWorkflow(ctx, &w)

	case OpDeleteWorkflow:
		var req IDRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return b.DeleteWorkflow(ctx, req.ID)

	case OpListWorkflows:
		return b.ListWorkflows(ctx)

	case OpUpsertDashboard:
		var d store.Dashboard
		if err := decodeEntity(op, payload, &d); err != nil {
			return nil, err
		}
		return b.UpsertDashboard(ctx, &d)

	case OpDeleteDashboard:
		var req IDRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return b.DeleteDashboard(ctx, req.ID)

	case OpListDashboards:
		return b.ListDashboards(ctx)

	case OpUpsertUser:
		var u store.User
		if err := decodeEntity(op, payload, &u); err != nil {
			return nil, err
		}
		return b.UpsertUser(ctx, &u)

	case OpDeleteUser:
		var req IDRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return b.DeleteUser(ctx, req.ID)

	case OpListUsers:
		return b.ListUsers(ctx)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOp, string(op))
	}
}
