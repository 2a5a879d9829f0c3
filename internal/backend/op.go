// ABOUTME: Closed set of engine operations exchanged across the isolation boundary
// ABOUTME: Each Op knows whether it always mutates the database

package backend

import "fmt"

// Op names an engine operation
type Op string

const (
	OpInitialize              Op = "initialize"
	OpExecuteQuery            Op = "execute-query"
	OpGetSchemaSummary        Op = "get-schema-summary"
	OpCreateTableFromExternal Op = "create-table-from-external-source"
	OpFindSimilar             Op = "find-similar"
	OpGetStatistics           Op = "get-statistics"
	OpExportSnapshot          Op = "export-snapshot"
	OpRunIntegrityMaintenance Op = "run-integrity-maintenance"
	OpGetVectorStats          Op = "get-vector-stats"
	OpRebuildVectorIndex      Op = "rebuild-vector-index"
	OpSetVectorEligible       Op = "set-vector-eligible"

	OpUpsertConnector Op = "upsert-connector"
	OpDeleteConnector Op = "delete-connector"
	OpListConnectors  Op = "list-connectors"
	OpUpsertWorkflow  Op = "upsert-workflow"
	OpDeleteWorkflow  Op = "delete-workflow"
	OpListWorkflows   Op = "list-workflows"
	OpUpsertDashboard Op = "upsert-dashboard"
	OpDeleteDashboard Op = "delete-dashboard"
	OpListDashboards  Op = "list-dashboards"
	OpUpsertUser      Op = "upsert-user"
	OpDeleteUser      Op = "delete-user"
	OpListUsers       Op = "list-users"
)

// Ops lists every operation in a stable order
var Ops = []Op{
	OpInitialize,
	OpExecuteQuery,
	OpGetSchemaSummary,
	OpCreateTableFromExternal,
	OpFindSimilar,
	OpGetStatistics,
	OpExportSnapshot,
	OpRunIntegrityMaintenance,
	OpGetVectorStats,
	OpRebuildVectorIndex,
	OpSetVectorEligible,
	OpUpsertConnector,
	OpDeleteConnector,
	OpListConnectors,
	OpUpsertWorkflow,
	OpDeleteWorkflow,
	OpListWorkflows,
	OpUpsertDashboard,
	OpDeleteDashboard,
	OpListDashboards,
	OpUpsertUser,
	OpDeleteUser,
	OpListUsers,
}

// alwaysMutating ops change the database every time they succeed.
// execute-query and initialize mutate depending on their input.
var alwaysMutating = map[Op]bool{
	OpCreateTableFromExternal: true,
	OpRunIntegrityMaintenance: true,
	OpSetVectorEligible:       true,
	OpUpsertConnector:         true,
	OpDeleteConnector:         true,
	OpUpsertWorkflow:          true,
	OpDeleteWorkflow:          true,
	OpUpsertDashboard:         true,
	OpDeleteDashboard:         true,
	OpUpsertUser:              true,
	OpDeleteUser:              true,
}

var validOps = func() map[Op]bool {
	m := make(map[Op]bool, len(Ops))
	for _, op := range Ops {
		m[op] = true
	}
	return m
}()

func (o Op) String() string { return string(o) }

// Valid reports whether o is a known operation
func (o Op) Valid() bool { return validOps[o] }

// Mutating reports whether o always changes the database
func (o Op) Mutating() bool { return alwaysMutating[o] }

// ParseOp converts a name into an Op
func ParseOp(name string) (Op, error) {
	op := Op(name)
	if !op.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownOp, name)
	}
	return op, nil
}

// UnmarshalText rejects unknown operation names
func (o *Op) UnmarshalText(text []byte) error {
	op, err := ParseOp(string(text))
	if err != nil {
		return err
	}
	*o = op
	return nil
}
