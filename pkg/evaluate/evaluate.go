package evaluate

import (
	"github.com/cuemby/basin/pkg/types"
)

// EvaluatedRow is one routed output of evaluating a source row: the bucket
// it lands in, the client-facing table and row id, and the emitted data.
type EvaluatedRow struct {
	Bucket string
	Table  string
	RowID  string
	Data   types.Row
}

// EvaluatedParameters is one parameter output of evaluating a source row:
// the encoded lookup key it is indexed under and the flat parameter rows it
// contributes.
type EvaluatedParameters struct {
	Lookup []byte
	Rows   []types.Row
}

// EvaluationError reports a single source row that failed sync-rule
// evaluation. Errors are values: ingest logs and counts them and continues
// with the remaining outputs.
type EvaluationError struct {
	Message string
}

func (e *EvaluationError) Error() string {
	return e.Message
}

// RowResult is one entry of an evaluateRow result: either a routed row or an
// evaluation error.
type RowResult struct {
	Row *EvaluatedRow
	Err *EvaluationError
}

// ParameterResult is one entry of an evaluateParameterRow result.
type ParameterResult struct {
	Parameters *EvaluatedParameters
	Err        *EvaluationError
}

// Evaluator is the boundary to the external sync-rules evaluator. Both
// methods are pure and deterministic for a given sync-rule parse; the core
// calls them once per ingested source row.
type Evaluator interface {
	// EvaluateRow maps a source record to the set of bucket rows it
	// produces. An empty result means the row syncs to no bucket.
	EvaluateRow(table *types.SourceTable, record types.Row) []RowResult

	// EvaluateParameterRow maps a source record to the parameter lookups it
	// produces.
	EvaluateParameterRow(table *types.SourceTable, record types.Row) []ParameterResult

	// SourceTableInterest reports how the sync rules use a resolved table:
	// whether it syncs data, syncs parameters, and triggers events. The
	// registry annotates new tables with this.
	SourceTableInterest(table *types.SourceTable) (syncData, syncParameters, triggersEvent bool)
}
