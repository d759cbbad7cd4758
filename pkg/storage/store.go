package storage

import (
	"github.com/cuemby/basin/pkg/types"
)

// OpWrite is one buffered bucket op awaiting an op id. Ids are assigned from
// the group counter inside the flush transaction, in slice order.
type OpWrite struct {
	Bucket    string
	Kind      types.OpKind
	SourceKey []byte
	Subkey    string
	Table     string
	RowID     string
	Data      string
	Checksum  uint32
	TargetOp  types.OpID
}

// ParameterWrite is one buffered parameter-index entry. Empty Rows is a
// tombstone.
type ParameterWrite struct {
	Lookup    []byte
	SourceKey []byte
	Rows      []types.Row
}

// CurrentWrite upserts the current-data record for one source row.
type CurrentWrite struct {
	Key types.SourceKey
	Row types.CurrentDataRow
}

// Flush is the complete buffered output of a batch. It is applied in a
// single transaction: either every op becomes visible together with the
// advanced checkpoint, or nothing changes.
type Flush struct {
	Ops            []OpWrite
	Parameters     []ParameterWrite
	CurrentPuts    []CurrentWrite
	CurrentDeletes []types.SourceKey
	DropTableIDs   []string

	// CommitLSN advances last_checkpoint_lsn when non-empty; an empty value
	// keeps the group's current LSN (interim flush under backpressure).
	CommitLSN string
}

// ChecksumAggregate is the fold of one op-id range of a bucket: op count,
// modular checksum sum, and whether the range contains a CLEAR.
type ChecksumAggregate struct {
	Count    int64
	Checksum uint32
	HasClear bool
}

// ResolveArgs describes an upstream relation to resolve to a stable
// internal identity.
type ResolveArgs struct {
	GroupID        types.GroupID
	ConnectionID   string
	ConnectionTag  string
	RelationID     uint32
	Schema         string
	Name           string
	ReplicaColumns []types.ReplicaColumn
}

// Store is the persistence boundary of the bucket storage core. The
// canonical implementation is BoltStore.
type Store interface {
	// Groups
	GetGroup(id types.GroupID) (*types.Group, error)
	PutGroup(g *types.Group) error
	UpdateGroup(id types.GroupID, fn func(*types.Group) error) (*types.Group, error)
	ListGroups() ([]*types.Group, error)

	// Source-table registry
	ResolveTable(args ResolveArgs) (*types.SourceTable, []*types.SourceTable, error)
	GetTable(id string) (*types.SourceTable, error)
	MarkSnapshotDone(ids []string) error
	DeleteTables(ids []string) error

	// Ingest
	ApplyFlush(id types.GroupID, f *Flush) (types.OpID, error)
	GetCurrentData(id types.GroupID, key types.SourceKey) (*types.CurrentDataRow, error)
	ForEachCurrentData(id types.GroupID, tableID string, fn func(types.SourceKey, types.CurrentDataRow) error) error

	// Reads
	ReadBucketOps(id types.GroupID, bucket string, after, until types.OpID, limit int) ([]types.BucketOp, error)
	AggregateChecksum(id types.GroupID, bucket string, after, until types.OpID) (ChecksumAggregate, error)
	LatestParameterRow(id types.GroupID, lookup []byte, until types.OpID) (*types.ParameterRow, error)
	ListBuckets(id types.GroupID) ([]string, error)

	// Compaction
	ForEachBucketOpReverse(id types.GroupID, bucket string, from types.OpID, fn func(types.BucketOp) (bool, error)) error
	RewriteOps(id types.GroupID, ops []types.BucketOp) error
	ApplyClear(id types.GroupID, bucket string, upTo types.OpID, checksum uint32) error

	// Administration
	ClearGroupChunk(id types.GroupID, limit int) (int, error)

	// Utility
	Close() error
}
