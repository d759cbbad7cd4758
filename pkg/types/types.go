package types

import (
	"encoding/json"
	"errors"
	"strconv"
)

// GroupID identifies a sync-rule group. All persisted data is scoped to
// exactly one group.
type GroupID uint32

// OpID is a strictly increasing 64-bit operation identifier within a group.
// Ids are assigned at flush time from the group's persisted counter and are
// not necessarily dense.
type OpID uint64

// String renders the op id as a decimal string, which is the wire format.
func (o OpID) String() string {
	return strconv.FormatUint(uint64(o), 10)
}

// ParseOpID parses a decimal wire-format op id.
func ParseOpID(s string) (OpID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return OpID(v), nil
}

// OpKind is the kind of a bucket operation.
type OpKind string

const (
	OpPut    OpKind = "PUT"
	OpRemove OpKind = "REMOVE"
	OpMove   OpKind = "MOVE"
	OpClear  OpKind = "CLEAR"
)

// BucketOp is one entry in a bucket's append-only operation log.
// It is persisted keyed by (group, bucket, op id); the fields here are the
// stored value.
type BucketOp struct {
	OpID      OpID   `json:"op_id"`
	Bucket    string `json:"bucket"`
	Kind      OpKind `json:"op"`
	SourceKey []byte `json:"source_key,omitempty"`
	Subkey    string `json:"subkey,omitempty"`
	Table     string `json:"object_type,omitempty"`
	RowID     string `json:"object_id,omitempty"`
	Data      string `json:"data,omitempty"`
	Checksum  uint32 `json:"checksum"`
	TargetOp  OpID   `json:"target_op,omitempty"`
}

// GroupStatus is the lifecycle state of a sync-rule group.
type GroupStatus string

const (
	GroupProcessing GroupStatus = "processing"
	GroupActive     GroupStatus = "active"
	GroupStopped    GroupStatus = "stop"
	GroupTerminated GroupStatus = "terminated"
)

// Group is the persisted per-group checkpoint record. LastCheckpoint doubles
// as the op-id counter: new ops are assigned ids above it, and it is advanced
// to the largest id emitted, atomically with the ops themselves.
type Group struct {
	ID                    GroupID     `json:"id"`
	Status                GroupStatus `json:"status"`
	LastCheckpoint        OpID        `json:"last_checkpoint"`
	LastCheckpointLSN     string      `json:"last_checkpoint_lsn,omitempty"`
	NoCheckpointBeforeLSN string      `json:"no_checkpoint_before_lsn,omitempty"`
	SnapshotDone          bool        `json:"snapshot_done"`
	LastFatalError        string      `json:"last_fatal_error,omitempty"`
}

// CheckpointVisible reports whether readers may observe the group's
// checkpoint. Until the replication stream has passed
// NoCheckpointBeforeLSN, the group exposes no data at all.
func (g *Group) CheckpointVisible() bool {
	if g.LastCheckpointLSN == "" {
		return false
	}
	return g.LastCheckpointLSN >= g.NoCheckpointBeforeLSN
}

// ReplicaColumn describes one column of a source table's replica identity.
type ReplicaColumn struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	TypeOID uint32 `json:"type_oid,omitempty"`
}

// SourceTable is a stable internal identity for an upstream relation.
// A new identity (with a fresh ID) is created whenever the replica-identity
// columns change; superseded identities are reported as drop tables.
type SourceTable struct {
	ID             string          `json:"id"`
	GroupID        GroupID         `json:"group_id"`
	ConnectionID   string          `json:"connection_id"`
	ConnectionTag  string          `json:"connection_tag,omitempty"`
	RelationID     uint32          `json:"relation_id"`
	Schema         string          `json:"schema"`
	Name           string          `json:"name"`
	ReplicaColumns []ReplicaColumn `json:"replica_columns"`

	// SnapshotDone is a pointer so that records written before the field
	// existed decode as nil and are treated as completed snapshots.
	SnapshotDone *bool `json:"snapshot_done,omitempty"`

	// Annotations from the sync-rule evaluator; not part of the identity.
	SyncData       bool `json:"sync_data,omitempty"`
	SyncParameters bool `json:"sync_parameters,omitempty"`
	TriggersEvent  bool `json:"triggers_event,omitempty"`
}

// SnapshotComplete reports whether the initial snapshot of this table has
// finished. Legacy records without the field count as complete.
func (t *SourceTable) SnapshotComplete() bool {
	if t.SnapshotDone == nil {
		return true
	}
	return *t.SnapshotDone
}

// QualifiedName returns schema.name for logging.
func (t *SourceTable) QualifiedName() string {
	return t.Schema + "." + t.Name
}

// SourceKey identifies a logical row in the source database: the internal
// table id plus the canonical encoding of the replica-identity values.
type SourceKey struct {
	TableID   string
	ReplicaID []byte
}

// CurrentBucket is the per-bucket portion of a CurrentDataRow: where the
// row's latest evaluation landed and a fingerprint of the emitted data,
// used to suppress no-op updates.
type CurrentBucket struct {
	Table string `json:"table"`
	RowID string `json:"row_id"`
	Hash  uint32 `json:"hash"`
}

// CurrentDataRow records the most recent evaluation outputs for one source
// row, so updates and deletes can emit superseding or inverse ops. There is
// at most one per SourceKey.
type CurrentDataRow struct {
	Data    string                   `json:"data,omitempty"`
	Buckets map[string]CurrentBucket `json:"buckets,omitempty"`
	Lookups [][]byte                 `json:"lookups,omitempty"`
}

// ParameterRow is one entry of the (group, lookup) parameter index. An entry
// with no rows is a tombstone: the source row no longer produces parameters
// for that lookup.
type ParameterRow struct {
	SourceKey []byte `json:"source_key"`
	Rows      []Row  `json:"rows,omitempty"`
}

// IsTombstone reports whether this entry revokes earlier parameter rows.
func (p *ParameterRow) IsTombstone() bool {
	return len(p.Rows) == 0
}

// CheckpointInfo is the egress checkpoint descriptor. LSN is nil while no
// checkpoint is visible.
type CheckpointInfo struct {
	Checkpoint string  `json:"checkpoint"`
	LSN        *string `json:"lsn"`
}

// OplogEntry is the wire form of a BucketOp. The checksum is reinterpreted
// as a signed 32-bit integer for wire compatibility.
type OplogEntry struct {
	OpID     string `json:"op_id"`
	Op       OpKind `json:"op"`
	Table    string `json:"object_type,omitempty"`
	RowID    string `json:"object_id,omitempty"`
	Subkey   string `json:"subkey,omitempty"`
	Data     string `json:"data,omitempty"`
	Checksum int32  `json:"checksum"`
}

// WireEntry converts a persisted op to its wire form.
func WireEntry(op BucketOp) OplogEntry {
	return OplogEntry{
		OpID:     op.OpID.String(),
		Op:       op.Kind,
		Table:    op.Table,
		RowID:    op.RowID,
		Subkey:   op.Subkey,
		Data:     op.Data,
		Checksum: int32(op.Checksum),
	}
}

// SyncBucketData is one output batch of a bucket-data read: a contiguous run
// of ops for a single bucket.
type SyncBucketData struct {
	Bucket    string       `json:"bucket"`
	After     string       `json:"after"`
	NextAfter string       `json:"next_after"`
	HasMore   bool         `json:"has_more"`
	TargetOp  string       `json:"target_op,omitempty"`
	Data      []OplogEntry `json:"data"`
}

// BucketChecksum is the aggregate checksum of a bucket at a checkpoint.
// IsFull means the range contains a CLEAR, so the value describes the
// bucket's entire effective content rather than a diff suffix.
type BucketChecksum struct {
	Bucket   string `json:"bucket"`
	Count    int64  `json:"count"`
	Checksum uint32 `json:"checksum"`
	IsFull   bool   `json:"is_full"`
}

// WireChecksum returns the checksum as the signed 32-bit wire value.
func (c BucketChecksum) WireChecksum() int32 {
	return int32(c.Checksum)
}

// MarshalJSON renders the checksum as the signed 32-bit wire value.
func (c BucketChecksum) MarshalJSON() ([]byte, error) {
	type wire struct {
		Bucket   string `json:"bucket"`
		Count    int64  `json:"count"`
		Checksum int32  `json:"checksum"`
		IsFull   bool   `json:"is_full"`
	}
	return json.Marshal(wire{Bucket: c.Bucket, Count: c.Count, Checksum: c.WireChecksum(), IsFull: c.IsFull})
}

// Sentinel errors shared across the storage core.
var (
	// ErrNotFound is returned when reading a group or record that does not
	// exist or has been terminated.
	ErrNotFound = errors.New("not found")

	// ErrBatchOpen is returned when opening a batch for a group that
	// already has an open batch.
	ErrBatchOpen = errors.New("batch already open for group")

	// ErrBatchClosed is returned on operations against a closed batch.
	ErrBatchClosed = errors.New("batch is closed")

	// ErrTerminated is returned on writes against a terminated group.
	ErrTerminated = errors.New("group is terminated")

	// ErrIntegrity marks a broken runtime invariant; the writer aborts and
	// the group is stopped.
	ErrIntegrity = errors.New("integrity violation")
)
