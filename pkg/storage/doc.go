/*
Package storage provides BoltDB-backed persistence for the bucket storage
core.

The storage package implements the Store interface using BoltDB as the
underlying database, providing ACID transactions for the five persisted
collections of a sync-rule group. All values are serialized as JSON; range
collections use composite big-endian keys so that a cursor scan yields ops
in op-id order.

# Collections

	┌──────────────────── BOLTDB STORAGE ─────────────────────────┐
	│                                                              │
	│  File: <dataDir>/basin.db                                    │
	│                                                              │
	│  sync_rules         g                        → Group record  │
	│  source_tables      table id (uuid)          → SourceTable   │
	│  bucket_data        g|len|bucket|op_id       → BucketOp      │
	│  bucket_parameters  g|len|lookup|op_id       → ParameterRow  │
	│  current_data       g|len|table|replica_id   → CurrentDataRow│
	│                                                              │
	└──────────────────────────────────────────────────────────────┘

# Atomicity

ApplyFlush writes a whole batch — ops, parameter rows, current-data
mutations and the advanced checkpoint — in one Update transaction. Op ids
are assigned inside that transaction from the group's persisted counter, so
a failed flush leaves the counter untouched and a retried flush reproduces
the same id range. Readers run in View transactions and additionally bound
every scan by a checkpoint op id, which gives them an all-or-nothing view of
each flush.
*/
package storage
