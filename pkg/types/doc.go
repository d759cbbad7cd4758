/*
Package types defines the shared domain model of the bucket storage core.

The central concepts:

  - GroupID scopes everything: ops, tables, parameters and checkpoints all
    belong to exactly one sync-rule group.
  - OpID is a strictly increasing operation id within a group, assigned from
    the group's persisted counter when a batch flushes.
  - BucketOp is one entry of a bucket's append-only log: PUT and REMOVE carry
    row identity and data; MOVE and CLEAR are compaction artifacts that keep
    checksums intact while shedding data.
  - Value / Row model the dynamically typed row primitives that flow from the
    evaluator into bucket data (null, int, real, text, blob).

Wire types (OplogEntry, SyncBucketData, BucketChecksum, CheckpointInfo)
render op ids as decimal strings and checksums as signed 32-bit integers.
*/
package types
