/*
Package batch implements the transactional ingest pipeline of the storage
core.

A batch is opened by the replicator when it starts applying a run of source
transactions. Row changes buffer in memory keyed by (bucket, source key)
with latest-wins semantics; per source row, the writer diffs the new
evaluation against the stored current-data record and emits exactly the PUT
and REMOVE ops that move the bucket logs from the old state to the new one.

	replicator ──save/truncate/drop──▶ Writer ──flush──▶ storage.ApplyFlush
	                                   │
	                                   └─commit(lsn)──▶ checkpoint advance
	                                                    + checkpoint event

Flushes are atomic: ops, parameter rows, current-data mutations and the
advanced checkpoint land in one storage transaction, with op ids assigned
inside it. A batch that closes without committing abandons its buffered
state and the checkpoint does not move; the replicator retries from the
last committed LSN.

Backpressure: once buffered bytes cross the flush threshold (50 MiB by
default) a save flushes before returning.
*/
package batch
