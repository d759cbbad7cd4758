/*
Package group provides the per-group handle that ties the storage core
together.

A Handle composes the persistent store with the group-scoped shared state
(checksum cache, event notifier) and exposes the two external contracts:

	ingress (replicator)            egress (sync API)
	────────────────────            ─────────────────
	OpenBatch → batch.Writer        GetCheckpoint
	                                GetBucketDataBatch (lazy iterator)
	                                GetParameterSets
	                                GetChecksums

Exactly one batch is open per group at a time, enforced with an advisory
lock held from OpenBatch until the writer closes. Readers are concurrent
and never block the writer: every read runs in its own storage snapshot and
is additionally bounded by the checkpoint op id it was given.

Admin transitions (AutoActivate, Terminate, Clear, ReportError) also live
here; Clear retries transient storage failures with exponential backoff and
makes durable progress per chunk.
*/
package group
