/*
Package checksum provides the memoized bucket-checksum cache.

Clients verify bucket integrity by comparing a server-computed aggregate
(count, 32-bit modular checksum sum, CLEAR presence) against their local
state. Computing that aggregate from op id zero on every request would scan
whole bucket logs, so the cache memoizes the fold per (group, bucket) and
extends it incrementally: a request at a newer checkpoint only scans the
suffix since the cached checkpoint.

The fold is associative — checksum is a wrapping 32-bit sum, count is a sum,
and is_full is a disjunction — so any partition of (0, checkpoint] folds to
the same value as a single scan. That associativity is the correctness
contract of this package and is what the property tests exercise.

Compaction can collapse log prefixes into CLEAR ops, which changes op counts
for past checkpoints; callers invalidate the group's entries after a
compaction pass.
*/
package checksum
