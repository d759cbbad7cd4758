/*
Package compact rewrites historical bucket ops into smaller equivalent
forms.

Two rewrites run per bucket, oldest data first affected:

  - MOVE: a PUT or REMOVE superseded by a newer op on the same source key is
    replaced in place by a MOVE carrying the original checksum and pointing
    at the superseding op. The data payload is dropped.
  - CLEAR: a contiguous prefix consisting only of MOVE, REMOVE and CLEAR ops
    collapses into a single CLEAR whose checksum is the modular sum of the
    collapsed ops.

A MOVE rewrite preserves the count and modular checksum of every historical
range. A CLEAR collapse preserves the checksum of every range (0, C] with C
at or after the CLEAR's op id; it does not preserve op counts, and ranges
that end inside the collapsed prefix lose the collapsed ops. The pass bounds
its window a configurable distance behind the group tip (read once at pass
start) and bounds each atomic rewrite batch, so compaction never contends
with the ingest hot path for long.

Runner wraps the compactor in a ticker loop covering every active group.
*/
package compact
