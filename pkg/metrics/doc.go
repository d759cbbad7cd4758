/*
Package metrics provides Prometheus instrumentation for the storage core.

Collectors cover the ingest pipeline (ops written, evaluation errors, flush
counts and durations), client reads (data batches, parameter queries), the
checksum cache (hits and misses), and the compactor (ops rewritten, pass
durations). All collectors are registered at package init; Handler exposes
the standard promhttp endpoint.
*/
package metrics
