/*
Package evaluate defines the boundary to the external sync-rules evaluator.

The storage core never interprets sync rules itself. It hands each ingested
source record to an Evaluator and receives back the routed bucket rows and
parameter lookups the record produces. Evaluation failures come back as
values (EvaluationError) so a single bad row never aborts a replication
batch; ingest logs the error with its source row and moves on.
*/
package evaluate
