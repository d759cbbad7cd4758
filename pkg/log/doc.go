/*
Package log provides structured logging for Basin using zerolog.

Init configures the process-wide root logger once; components then derive
child loggers tagged with their identity:

	log.Init(log.Config{Level: "info", JSONOutput: true})
	logger := log.WithComponent("batch")
	logger.Info().Uint32("group_id", 1).Str("lsn", lsn).Msg("Checkpoint advanced")

Every error path in the storage core logs with correlatable fields:
group_id, lsn, and bucket where applicable.
*/
package log
