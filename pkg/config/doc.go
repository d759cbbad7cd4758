/*
Package config loads the YAML service configuration.

Byte thresholds accept human-readable sizes ("50MB") and intervals accept
Go duration strings ("5m"). Absent fields fall back to built-in defaults,
so a minimal config file only names data_dir.
*/
package config
