// Package config loads runtime configuration for the ledgersync console.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   address:port of the replica gRPC endpoint
//	-i int      online status check interval (seconds)
//	-d string   path of the local SQLite database
//	-k string   device API key
//	-s int      background sync interval (seconds)
//	-log string log file (rotated)
//
// # JSON schema
//
// Durations use timex.Duration, so values can be strings like "3s" or
// integer nanoseconds. Keys that are absent keep their previous value:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "online_check_interval": "3s",
//	  "db_path": "ledgersync.db",
//	  "api_key": "secret",
//	  "sync_interval": "5s",
//	  "s3_bucket": "ledger-backups"
//	}
package config
