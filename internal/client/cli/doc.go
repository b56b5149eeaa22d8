// Package cli provides the interactive ledgersync operator console.
//
// It wires configuration, the local engine and the replica client, starts
// background sync plus a connectivity watcher and then runs a REPL over the
// CRUD surface:
//
//   - add-client, add-receipt, add-expense
//   - list, show, find-client, rename-client, delete
//   - status, sync, resync [force]
//   - export, import (local files), backup, restore (S3 bucket)
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
