// Package outbox persists mutations that have been committed locally but not
// yet confirmed by the remote authority.
//
// # Ordering
//
// Entries are keyed by a monotonically increasing sequence number assigned at
// enqueue time. Reading in ascending sequence order yields submission order,
// so every change to a given record is seen after the ones it depends on.
//
// # Lifecycle
//
// An entry is written by the local store in the same transaction as the data
// change it describes, held until the remote confirms it, then removed with
// Ack. A failed delivery only bumps Attempts and LastError; entries are never
// dropped implicitly.
//
// The Repository works over dbx.DBTX so the store can enqueue inside its own
// transaction while the reconciler peeks and acks through *sql.DB.
package outbox
