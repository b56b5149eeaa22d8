// Package store implements the local durable record store of the sync engine.
//
// # Overview
//
// Records live in named collections declared by a Schema. Each collection may
// declare secondary indexes (point and range lookups); unique indexes are
// enforced on every write, including writes that originate from the remote
// side. Parent→child cascade rules are declared in the Schema and evaluated
// inside the deleting transaction.
//
// # Outbox pairing
//
// Every successful Put or Delete appends exactly one outbox entry in the same
// SQLite transaction as the data change; a cascade appends one entry per
// removed row. The only writes that bypass the outbox are ReplaceCollection
// and ApplyRemote, used by resync, live apply and snapshot import.
//
// # Lifecycle
//
// A Store starts NotReady. Init runs the embedded goose migrations and then
// reconciles the declared schema version (index backfill, dropped
// collections). Until Init succeeds every operation fails with
// common.ErrNotReady; a failed Init leaves the store Failed with
// common.ErrSchemaMigration.
//
// # Concurrency
//
// Transact serializes writers per collection: it locks the requested
// collections plus their cascade closure in name order. The SQLite pool is
// limited to one connection, so the database itself also sees a single writer.
package store
