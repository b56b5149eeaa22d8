// Package metadata stores installation-level key/value pairs of the local
// store: the device identity, the last successful sync time and the declared
// schema version.
//
// SQLiteRepository is a plain key/value table over dbx.DBTX. SyncMetadata
// layers the sync-specific accessors on top: DeviceID is minted at most once
// through a compare-and-set insert, so concurrent first boots converge on the
// same identifier.
package metadata
