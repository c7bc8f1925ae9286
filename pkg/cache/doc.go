// Package cache keeps API responses on local disk for a fixed time-to-live.
// The default FileBackend writes one file per key into a directory guarded
// by an access-control marker; BoltBackend keeps all entries in a single
// bbolt database instead. Both share the TTL and JSON serialisation logic of
// Cache.
package cache
