// Package registry is the liveness registry: the authoritative answer to
// "is this class loader dead".
//
// Each tracked loader has one Record holding its state, its pending-reference
// count, its resource table and the markers of objects already correlated.
// Records move through
//
//	Live -> MarkedStale -> PendingSweep -> Swept
//
// and are removed from the registry once swept. A swept identity is
// tombstoned and never tracked again.
//
// Reads (Lookup, Snapshot) never block: the record index and the tombstone
// set are copy-on-write btrees published through atomic pointers, and record
// state and counters are atomics. Writes to a single record are serialized
// under that record's lock.
package registry
