// Package keylock provides per-key mutual exclusion with bounded-timeout
// acquisition.
//
// Lock entries are created lazily in a map guarded by a single mutex that
// is held only during entry creation and cleanup, never while a lock is
// held. Entries are reference counted and removed once the last holder and
// waiter are gone, so the map does not grow with the number of distinct
// keys ever seen.
//
// This package is internal and should not be imported by external projects.
package keylock
