// Package store implements the versioned model storage engine.
//
// Every trained model is persisted under a series key with a monotonically
// increasing version. Saves acquire a per-key lock, allocate the next
// version, serialize the model, and commit payload plus metadata through a
// single atomic commit point, so readers never observe a partially written
// artifact and concurrent writers never overwrite each other. Operations
// that resolve "latest" take the same lock, closing the race between
// reading the version set and a concurrent write.
//
// Four interchangeable backends implement the Backend contract:
//
//   - memory: in-process maps, for development and tests.
//   - filesystem: one directory per series, payload + metadata file per
//     version, temp-write-and-rename commits, flock for cross-process
//     exclusion.
//   - object-store: a remote store speaking the Redis protocol, with
//     lease-based per-series locks and MULTI/EXEC commits.
//   - database: a GORM-managed SQL table with a unique (series, version)
//     index.
//
// Backends are selected by configuration through New. Callers should
// depend on the Backend interface rather than concrete types so storage
// can be swapped without touching calling code.
package store
