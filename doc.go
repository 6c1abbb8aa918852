// Package skydb implements the core table engine of a spatially and
// temporally partitioned, append-oriented scientific dataset store.
//
// # Overview
//
// A [Table] distributes its rows across cells of a pixelization
// (see the Pixelization interface and the reference implementation in
// internal/pixel), refined optionally by a temporal axis. Each cell holds
// one tablet per column group (cgroup); rows may carry references to
// variable-length BLOBs stored alongside their tablet. [Table.Append] is
// the single write entry point: it resolves aliases, assigns rows to
// cells, locks each destination cell in turn, and upserts rows and blobs.
// [Table.Fetch] and [Table.FetchBlobs] are the read entry points.
//
// # Concurrency
//
// The engine is synchronous and blocking per call; multi-writer
// concurrency is achieved across OS processes sharing one filesystem, not
// via an in-process scheduler. A write holds a per-cell filesystem
// lockfile (internal/lockmgr) for the duration of that cell's write; reads
// take no lock and tolerate best-effort snapshot consistency.
//
// # Schema
//
// Table metadata — column groups, file groups, filters, aliases — is
// persisted to schema.cfg as 4-space-indented JSON with alphabetically
// ordered top-level keys (internal/schema). Schema mutations write the
// file immediately.
//
// # Errors
//
// Every exported operation returns *[Error], carrying a [Kind] (schema
// violation, key contract, lock contention, I/O, not-found) plus an
// optional wrapped cause, so callers can branch with errors.As/errors.Is.
package skydb
