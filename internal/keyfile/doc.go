// Package keyfile turns a directory of files - one file per configuration
// key - into a hierarchical, queryable configuration snapshot. It is the
// core used to surface orchestrator-mounted secret volumes as config.
//
// The core components are:
//   - [Source]: lists entries and opens their content (local dir, fs.FS,
//     SSM path, S3 prefix - see internal/keysource)
//   - [Build]: scans a Source once and assembles an immutable [Snapshot]
//   - [Store]: holds the published snapshot using atomic.Pointer for
//     lock-free reads
//   - [Reloader]: orchestrates build-then-publish cycles and notifies
//     observers after each successful swap
//
// File names map to keys by replacing the internal separator "__" with
// the hierarchy separator ":". A file named "Logging__Level" containing
// "debug" becomes the key "Logging:Level" with value "debug". Lookups
// are case-insensitive; enumeration preserves the original case.
//
// Snapshots are all-or-nothing: a build either produces a complete new
// snapshot or fails, and readers never observe partial state. Publishing
// is a single atomic pointer swap, so concurrent reloads race safely
// with last-publish-wins semantics.
package keyfile
