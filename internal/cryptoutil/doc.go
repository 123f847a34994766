// Package cryptoutil provides small hashing helpers shared by the
// snapshot builder and the change watcher.
//
// It supports:
//   - Constant-time hash comparison to prevent timing side-channels
//   - SHA-256 hashing utilities
package cryptoutil
