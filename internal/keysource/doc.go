// Package keysource provides keyfile.Source implementations.
//
//   - [Dir]: a local directory, the common case for orchestrator-mounted
//     secret volumes
//   - [FS]: any fs.FS, used for in-memory test doubles and embedded trees
//   - [SSM]: an AWS SSM Parameter Store path, one parameter per key
//   - [S3]: an AWS S3 prefix, one object per key
//   - [KMSDecrypt]: a wrapper that decrypts another source's entry
//     content through AWS KMS, for volumes holding encrypted blobs
//
// Sources that poll for changes also implement keywatch.Fingerprinter,
// returning a cheap digest of their listing so the watcher can skip
// rebuilds when nothing changed.
package keysource
