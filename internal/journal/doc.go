// Package journal records worker events (completions, failures, lock
// reclaims) in a SQLite database for operators.
//
// The journal is write-mostly and purely diagnostic. Scanning, allocation,
// and claiming never read it, so a lost or deleted journal cannot change what
// gets scheduled; the archive directories remain the only source of truth.
package journal
