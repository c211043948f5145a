// Package store is the versioned document store. Every operation runs
// against the companion service in the current sandbox session. Reads are
// cached; writes invalidate the affected keys before they return so a caller
// always reads its own writes.
package store
