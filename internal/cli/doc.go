// Package cli wires configuration, the cache, the sandbox manager and the
// document store into the gitbox command tree.
package cli
