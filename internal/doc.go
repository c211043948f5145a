// Package internal contains shared types and utilities for gitbox.
//
// It provides configuration loading, the execution session value, the error
// taxonomy shared by the client and the companion service, cleanup
// orchestration, and I/O abstractions used by the command layer.
package internal
