// Package git runs git against the document repository that lives on the
// sandbox's storage volume.
//
// The Runner type wraps the git binary and turns non-zero exits into
// internal.ToolError values. The Repository type maps document names onto
// safe paths and implements the history operations the companion service
// exposes: listing, reading, committing, showing, diffing and restoring.
package git
