package companion

import (
	"encoding/json"

	"github.com/ryanmoran/gitbox/internal"
)

// Route paths served by the companion.
const (
	RouteHello        = "/"
	RouteFiles        = "/files"
	RouteCommits      = "/commits"
	RouteFileContent  = "/file_content"
	RouteFileAtCommit = "/file_at_commit"
	RouteDiff         = "/diff"
	RouteRestoreFile  = "/restore_file"
	RouteCreateFile   = "/create_file"
	RouteUpdateFile   = "/update_file"
	RouteStatus       = "/status"
	RouteHealth       = "/healthz"
	RouteMetrics      = "/metrics"
)

// Envelope is the body of every companion response. Result holds the
// route-specific payload. RawOutput and RawError carry git's output when a
// git invocation failed.
type Envelope struct {
	Result    json.RawMessage `json:"result,omitempty"`
	RawOutput string          `json:"rawOutput"`
	RawError  string          `json:"rawError"`
	Error     string          `json:"error,omitempty"`
}

// Decode unmarshals Result into out. A nil out or an empty result is a no-op.
func (e Envelope) Decode(out any) error {
	if out == nil || len(e.Result) == 0 {
		return nil
	}
	return json.Unmarshal(e.Result, out)
}

// FileRequest is the body accepted by the POST routes.
type FileRequest struct {
	FileName string `json:"fileName,omitempty"`
	Commit   string `json:"commit,omitempty"`
	Parent   bool   `json:"parent,omitempty"`
	Content  string `json:"content,omitempty"`
}

type HelloResult struct {
	Message string `json:"message"`
}

type FilesResult struct {
	Files []string `json:"files"`
}

type CommitsResult struct {
	Commits []internal.Revision `json:"commits"`
}

type ContentResult struct {
	Content string `json:"content"`
}

type DiffResult struct {
	Diff string `json:"diff"`
}

// WriteResult reports a write. Committed is false when the content was
// already current.
type WriteResult struct {
	OK        bool `json:"ok"`
	Committed bool `json:"committed"`
}

type CreateResult struct {
	FileName string `json:"fileName"`
}

type StatusResult struct {
	Status string `json:"status"`
}

type HealthResult struct {
	Status string `json:"status"`
}
