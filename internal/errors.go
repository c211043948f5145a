package internal

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error taxonomy shared by the sandbox manager, the store and the companion
// service. Callers match with errors.Is.
var (
	// ErrNotFound means a document or revision does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrAuthentication means the companion service rejected the shared secret.
	ErrAuthentication = errors.New("companion rejected shared secret")

	// ErrProvisioning means the sandbox could not be created or exposed.
	ErrProvisioning = errors.New("sandbox provisioning failed")

	// ErrUpstream means the companion service or the transport to it failed.
	ErrUpstream = errors.New("companion service failed")

	// ErrInvalidName means a document name or revision cannot be mapped onto
	// a safe path or git argument.
	ErrInvalidName = errors.New("invalid document name")

	// ErrInvalidRequest means a request was malformed or incomplete, such as
	// a missing field or empty content. The companion answers both this and
	// ErrInvalidName with 400, so a 400 seen by a client is this error.
	ErrInvalidRequest = errors.New("invalid request")
)

// StatusCode maps an error onto the HTTP status class a presentation layer
// should surface: 404 for missing documents, 400 for bad names or requests, 401 for bad
// credentials, 502 for sandbox or companion failures and 500 otherwise.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, ErrProvisioning), errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToolError reports a git invocation that exited with a non-zero status.
type ToolError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ToolError) Error() string {
	message := strings.TrimSpace(e.Stderr)
	if message == "" {
		message = strings.TrimSpace(e.Stdout)
	}
	if message == "" {
		return fmt.Sprintf("git %s exited with status %d", strings.Join(e.Args, " "), e.ExitCode)
	}
	return fmt.Sprintf("git %s exited with status %d: %s", strings.Join(e.Args, " "), e.ExitCode, message)
}
