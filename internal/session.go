package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session is a handle to one live sandbox plus the shared secret negotiated
// with the companion service running inside it.
type Session struct {
	ID        SessionID `json:"id"`
	Endpoint  string    `json:"endpoint"`
	Secret    string    `json:"secret"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSecret generates a fresh random shared secret.
func NewSecret() string {
	return uuid.NewString()
}

// GenerateContainerName returns a unique container name in the format
// "gitbox-<8 hex chars>".
func GenerateContainerName() string {
	return fmt.Sprintf("gitbox-%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Ready reports whether the session carries both an endpoint and a secret.
func (s Session) Ready() bool {
	return s.Endpoint != "" && s.Secret != ""
}

// URL joins the session endpoint with a companion route path.
func (s Session) URL(path string) string {
	return strings.TrimRight(s.Endpoint, "/") + "/" + strings.TrimLeft(path, "/")
}

// String returns a printable description of the session. The secret is never
// included.
func (s Session) String() string {
	id := string(s.ID)
	if id == "" {
		id = "unknown"
	}
	return fmt.Sprintf("session %s at %s", id, s.Endpoint)
}
