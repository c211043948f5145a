package internal

// SessionID identifies one provisioned sandbox. For the Docker provisioner it
// is the container ID.
type SessionID string

// ImageName represents a Docker image name.
type ImageName string

// Environment represents environment variables to pass to the sandbox.
type Environment []string

// Volumes maps persistent volume names to their mount paths inside the sandbox.
type Volumes map[string]string

// Revision is one entry in a document's history, newest first.
type Revision struct {
	Hash    string `json:"hash"`
	Author  string `json:"author"`
	Email   string `json:"email"`
	Date    string `json:"date"`
	Message string `json:"message"`
}

// Snapshot holds a document's content just before and just after a revision.
// Either side is nil when the document did not exist at that point.
type Snapshot struct {
	Before *string `json:"before"`
	After  *string `json:"after"`
}
