// Package docker provisions gitbox sandboxes on a Docker Engine.
//
// Named volumes hold the persistent repository, a container runs the
// companion service, and a published container port is the sandbox
// endpoint. The Client type is the main entry point; Container is a handle
// to one sandbox.
package docker
