// Package companion implements the HTTP service that runs inside a sandbox
// and executes git against the storage volume on behalf of the store.
//
// Every route except /healthz and /metrics requires the shared secret in the
// configured auth header. Responses use the Envelope shape on both success
// and failure.
package companion
