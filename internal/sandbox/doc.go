// Package sandbox manages the lifecycle of the short-lived container that
// runs the companion service, and the authenticated calls made to it.
//
// At most one canonical session exists at a time: the one published in the
// cache. EnsureReady returns it while its cache entry is alive and
// provisions a replacement otherwise. Two callers that miss the cache at the
// same moment may both provision; the later publication wins and the earlier
// container is reclaimed by its hard lifetime.
package sandbox
