// Package assets implements the fetch-through asset coordinator. A Manager
// remembers which keys are already on disk, bounds concurrent origin fetches
// with a worker-ceiling semaphore, lets concurrent requests for the same key
// follow the first claimant by polling for its file, and publishes fetched
// bytes through the cache store's atomic write path. Entries are never
// evicted; Status exposes a snapshot of fetch activity for UI polling.
package assets
