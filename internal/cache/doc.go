// Package cache defines the disk-backed asset store that maps resource
// identifiers onto StoragePath/<key> files. It owns three concerns: turning a
// raw identifier (URL path, backslash path, query-suffixed path) into a
// canonical forward-slash key, probing the disk for that key while tolerating
// case mismatches in the final path segment, and persisting fetched bytes with
// temp file + rename so concurrent readers never observe partial content.
// The download coordinator in internal/assets layers the in-memory index and
// upstream fetches on top of these primitives.
package cache
