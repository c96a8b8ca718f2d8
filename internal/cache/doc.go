// Package cache defines the disk-backed key/value store that every higher
// cache layer sits on. Keys are slash-separated relative paths (as produced by
// specifier.CacheFilename) resolved under a single root directory; writes go
// through a temp file + rename and create parent directories on demand.
// The store keeps no in-memory state besides per-key writer locks, so every
// Get/Set touches the filesystem.
package cache
