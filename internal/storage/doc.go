// Package storage holds the single-slot snapshot stores.
//
// Each backend keeps exactly one image, the latest, and replaces it
// atomically: readers observe either the previous snapshot or the new one,
// never a partial write. Subpackages:
//
//   - local: a file replaced by rename (default)
//   - memory: an in-process slot
//   - gcs: a Cloud Storage object
//   - redis: a Redis key
package storage
