// Package cache holds the two storage tiers behind the fetch coordinator and
// the key codec that ties them together. Canonical keys are derived from a
// resource path or an explicit cache name, encoded into filesystem-safe
// relative paths and stored as StoragePath/<root>/<encoded key> files. The
// disk store writes via temp file + rename on top of an afero filesystem; the
// memory tier is an LRU whose eviction is decided by a pluggable policy.
package cache
