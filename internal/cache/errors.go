package cache

import "errors"

// ErrUnavailable marks a persistent tier that could not be read or written.
// The cache degrades to memory-only; it is never returned from Get or Set.
var ErrUnavailable = errors.New("cache unavailable")
