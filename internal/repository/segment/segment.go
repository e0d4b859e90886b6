// Package segment defines the contract shared by the HLS segment cache
// backends. A cache stores opaque segment bytes under a (namespace, key)
// pair; the namespace isolates per-room caches from the shared one.
package segment

import (
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("segment not found")

// Meta describes a cached segment without its payload.
type Meta struct {
	ContentType string
	Size        int64
	StoredAt    time.Time
}

// Writer receives segment bytes as they stream in. Exactly one of Commit or
// Abort must be called; until Commit returns the entry is not visible to
// readers, and after Abort no trace of the write remains.
type Writer interface {
	io.Writer
	Commit() error
	Abort() error
}
