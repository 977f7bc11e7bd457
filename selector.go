package asyncmc

import (
	"github.com/zeebo/xxh3"

	"github.com/pior/asyncmc/internal"
)

// ServerSelector picks which server to use for a given key.
// It receives the key and the current server count and returns an index.
type ServerSelector func(key string, serverCount int) int

// DefaultServerSelector hashes the key with xxh3 and applies Jump consistent
// hashing, which gives good distribution and minimal key movement when
// servers are added or removed.
func DefaultServerSelector(key string, serverCount int) int {
	return internal.JumpHash(xxh3.HashString(key), serverCount)
}

// staticSelector is used in tests to always select a specific server.
func staticSelector(index int) ServerSelector {
	return func(key string, serverCount int) int {
		return index % serverCount
	}
}
