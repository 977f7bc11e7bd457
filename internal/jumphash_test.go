package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJumpHash(t *testing.T) {
	// single bucket maps everything to 0
	assert.Equal(t, 0, JumpHash(42, 1))
	assert.Equal(t, 0, JumpHash(0, 1))

	// degenerate bucket counts
	assert.Equal(t, 0, JumpHash(42, 0))
	assert.Equal(t, 0, JumpHash(42, -1))

	// deterministic
	assert.Equal(t, JumpHash(123456789, 10), JumpHash(123456789, 10))
}

func TestJumpHashRange(t *testing.T) {
	for key := uint64(0); key < 1000; key++ {
		b := JumpHash(key, 7)
		require.GreaterOrEqual(t, b, 0)
		require.Less(t, b, 7)
	}
}

func TestJumpHashMonotonicity(t *testing.T) {
	// growing the bucket count only moves keys to the new bucket,
	// never between existing buckets
	for key := uint64(0); key < 500; key++ {
		before := JumpHash(key, 5)
		after := JumpHash(key, 6)
		if before != after {
			require.Equal(t, 5, after)
		}
	}
}
