package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	require.Equal(t, want, h.Hash([]byte("hello world")))
	require.Equal(t, want, h.Hash([]byte("hello world")))
}

func TestBucketStableAndInRange(t *testing.T) {
	t.Parallel()

	for _, key := range []string{"", "https://acme.io/", "http://example.com/x"} {
		got := Bucket(key, 5)
		require.GreaterOrEqual(t, got, 0)
		require.Less(t, got, 5)
		require.Equal(t, got, Bucket(key, 5))
	}
	require.Equal(t, 0, Bucket("anything", 0))
}
