package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirsync/internal/identity"
)

func TestCache(t *testing.T) {
	resolver := identity.NewResolver(staticStore{})
	cache := identity.NewCache()

	assert.Nil(t, cache.Get("corp", "jdoe"))

	id := resolver.NewIdentity("corp", "jdoe", "")
	cache.Put(id)
	assert.Same(t, id, cache.Get("corp", "jdoe"))
	assert.Equal(t, 1, cache.Len())

	// A replacement closes and evicts the previous entry.
	replacement := resolver.NewIdentity("corp", "jdoe", "new")
	cache.Put(replacement)
	assert.Same(t, replacement, cache.Get("corp", "jdoe"))
	assert.Equal(t, 1, cache.Len())

	other := resolver.NewIdentity("corp", "asmith", "")
	cache.Put(other)
	require.Equal(t, 2, cache.Len())

	cache.Remove("corp", "jdoe")
	assert.Nil(t, cache.Get("corp", "jdoe"))
	assert.Equal(t, 1, cache.Len())

	cache.Close()
	assert.Zero(t, cache.Len())
}
