package shard

import (
	"errors"
	"testing"

	"github.com/longbridgeapp/assert"

	"github.com/hyp3rd/listsync/internal/sentinel"
)

func TestRegistry_Add(t *testing.T) {
	registry := NewRegistry()

	err := registry.Add(Descriptor{Name: "shard-1", ConnectionURL: "redis://shard-1:6379"}, NewMemStore())
	assert.Nil(t, err)
	assert.Equal(t, 1, registry.Len())

	err = registry.Add(Descriptor{Name: "  "}, NewMemStore())
	assert.True(t, errors.Is(err, sentinel.ErrParamCannotBeEmpty))

	err = registry.Add(Descriptor{Name: "shard-2"}, nil)
	assert.True(t, errors.Is(err, sentinel.ErrNilClient))

	// Re-adding the same name replaces the handle without growing the order.
	err = registry.Add(Descriptor{Name: "shard-1", ConnectionURL: "redis://replacement:6379"}, NewMemStore())
	assert.Nil(t, err)
	assert.Equal(t, 1, registry.Len())

	descriptor, ok := registry.Descriptor("shard-1")
	assert.True(t, ok)
	assert.Equal(t, "redis://replacement:6379", descriptor.ConnectionURL)
}

func TestRegistry_NamesAndStores(t *testing.T) {
	registry := NewRegistry()

	for _, name := range []string{"shard-b", "shard-a", "shard-c"} {
		err := registry.Add(Descriptor{Name: name}, NewMemStore())
		assert.Nil(t, err)
	}

	// Registration order is preserved, not sorted.
	assert.Equal(t, []string{"shard-b", "shard-a", "shard-c"}, registry.Names())
	assert.Equal(t, 3, len(registry.Stores()))

	_, ok := registry.Store("shard-missing")
	assert.False(t, ok)

	_, ok = registry.Descriptor("shard-missing")
	assert.False(t, ok)
}
