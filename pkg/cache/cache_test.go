package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGet(t *testing.T) {
	c := NewCache[uint32, string](4)

	c.Put(1, "one")
	c.Put(2, "two")

	v, ok := c.Get(1)
	require.True(t, ok)
	require.Equal(t, "one", v)

	_, ok = c.Get(3)
	require.False(t, ok)
}

func TestPutOverwrite(t *testing.T) {
	c := NewCache[uint32, string](4)

	c.Put(1, "one")
	c.Put(1, "uno")

	v, ok := c.Get(1)
	require.True(t, ok)
	require.Equal(t, "uno", v)
	require.Equal(t, 1, c.Len())
}

func TestEviction(t *testing.T) {
	c := NewCache[uint32, int](2)

	c.Put(1, 1)
	c.Put(2, 2)
	c.Put(3, 3)

	_, ok := c.Get(1)
	require.False(t, ok, "oldest entry should be evicted")

	_, ok = c.Get(2)
	require.True(t, ok)
	_, ok = c.Get(3)
	require.True(t, ok)
	require.Equal(t, 2, c.Len())
}

func TestDel(t *testing.T) {
	c := NewCache[uint32, int](4)

	c.Put(1, 1)
	c.Del(1)

	_, ok := c.Get(1)
	require.False(t, ok)
}
