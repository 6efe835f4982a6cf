package record

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertGet(t *testing.T) {
	s := NewStore()

	id, err := s.Insert([]byte("alpha"))
	require.NoError(t, err)
	require.False(t, id.IsEmpty())

	got, ok := s.Get(id)
	require.True(t, ok)
	require.Equal(t, []byte("alpha"), got)

	_, ok = s.Get(Empty)
	require.False(t, ok)
	_, ok = s.Get(ID(99))
	require.False(t, ok)
}

func TestUpdateDelete(t *testing.T) {
	s := NewStore()

	id, err := s.Insert([]byte("alpha"))
	require.NoError(t, err)

	require.True(t, s.Update(id, []byte("beta")))
	got, _ := s.Get(id)
	require.Equal(t, []byte("beta"), got)

	require.True(t, s.Delete(id))
	require.False(t, s.Delete(id))
	_, ok := s.Get(id)
	require.False(t, ok)
	require.False(t, s.Update(id, []byte("gamma")))
}

func TestSlotReuse(t *testing.T) {
	s := NewStore()

	a, _ := s.Insert([]byte("a"))
	b, _ := s.Insert([]byte("b"))
	require.True(t, s.Delete(a))

	c, _ := s.Insert([]byte("c"))
	require.Equal(t, a, c)
	require.Equal(t, 2, s.Count())

	_ = b
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	a, _ := s.Insert([]byte("a"))
	b, _ := s.Insert([]byte("b"))
	c, _ := s.Insert([]byte("c"))
	require.True(t, s.Delete(b))

	entries := s.Scan(ctx)
	got := entries.Slice()
	require.NoError(t, entries.Err())

	require.Len(t, got, 2)
	require.Equal(t, a, got[0].ID)
	require.Equal(t, []byte("a"), got[0].Data)
	require.Equal(t, c, got[1].ID)
	require.Equal(t, []byte("c"), got[1].Data)
}

func TestIDCodecRoundTrip(t *testing.T) {
	for _, id := range []ID{0, 1, 42, Empty} {
		buf := make([]byte, IDCodec.Size(id))
		IDCodec.Encode(id, buf)

		got, err := IDCodec.Decode(buf)
		require.NoError(t, err)
		require.Equal(t, id, got)
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := JSONCodec{}
	row := Row{"name": "ada", "age": float64(36)}

	d, err := c.Encode(row)
	require.NoError(t, err)

	got, err := c.Decode(d)
	require.NoError(t, err)
	require.Equal(t, row, got)
}
