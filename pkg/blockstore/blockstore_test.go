package blockstore

import (
	"context"
	"path"
	"testing"

	"btreedb/pkg/customerrors"

	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(path.Join(t.TempDir(), "test.idx"), &Options{
		BlockSize: 4096,
		QueueSize: 100,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenFresh(t *testing.T) {
	s := testStore(t)

	require.Equal(t, 4096, s.BlockSize())
	require.Equal(t, NilBlock, s.RootID())
	require.Equal(t, int64(1), s.blocks)
}

func TestAllocateWriteRead(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	id, err := s.Allocate(ctx)
	require.NoError(t, err)
	require.Equal(t, BlockID(1), id)

	payload := make([]byte, s.BlockSize())
	copy(payload, "hello blocks")
	require.NoError(t, s.Write(ctx, id, payload))
	require.NoError(t, s.Sync(ctx))

	got, err := s.Read(ctx, id)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestWriteBadBlockSize(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	err := s.Write(ctx, 1, []byte("too short"))
	require.ErrorIs(t, err, customerrors.ErrBadBlockSize)
}

func TestReadBeyondEnd(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	_, err := s.Read(ctx, 42)
	require.ErrorIs(t, err, customerrors.ErrShortRead)
}

func TestFreeReuse(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	a, err := s.Allocate(ctx)
	require.NoError(t, err)
	b, err := s.Allocate(ctx)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	require.NoError(t, s.Free(ctx, a))
	require.NoError(t, s.Free(ctx, b))

	// freed blocks come back in LIFO order
	id, err := s.Allocate(ctx)
	require.NoError(t, err)
	require.Equal(t, b, id)

	id, err = s.Allocate(ctx)
	require.NoError(t, err)
	require.Equal(t, a, id)

	// free list exhausted, file grows again
	id, err = s.Allocate(ctx)
	require.NoError(t, err)
	require.Equal(t, BlockID(3), id)
}

func TestReopenPreservesState(t *testing.T) {
	ctx := context.Background()
	file := path.Join(t.TempDir(), "test.idx")

	s, err := Open(file, &Options{BlockSize: 4096, QueueSize: 100})
	require.NoError(t, err)

	a, err := s.Allocate(ctx)
	require.NoError(t, err)
	b, err := s.Allocate(ctx)
	require.NoError(t, err)
	c, err := s.Allocate(ctx)
	require.NoError(t, err)

	payload := make([]byte, s.BlockSize())
	copy(payload, "persist me")
	require.NoError(t, s.Write(ctx, c, payload))

	require.NoError(t, s.SetRoot(ctx, c))
	require.NoError(t, s.Free(ctx, a))
	require.NoError(t, s.Free(ctx, b))
	require.NoError(t, s.Close())

	s, err = Open(file, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	// block size comes from the header, not the options
	require.Equal(t, 4096, s.BlockSize())
	require.Equal(t, c, s.RootID())

	got, err := s.Read(ctx, c)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	id, err := s.Allocate(ctx)
	require.NoError(t, err)
	require.Equal(t, b, id)
	id, err = s.Allocate(ctx)
	require.NoError(t, err)
	require.Equal(t, a, id)
}

func TestDisposed(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	require.NoError(t, s.Close())

	_, err := s.Read(ctx, 1)
	require.ErrorIs(t, err, customerrors.ErrStoreDisposed)

	err = s.Write(ctx, 1, make([]byte, s.BlockSize()))
	require.ErrorIs(t, err, customerrors.ErrStoreDisposed)

	err = s.Sync(ctx)
	require.ErrorIs(t, err, customerrors.ErrStoreDisposed)

	// double close is a no-op
	require.NoError(t, s.Close())
}

func TestReadCancelled(t *testing.T) {
	s := testStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Read(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWriteOrder(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	id, err := s.Allocate(ctx)
	require.NoError(t, err)

	// last submitted write wins
	for i := 0; i < 10; i++ {
		payload := make([]byte, s.BlockSize())
		payload[0] = byte(i)
		require.NoError(t, s.Write(ctx, id, payload))
	}
	require.NoError(t, s.Sync(ctx))

	got, err := s.Read(ctx, id)
	require.NoError(t, err)
	require.Equal(t, byte(9), got[0])
}
