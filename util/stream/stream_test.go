package stream

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestPushPop(t *testing.T) {
	ctx := context.Background()
	s := New[int](4)

	go func() {
		for i := 0; i < 3; i++ {
			require.NoError(t, s.Push(ctx, i))
		}
		s.Close()
	}()

	require.Equal(t, []int{0, 1, 2}, s.Slice())
	require.NoError(t, s.Err())
}

func TestFail(t *testing.T) {
	ctx := context.Background()
	s := New[int](4)
	boom := errors.New("boom")

	require.NoError(t, s.Push(ctx, 1))
	s.Fail(boom)

	v, ok := s.Pop()
	require.True(t, ok)
	require.Equal(t, 1, v)

	_, ok = s.Pop()
	require.False(t, ok)
	require.ErrorIs(t, s.Err(), boom)
}

func TestPushCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New[int](0)

	cancel()
	require.ErrorIs(t, s.Push(ctx, 1), context.Canceled)
}

func TestDrain(t *testing.T) {
	ctx := context.Background()
	s := New[int](8)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Push(ctx, i))
	}
	s.Close()

	Drain[int](s)
	_, ok := s.Pop()
	require.False(t, ok)
}
