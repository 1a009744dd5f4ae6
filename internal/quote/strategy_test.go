package quote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func constant(name string, value int, ok bool, err error) Strategy[int] {
	return Strategy[int]{
		Name: name,
		Find: func(context.Context) (int, bool, error) {
			return value, ok, err
		},
	}
}

func TestFirstMatch(t *testing.T) {
	ctx := context.Background()

	value, name, attempts, ok := FirstMatch(ctx, []Strategy[int]{
		constant("miss", 1, false, nil),
		constant("broken", 2, true, errors.New("boom")),
		constant("hit", 3, true, nil),
		constant("never", 4, true, nil),
	})
	require.True(t, ok)
	require.Equal(t, 3, value)
	require.Equal(t, "hit", name)
	require.Len(t, attempts, 3)
	require.Error(t, attempts[1].Err)

	_, _, attempts, ok = FirstMatch(ctx, []Strategy[int]{constant("miss", 0, false, nil)})
	require.False(t, ok)
	require.Len(t, attempts, 1)

	_, _, _, ok = FirstMatch[int](ctx, nil)
	require.False(t, ok)
}

func TestFirstMatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, attempts, ok := FirstMatch(ctx, []Strategy[int]{constant("hit", 1, true, nil)})
	require.False(t, ok)
	require.ErrorIs(t, attempts[0].Err, context.Canceled)
}
