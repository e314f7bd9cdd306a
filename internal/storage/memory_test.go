package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryContextStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryContextStore(0)

	_, err := m.LoadContext(ctx, eurH1)
	assert.ErrorIs(t, err, ErrContextNotFound)

	// out of order saves are kept sorted
	require.NoError(t, m.SaveContext(ctx, eurH1, contextAt(20, 2)))
	require.NoError(t, m.SaveContext(ctx, eurH1, contextAt(10, 1)))
	require.NoError(t, m.SaveContext(ctx, eurH1, contextAt(30, 3)))
	require.NoError(t, m.SaveContext(ctx, eurH1, contextAt(30, 4)))
	assert.Equal(t, 3, m.Count(eurH1))

	latest, err := m.LoadContext(ctx, eurH1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), latest.Version)

	before, err := m.LoadContextBefore(ctx, eurH1, hour(30))
	require.NoError(t, err)
	assert.Equal(t, int64(2), before.Version)

	require.NoError(t, m.DeleteContextsAfter(ctx, eurH1, hour(10)))
	assert.Equal(t, 1, m.Count(eurH1))

	_, err = m.LoadContextBefore(ctx, eurH1, hour(10))
	assert.ErrorIs(t, err, ErrContextNotFound)
}

func TestMemoryContextStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryContextStore(0)

	c := contextAt(10, 1)
	require.NoError(t, m.SaveContext(ctx, eurH1, c))
	c.Version = 99

	loaded, err := m.LoadContext(ctx, eurH1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)

	loaded.Version = 50
	again, err := m.LoadContext(ctx, eurH1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Version)
}

func TestMemoryContextStore_Bounded(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryContextStore(2)
	for i := 1; i <= 5; i++ {
		require.NoError(t, m.SaveContext(ctx, eurH1, contextAt(i*10, int64(i))))
	}
	assert.Equal(t, 2, m.Count(eurH1))

	_, err := m.LoadContextBefore(ctx, eurH1, hour(40))
	assert.ErrorIs(t, err, ErrContextNotFound)
}
