package wsgateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionRegistry_AddRemove(t *testing.T) {
	registry := NewConnectionRegistry()
	conn := NewConnection("conn-1", "user-1", nil, 1)

	registry.Add(conn)
	got, exists := registry.Get("conn-1")
	require.True(t, exists)
	assert.Same(t, conn, got)
	assert.Equal(t, 1, registry.Count())

	assert.True(t, registry.Remove("conn-1"))
	assert.False(t, registry.Remove("conn-1"))
	_, exists = registry.Get("conn-1")
	assert.False(t, exists)
	assert.Equal(t, 0, registry.Count())
	assert.Empty(t, registry.Users())
}

func TestConnectionRegistry_ByUser(t *testing.T) {
	registry := NewConnectionRegistry()
	registry.Add(NewConnection("conn-1", "user-1", nil, 1))
	registry.Add(NewConnection("conn-2", "user-1", nil, 1))
	registry.Add(NewConnection("conn-3", "user-2", nil, 1))

	assert.Equal(t, 3, registry.Count())
	assert.Equal(t, map[string]int{"user-1": 2, "user-2": 1}, registry.Users())

	all := registry.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, "conn-1", all[0].ID)
	assert.Equal(t, "conn-3", all[2].ID)

	registry.Remove("conn-1")
	assert.Equal(t, map[string]int{"user-1": 1, "user-2": 1}, registry.Users())
}
