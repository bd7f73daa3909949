// SPDX-License-Identifier: MIT

package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AllocateAndFree(t *testing.T) {
	s := NewStore()

	id, data := s.Allocate()
	require.NotNil(t, data)
	assert.Equal(t, 1, s.Len())

	data.Set("key", "value")
	got, ok := s.Get(id)
	require.True(t, ok)
	v, ok := got.Get("key")
	require.True(t, ok)
	assert.Equal(t, "value", v)

	s.Free(id)
	assert.Equal(t, 0, s.Len())
	_, ok = s.Get(id)
	assert.False(t, ok, "freed session must be unreachable")
}

func TestStore_IdentitiesAreUnique(t *testing.T) {
	s := NewStore()
	seen := make(map[Identity]bool)
	for i := 0; i < 100; i++ {
		id, _ := s.Allocate()
		assert.False(t, seen[id], "identity must not repeat")
		seen[id] = true
	}
}

func TestStore_ConcurrentAllocateFree(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, data := s.Allocate()
			data.Set("x", 1)
			s.Free(id)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, s.Len())
}

func TestData_DeleteAndMissingGet(t *testing.T) {
	d := newData()
	d.Set("a", 1)
	d.Delete("a")
	_, ok := d.Get("a")
	assert.False(t, ok)

	_, ok = d.Get("missing")
	assert.False(t, ok)
}
