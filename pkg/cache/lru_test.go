package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUStore_AddAndEvict(t *testing.T) {
	now := time.Now()
	exp := now.Add(time.Minute)
	s := newLRUStore[string, int](3)

	assert.Equal(t, 0, s.add("a", 1, exp))
	assert.Equal(t, 0, s.add("b", 2, exp))
	assert.Equal(t, 0, s.add("c", 3, exp))

	// a 被访问后 b 最久未使用
	_, ok := s.get("a", now)
	assert.True(t, ok)
	assert.Equal(t, 1, s.add("d", 4, exp))

	_, ok = s.get("b", now)
	assert.False(t, ok)
	assert.Equal(t, 3, s.len())
}

func TestLRUStore_OverwriteRefreshes(t *testing.T) {
	now := time.Now()
	s := newLRUStore[string, int](2)

	s.add("a", 1, now.Add(time.Second))
	s.add("b", 2, now.Add(time.Second))
	s.add("a", 10, now.Add(time.Minute))
	s.add("c", 3, now.Add(time.Minute))

	v, ok := s.get("a", now.Add(30*time.Second))
	assert.True(t, ok)
	assert.Equal(t, 10, v)

	_, ok = s.get("b", now)
	assert.False(t, ok)
}

func TestLRUStore_ExpiryBoundary(t *testing.T) {
	now := time.Now()
	s := newLRUStore[int, string](2)
	s.add(1, "x", now.Add(time.Second))

	_, ok := s.get(1, now.Add(time.Second-time.Nanosecond))
	assert.True(t, ok)

	_, ok = s.get(1, now.Add(time.Second))
	assert.False(t, ok)
	assert.Equal(t, 0, s.len(), "expired entry is dropped on read")
}

func TestLRUStore_PurgeAndClear(t *testing.T) {
	now := time.Now()
	s := newLRUStore[int, string](10)
	s.add(1, "old", now.Add(time.Second))
	s.add(2, "new", now.Add(time.Hour))
	s.add(3, "old", now.Add(2*time.Second))

	assert.Equal(t, 2, s.purge(now.Add(time.Minute)))
	assert.Equal(t, 1, s.len())
	assert.True(t, s.remove(2))
	assert.False(t, s.remove(2))

	s.add(4, "x", now.Add(time.Hour))
	s.clear()
	assert.Equal(t, 0, s.len())
	_, ok := s.get(4, now)
	assert.False(t, ok)
}
