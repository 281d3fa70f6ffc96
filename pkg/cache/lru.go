package cache

import (
	"container/list"
	"time"
)

type lruEntry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// lruStore 带过期时间的 LRU 存储，链表头部为最近使用。非并发安全，由 Cache 加锁。
type lruStore[K comparable, V any] struct {
	capacity int
	ll       *list.List
	items    map[K]*list.Element
}

func newLRUStore[K comparable, V any](capacity int) *lruStore[K, V] {
	return &lruStore[K, V]{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[K]*list.Element, capacity),
	}
}

func expired(expiresAt, now time.Time) bool {
	return !now.Before(expiresAt)
}

// get 返回未过期的值并刷新其使用顺序，过期条目顺带删除
func (s *lruStore[K, V]) get(key K, now time.Time) (V, bool) {
	elem, ok := s.items[key]
	if !ok {
		var zero V
		return zero, false
	}

	e := elem.Value.(*lruEntry[K, V])
	if expired(e.expiresAt, now) {
		s.removeElement(elem)
		var zero V
		return zero, false
	}

	s.ll.MoveToFront(elem)
	return e.value, true
}

// add 写入或覆盖条目，超出容量时淘汰最久未使用的条目，返回淘汰数量
func (s *lruStore[K, V]) add(key K, value V, expiresAt time.Time) int {
	if elem, ok := s.items[key]; ok {
		e := elem.Value.(*lruEntry[K, V])
		e.value = value
		e.expiresAt = expiresAt
		s.ll.MoveToFront(elem)
		return 0
	}

	s.items[key] = s.ll.PushFront(&lruEntry[K, V]{key: key, value: value, expiresAt: expiresAt})

	evicted := 0
	for s.ll.Len() > s.capacity {
		s.removeElement(s.ll.Back())
		evicted++
	}
	return evicted
}

func (s *lruStore[K, V]) remove(key K) bool {
	elem, ok := s.items[key]
	if !ok {
		return false
	}
	s.removeElement(elem)
	return true
}

// purge 删除所有过期条目
func (s *lruStore[K, V]) purge(now time.Time) int {
	removed := 0
	for elem := s.ll.Back(); elem != nil; {
		prev := elem.Prev()
		if expired(elem.Value.(*lruEntry[K, V]).expiresAt, now) {
			s.removeElement(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

func (s *lruStore[K, V]) clear() {
	s.ll.Init()
	s.items = make(map[K]*list.Element, s.capacity)
}

func (s *lruStore[K, V]) len() int {
	return s.ll.Len()
}

func (s *lruStore[K, V]) removeElement(elem *list.Element) {
	s.ll.Remove(elem)
	delete(s.items, elem.Value.(*lruEntry[K, V]).key)
}
