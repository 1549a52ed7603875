package scheduler

// orderedSet is an insertion-ordered sequence without duplicates. Pushing
// an item that is already present keeps its original position.
type orderedSet[T comparable] struct {
	items []T
	index map[T]struct{}
}

func newOrderedSet[T comparable]() *orderedSet[T] {
	return &orderedSet[T]{index: make(map[T]struct{})}
}

// Push appends v and reports whether it was absent.
func (s *orderedSet[T]) Push(v T) bool {
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = struct{}{}
	s.items = append(s.items, v)
	return true
}

// PopFront removes and returns the oldest item.
func (s *orderedSet[T]) PopFront() (T, bool) {
	var zero T
	if len(s.items) == 0 {
		return zero, false
	}
	v := s.items[0]
	s.items[0] = zero
	s.items = s.items[1:]
	delete(s.index, v)
	return v, true
}

// PopBack removes and returns the newest item.
func (s *orderedSet[T]) PopBack() (T, bool) {
	var zero T
	n := len(s.items)
	if n == 0 {
		return zero, false
	}
	v := s.items[n-1]
	s.items[n-1] = zero
	s.items = s.items[:n-1]
	delete(s.index, v)
	return v, true
}

// Remove deletes v and reports whether it was present.
func (s *orderedSet[T]) Remove(v T) bool {
	if _, ok := s.index[v]; !ok {
		return false
	}
	delete(s.index, v)
	for i, item := range s.items {
		if item == v {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	return true
}

func (s *orderedSet[T]) Contains(v T) bool {
	_, ok := s.index[v]
	return ok
}

func (s *orderedSet[T]) Len() int { return len(s.items) }
