package share

import (
	"fmt"
	"sync"
	"time"
)

// Store is an in-memory map from code to record where every record carries
// its own deadline. A record is never returned once its deadline has passed,
// whether or not a sweep has run.
type Store[T Record] struct {
	mu       sync.Mutex
	entries  map[string]T
	now      func() time.Time
	onExpire func(T)
}

// NewStore creates an empty store. onExpire, if set, receives records that a
// read or an insert found expired and removed; it runs outside the lock.
func NewStore[T Record](now func() time.Time, onExpire func(T)) *Store[T] {
	if now == nil {
		now = time.Now
	}
	return &Store[T]{
		entries:  make(map[string]T),
		now:      now,
		onExpire: onExpire,
	}
}

// Insert stores rec under its code. It fails with ErrDuplicateCode if a
// live record already holds the code.
func (s *Store[T]) Insert(rec T) error {
	s.mu.Lock()
	evicted, ok, err := s.insertLocked(rec)
	s.mu.Unlock()

	if ok {
		s.expired(evicted)
	}
	return err
}

// Add draws a free code and inserts the record built for it in one critical
// section, so two concurrent callers can never end up with the same code.
func (s *Store[T]) Add(codes *CodeGenerator, build func(code string) T) (T, error) {
	var zero T

	s.mu.Lock()
	now := s.now()
	code, err := codes.Next(func(code string) bool {
		cur, ok := s.entries[code]
		return ok && now.Before(cur.Deadline())
	})
	if err != nil {
		s.mu.Unlock()
		return zero, err
	}
	rec := build(code)
	evicted, ok, err := s.insertLocked(rec)
	s.mu.Unlock()

	if ok {
		s.expired(evicted)
	}
	if err != nil {
		return zero, err
	}
	return rec, nil
}

func (s *Store[T]) insertLocked(rec T) (evicted T, ok bool, err error) {
	code := CanonicalCode(rec.Key())
	if cur, exists := s.entries[code]; exists {
		if s.now().Before(cur.Deadline()) {
			return evicted, false, fmt.Errorf("%w: %s", ErrDuplicateCode, code)
		}
		evicted, ok = cur, true
	}
	s.entries[code] = rec
	return evicted, ok, nil
}

// Get returns the live record for code. An expired record is removed.
func (s *Store[T]) Get(code string) (T, bool) {
	var zero T
	code = CanonicalCode(code)

	s.mu.Lock()
	rec, ok := s.entries[code]
	if !ok {
		s.mu.Unlock()
		return zero, false
	}
	if s.now().Before(rec.Deadline()) {
		s.mu.Unlock()
		return rec, true
	}
	delete(s.entries, code)
	s.mu.Unlock()

	s.expired(rec)
	return zero, false
}

// Remove deletes the record for code and returns it.
func (s *Store[T]) Remove(code string) (T, bool) {
	code = CanonicalCode(code)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[code]
	if ok {
		delete(s.entries, code)
	}
	return rec, ok
}

// Delete removes the record for code. It reports whether anything was removed.
func (s *Store[T]) Delete(code string) bool {
	_, ok := s.Remove(code)
	return ok
}

// DeleteFunc removes the record for code only if match accepts it.
func (s *Store[T]) DeleteFunc(code string, match func(T) bool) bool {
	code = CanonicalCode(code)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[code]
	if !ok || !match(rec) {
		return false
	}
	delete(s.entries, code)
	return true
}

// Sweep removes every record whose deadline is at or before now.
func (s *Store[T]) Sweep(now time.Time) []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []T
	for code, rec := range s.entries {
		if !now.Before(rec.Deadline()) {
			delete(s.entries, code)
			removed = append(removed, rec)
		}
	}
	return removed
}

// Drain removes and returns every record.
func (s *Store[T]) Drain() []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make([]T, 0, len(s.entries))
	for _, rec := range s.entries {
		removed = append(removed, rec)
	}
	s.entries = make(map[string]T)
	return removed
}

// Len returns the number of records held, including expired ones not yet
// swept.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store[T]) expired(rec T) {
	if s.onExpire != nil {
		s.onExpire(rec)
	}
}
