package descriptor

import (
	"sort"
	"sync"
)

// inheritDeny lists metadata keys that never flow down the hierarchy.
// Each node's own identity fields stay its own.
var inheritDeny = map[string]struct{}{
	"name": {},
	"path": {},
}

// Store is the metadata map attached to each compiled node. It is built
// once at compile time from the merged hierarchy view and is safe for
// concurrent use; Set and Update are administrative, not request-time.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewStore builds a store from the given values. Maps and slices are
// deep-copied so later mutation of the source cannot leak in.
func NewStore(values map[string]any) *Store {
	s := &Store{values: make(map[string]any, len(values))}
	for k, v := range values {
		s.values[k] = deepCopyMeta(v)
	}
	return s
}

// Get returns the value for key and whether it exists.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores a single value.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Update merges the given values over the current ones.
func (s *Store) Update(values map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.values[k] = v
	}
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len reports the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Snapshot returns a deep copy of the stored values.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = deepCopyMeta(v)
	}
	return out
}

// inheritStore builds a child store: the parent's values minus the deny
// list are copied forward, then the child's own values overlay them. Own
// keys always win, deny-listed or not.
func inheritStore(parent *Store, own map[string]any) *Store {
	s := &Store{values: make(map[string]any)}
	if parent != nil {
		parent.mu.RLock()
		for k, v := range parent.values {
			if _, denied := inheritDeny[k]; denied {
				continue
			}
			s.values[k] = deepCopyMeta(v)
		}
		parent.mu.RUnlock()
	}
	for k, v := range own {
		s.values[k] = deepCopyMeta(v)
	}
	return s
}

// deepCopyMeta copies maps and slices recursively. Funcs and every other
// value travel by reference so identity semantics survive the merge.
func deepCopyMeta(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, item := range tv {
			out[k] = deepCopyMeta(item)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = deepCopyMeta(item)
		}
		return out
	case []string:
		return append([]string(nil), tv...)
	default:
		return v
	}
}
