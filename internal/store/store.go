package store

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/nishisan-dev/redis-lite/internal/clock"
)

// Store is the process-wide key namespace (spec.md §3). It is reached by
// explicit reference rather than ambient global lookup (spec.md §9 "Design
// Notes"), so tests can inject an alternate Store. All methods are
// goroutine-safe; a single mutex guards the whole map, matching the
// single-writer-at-a-time invariant spec.md §5 describes for a cooperative
// scheduler.
type Store struct {
	mu    sync.Mutex
	data  map[string]*Value
	clock clock.Clock
}

// New creates an empty Store using clk as its time source.
func New(clk clock.Clock) *Store {
	return &Store{data: make(map[string]*Value), clock: clk}
}

// lockedGet returns the live value at key, deleting it first if it is an
// expired string (spec.md §3: "Expired string keys are treated as absent on
// read; they are removed lazily on access"). Caller must hold mu.
func (s *Store) lockedGet(key string) (*Value, bool) {
	v, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if v.Kind == KindString && v.HasTTL && v.ExpiresAt <= s.clock.NowMonotonicMs() {
		delete(s.data, key)
		return nil, false
	}
	return v, true
}

func wrongType(key string, has Kind) error {
	return &WrongTypeError{Key: key, Has: has}
}

// TypeOf implements TYPE k.
func (s *Store) TypeOf(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lockedGet(key)
	if !ok {
		return "none"
	}
	return v.Kind.String()
}

// Get implements GET k.
func (s *Store) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lockedGet(key)
	if !ok {
		return nil, false, nil
	}
	if v.Kind != KindString {
		return nil, false, wrongType(key, v.Kind)
	}
	return v.Bytes, true, nil
}

// Set implements SET k v [EX|PX]. expiresAt is an absolute monotonic-ms
// deadline; hasTTL=false means no TTL (any prior TTL is cleared, per
// spec.md §4.B: "clears any prior TTL unless a new one is given").
func (s *Store) Set(key string, val []byte, hasTTL bool, expiresAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = &Value{
		Kind:      KindString,
		Bytes:     val,
		HasTTL:    hasTTL,
		ExpiresAt: expiresAt,
	}
}

// Incr implements INCR k.
func (s *Store) Incr(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lockedGet(key)
	if !ok {
		s.data[key] = &Value{Kind: KindString, Bytes: []byte("1")}
		return 1, nil
	}
	if v.Kind != KindString {
		return 0, wrongType(key, v.Kind)
	}
	n, err := strconv.ParseInt(string(v.Bytes), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ERR value is not an integer or out of range")
	}
	n++
	v.Bytes = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

// push implements LPUSH/RPUSH. front selects prepend vs append; elems are
// inserted in argument order. Returns the new length.
func (s *Store) push(key string, elems [][]byte, front bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lockedGet(key)
	if !ok {
		v = &Value{Kind: KindList}
		s.data[key] = v
	} else if v.Kind != KindList {
		return 0, wrongType(key, v.Kind)
	}
	if front {
		// LPUSH a b c -> list is [c, b, a, ...existing]
		for _, e := range elems {
			v.List = append([][]byte{e}, v.List...)
		}
	} else {
		v.List = append(v.List, elems...)
	}
	return len(v.List), nil
}

// LPush implements LPUSH k e....
func (s *Store) LPush(key string, elems ...[]byte) (int, error) { return s.push(key, elems, true) }

// RPush implements RPUSH k e....
func (s *Store) RPush(key string, elems ...[]byte) (int, error) { return s.push(key, elems, false) }

// LPop implements LPOP k: pops the head, deleting the key if the list
// becomes empty (spec.md §3 invariant: "lists must never be empty").
func (s *Store) LPop(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lockedGet(key)
	if !ok {
		return nil, false, nil
	}
	if v.Kind != KindList {
		return nil, false, wrongType(key, v.Kind)
	}
	elem := v.List[0]
	v.List = v.List[1:]
	if len(v.List) == 0 {
		delete(s.data, key)
	}
	return elem, true, nil
}

// LLen implements LLEN k.
func (s *Store) LLen(key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lockedGet(key)
	if !ok {
		return 0, nil
	}
	if v.Kind != KindList {
		return 0, wrongType(key, v.Kind)
	}
	return len(v.List), nil
}

// LRange implements LRANGE k start stop with Redis's inclusive,
// negative-from-end indexing.
func (s *Store) LRange(key string, start, stop int) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lockedGet(key)
	if !ok {
		return nil, nil
	}
	if v.Kind != KindList {
		return nil, wrongType(key, v.Kind)
	}
	n := len(v.List)
	start = normalizeIndex(start, n)
	stop = normalizeIndex(stop, n)
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return [][]byte{}, nil
	}
	out := make([][]byte, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		out = append(out, v.List[i])
	}
	return out, nil
}

func normalizeIndex(i, n int) int {
	if i < 0 {
		return n + i
	}
	return i
}

// TryPopFirstNonEmpty tries keys in order and pops the head of the first
// non-empty list, returning which key was popped. Used by BLPOP both for
// its immediate check and for its wake-on-notify re-evaluation (spec.md
// §4.B, §4.C).
func (s *Store) TryPopFirstNonEmpty(keys []string) (key string, elem []byte, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		v, exists := s.lockedGet(k)
		if !exists {
			continue
		}
		if v.Kind != KindList {
			return "", nil, false, wrongType(k, v.Kind)
		}
		if len(v.List) == 0 {
			continue
		}
		e := v.List[0]
		v.List = v.List[1:]
		if len(v.List) == 0 {
			delete(s.data, k)
		}
		return k, e, true, nil
	}
	return "", nil, false, nil
}

// Snapshot returns a shallow copy of all keys and their Kind, for
// diagnostics (INFO-style reporting) and tests. It does not mutate TTLs.
func (s *Store) Snapshot() map[string]Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Kind, len(s.data))
	for k, v := range s.data {
		out[k] = v.Kind
	}
	return out
}

// Len returns the number of live keys (ignoring lazy TTL expiry of entries
// nobody has read yet — matching spec.md's "no scheduled sweeper" design).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
