// Package waiter implements the blocking waiter registry backing BLPOP and
// XREAD BLOCK (spec.md §4.C): a key -> FIFO queue of suspended client
// records, with a stable identifier standing in for each queue entry so
// that a single multi-key wait can be removed from every queue it touches
// by scanning each of its keys' queues for that identifier (spec.md §9
// design notes: "use a stable identifier... as the queue entry").
package waiter

import "sync"

// ID is the stable handle identifying one registered wait across every key
// queue it belongs to.
type ID uint64

// Check re-evaluates a waiter's original predicate against the current
// store state. It returns the result to hand back to the caller and
// whether the waiter is now satisfied. Notify calls this for each queued
// waiter in FIFO order and stops at the first one that is satisfied,
// leaving the rest queued (spec.md §4.C: "Not satisfied... leave in place
// and continue to next waiter").
type Check func() (result any, satisfied bool)

type entry struct {
	keys   []string
	check  Check
	result any
	woken  chan struct{}
	once   sync.Once
}

// Registry is the process-wide key -> waiter-queue mapping. The zero value
// is not usable; construct with New. All methods are goroutine-safe.
type Registry struct {
	mu      sync.Mutex
	nextID  ID
	queues  map[string][]ID
	waiters map[ID]*entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		queues:  make(map[string][]ID),
		waiters: make(map[ID]*entry),
	}
}

// Handle is returned by Register. It is the completion slot spec.md §9
// describes: the waiting task blocks on Woken(), the mutating task (via
// Notify) or a timeout/disconnect (via Cancel) fills it exactly once.
type Handle struct {
	id       ID
	registry *Registry
	e        *entry
}

// Woken returns a channel that closes exactly once, when this waiter is
// satisfied by Notify or removed by Cancel.
func (h *Handle) Woken() <-chan struct{} { return h.e.woken }

// Result returns the value produced by the Check function that satisfied
// this waiter. Meaningless (nil) if the handle was woken via Cancel
// instead of a successful Notify.
func (h *Handle) Result() any { return h.e.result }

// Register atomically enqueues a new waiter on every listed key, in
// argument order, preserving FIFO arrival order within each key's queue
// (spec.md §8 "Waiter FIFO fairness"). check is invoked by Notify to
// decide whether this waiter's predicate now holds; it must not block.
func (r *Registry) Register(keys []string, check Check) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	e := &entry{
		keys:  append([]string(nil), keys...),
		check: check,
		woken: make(chan struct{}),
	}
	r.waiters[id] = e
	for _, k := range keys {
		r.queues[k] = append(r.queues[k], id)
	}
	return &Handle{id: id, registry: r, e: e}
}

// Cancel removes the waiter from every key queue it is registered on and
// closes its Woken channel if it had not already fired. Safe to call after
// the waiter already woke (idempotent) — a timed-out or disconnecting
// caller always calls this to avoid leaking a stale queue entry.
func (h *Handle) Cancel() {
	h.registry.remove(h.id)
}

func (r *Registry) remove(id ID) {
	r.mu.Lock()
	e, ok := r.waiters[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.waiters, id)
	r.removeIDFromQueues(id, e.keys)
	r.mu.Unlock()
	e.once.Do(func() { close(e.woken) })
}

// Notify scans the FIFO queued on key in registration order, calling each
// waiter's Check until one reports satisfied=true; that waiter is removed
// from every queue it belongs to and woken with its result. Waiters whose
// Check reports false are left queued (spec.md §4.C). Returns whether any
// waiter was satisfied.
func (r *Registry) Notify(key string) bool {
	r.mu.Lock()
	ids := append([]ID(nil), r.queues[key]...)
	r.mu.Unlock()

	for _, id := range ids {
		r.mu.Lock()
		e, ok := r.waiters[id]
		r.mu.Unlock()
		if !ok {
			continue // already completed or cancelled concurrently
		}

		result, satisfied := e.check()
		if !satisfied {
			continue
		}

		r.mu.Lock()
		if _, stillQueued := r.waiters[id]; !stillQueued {
			r.mu.Unlock()
			continue
		}
		delete(r.waiters, id)
		r.removeIDFromQueues(id, e.keys)
		r.mu.Unlock()

		e.result = result
		e.once.Do(func() { close(e.woken) })
		return true
	}
	return false
}

func (r *Registry) removeIDFromQueues(id ID, keys []string) {
	for _, k := range keys {
		q := r.queues[k]
		for i, qid := range q {
			if qid == id {
				r.queues[k] = append(q[:i], q[i+1:]...)
				break
			}
		}
		if len(r.queues[k]) == 0 {
			delete(r.queues, k)
		}
	}
}

// NotifyAll repeatedly calls Notify on key until no further queued waiter
// is satisfied. Used by XADD: a single new entry may satisfy more than one
// blocked XREAD reader, each re-evaluating its own baseline.
func (r *Registry) NotifyAll(key string) {
	for r.Notify(key) {
	}
}

// Len reports how many waiters are currently queued on key. Diagnostic
// use (INFO-style reporting, tests) only.
func (r *Registry) Len(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues[key])
}
