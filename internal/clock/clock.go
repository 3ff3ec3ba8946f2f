// Package clock provides the monotonic millisecond time source used for TTL
// expiry, blocking-read deadlines, and stream id generation. Tests inject a
// fake clock instead of depending on wall-clock time.
package clock

import "time"

// Clock yields monotonic milliseconds and wall-clock milliseconds.
//
// Monotonic time backs TTL and BLPOP/WAIT deadlines so that system clock
// adjustments never cause a premature or delayed expiry. Wall time backs
// stream ids, which are specified (spec.md §4.B, XADD) to track real time
// while still being forced strictly greater than the previous id.
type Clock interface {
	// NowMonotonicMs returns milliseconds since an arbitrary, fixed epoch.
	// Only differences between two calls are meaningful.
	NowMonotonicMs() int64
	// NowWallMs returns the current wall-clock time in Unix milliseconds.
	NowWallMs() int64
}

// System is the production Clock backed by time.Now's monotonic reading.
type System struct{}

var epoch = time.Now()

// NowMonotonicMs implements Clock.
func (System) NowMonotonicMs() int64 {
	return time.Since(epoch).Milliseconds()
}

// NowWallMs implements Clock.
func (System) NowWallMs() int64 {
	return time.Now().UnixMilli()
}

// Fake is a manually-advanced Clock for deterministic tests.
type Fake struct {
	MonoMs int64
	WallMs int64
}

// NowMonotonicMs implements Clock.
func (f *Fake) NowMonotonicMs() int64 { return f.MonoMs }

// NowWallMs implements Clock.
func (f *Fake) NowWallMs() int64 { return f.WallMs }

// Advance moves both readings forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.MonoMs += d.Milliseconds()
	f.WallMs += d.Milliseconds()
}
