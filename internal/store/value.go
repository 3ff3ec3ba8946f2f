// Package store implements the typed in-memory key namespace: strings with
// lazy TTL expiry, lists, and append-only streams (spec.md §3, §4.B).
package store

import "fmt"

// Kind tags which variant a Value holds.
type Kind int

const (
	KindString Kind = iota
	KindList
	KindStream
)

// String returns the RESP-visible type name used by TYPE and WRONGTYPE text.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindStream:
		return "stream"
	default:
		return "none"
	}
}

// Value is the tagged variant stored at each key (spec.md §3). Exactly one
// of the payload fields is meaningful, selected by Kind.
type Value struct {
	Kind Kind

	// KindString
	Bytes     []byte
	ExpiresAt int64 // monotonic ms; read only when HasTTL is true
	HasTTL    bool

	// KindList
	List [][]byte

	// KindStream
	Stream *Stream
}

// StreamID is a totally ordered (ms, seq) pair, rendered "ms-seq" (spec.md §3).
type StreamID struct {
	Ms  uint64
	Seq uint64
}

// Less reports whether id sorts strictly before other.
func (id StreamID) Less(other StreamID) bool {
	if id.Ms != other.Ms {
		return id.Ms < other.Ms
	}
	return id.Seq < other.Seq
}

// Compare returns -1, 0, or 1 the way bytes.Compare does.
func (id StreamID) Compare(other StreamID) int {
	switch {
	case id.Ms < other.Ms:
		return -1
	case id.Ms > other.Ms:
		return 1
	case id.Seq < other.Seq:
		return -1
	case id.Seq > other.Seq:
		return 1
	default:
		return 0
	}
}

// String renders the canonical "ms-seq" form.
func (id StreamID) String() string {
	return fmt.Sprintf("%d-%d", id.Ms, id.Seq)
}

// Field is one (name, value) pair of a stream entry, order-preserving.
type Field struct {
	Name  string
	Value string
}

// StreamEntry is one appended record (spec.md §3).
type StreamEntry struct {
	ID     StreamID
	Fields []Field
}

// Stream is an append-only log of entries with a monotonically increasing
// LastID (spec.md §3).
type Stream struct {
	Entries []StreamEntry
	LastID  StreamID
}

// WrongTypeError is returned whenever a command assumes a Kind that a key's
// stored Value does not have (spec.md §3 invariant 2).
type WrongTypeError struct {
	Key string
	Has Kind
}

func (e *WrongTypeError) Error() string {
	return "WRONGTYPE Operation against a key holding the wrong kind of value"
}
