package store

import (
	"fmt"
	"strconv"
	"strings"
)

// errXAddIDTooSmall is the bit-exact error text spec.md §6 requires.
var errXAddIDTooSmall = fmt.Errorf("ERR The ID specified in XADD is equal or smaller than the target stream top item")

// ParseStreamIDSpec interprets an XADD id argument: a literal "ms-seq", a
// "ms-*" auto-sequence form, or the bare "*" auto-everything form (spec.md
// §4.B). last is the stream's current LastID (zero value if the stream is
// new); nowWallMs is used only for the "*" form.
func ParseStreamIDSpec(spec string, last StreamID, nowWallMs int64) (StreamID, error) {
	if spec == "*" {
		ms := uint64(nowWallMs)
		seq := uint64(0)
		if ms == last.Ms {
			seq = last.Seq + 1
		} else if ms < last.Ms {
			// Clock went backwards relative to the last stored id; force
			// strict monotonicity by riding on the same ms with seq+1.
			ms = last.Ms
			seq = last.Seq + 1
		}
		return StreamID{Ms: ms, Seq: seq}, nil
	}

	parts := strings.SplitN(spec, "-", 2)
	ms, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return StreamID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}

	if len(parts) == 1 {
		return StreamID{Ms: ms, Seq: 0}, nil
	}

	if parts[1] == "*" {
		seq := uint64(0)
		if ms == last.Ms {
			seq = last.Seq + 1
		}
		return StreamID{Ms: ms, Seq: seq}, nil
	}

	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return StreamID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	return StreamID{Ms: ms, Seq: seq}, nil
}

// XAdd implements XADD k id field value .... idSpec is the raw id argument
// as received on the wire (already validated to have an even number of
// field/value args by the caller). Returns the assigned id.
func (s *Store) XAdd(key, idSpec string, fields []Field, nowWallMs int64) (StreamID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.lockedGet(key)
	if !ok {
		v = &Value{Kind: KindStream, Stream: &Stream{}}
		s.data[key] = v
	} else if v.Kind != KindStream {
		return StreamID{}, wrongType(key, v.Kind)
	}

	id, err := ParseStreamIDSpec(idSpec, v.Stream.LastID, nowWallMs)
	if err != nil {
		return StreamID{}, err
	}
	// last_id starts at the zero value for a new stream, so the very first
	// entry must itself be strictly greater than 0-0 — matching Redis.
	if id.Compare(v.Stream.LastID) <= 0 {
		return StreamID{}, errXAddIDTooSmall
	}

	v.Stream.Entries = append(v.Stream.Entries, StreamEntry{ID: id, Fields: fields})
	v.Stream.LastID = id
	return id, nil
}

// parseRangeBound parses an XRANGE bound: "-" means the smallest possible
// id, "+" the largest, otherwise a literal id (ms or ms-seq).
func parseRangeBound(s string, isStart bool) (StreamID, error) {
	switch s {
	case "-":
		return StreamID{Ms: 0, Seq: 0}, nil
	case "+":
		return StreamID{Ms: ^uint64(0), Seq: ^uint64(0)}, nil
	}
	parts := strings.SplitN(s, "-", 2)
	ms, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return StreamID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	seq := uint64(0)
	if !isStart {
		seq = ^uint64(0)
	}
	if len(parts) == 2 {
		seq, err = strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return StreamID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
		}
	}
	return StreamID{Ms: ms, Seq: seq}, nil
}

// XRange implements XRANGE k start end (inclusive bounds).
func (s *Store) XRange(key, startSpec, endSpec string) ([]StreamEntry, error) {
	start, err := parseRangeBound(startSpec, true)
	if err != nil {
		return nil, err
	}
	end, err := parseRangeBound(endSpec, false)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lockedGet(key)
	if !ok {
		return []StreamEntry{}, nil
	}
	if v.Kind != KindStream {
		return nil, wrongType(key, v.Kind)
	}

	out := []StreamEntry{}
	for _, e := range v.Stream.Entries {
		if e.ID.Compare(start) >= 0 && e.ID.Compare(end) <= 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

// XReadAfter collects entries with id strictly greater than after, for
// XREAD's per-stream baseline comparison (spec.md §4.B).
func (s *Store) XReadAfter(key string, after StreamID) ([]StreamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lockedGet(key)
	if !ok {
		return nil, nil
	}
	if v.Kind != KindStream {
		return nil, wrongType(key, v.Kind)
	}
	var out []StreamEntry
	for _, e := range v.Stream.Entries {
		if e.ID.Compare(after) > 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

// StreamLastID returns the stream's current last id, used to resolve the
// XREAD "$" baseline (spec.md §4.B) at call time. ok is false if the key is
// absent (treated as the zero id) or not a stream.
func (s *Store) StreamLastID(key string) (StreamID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lockedGet(key)
	if !ok {
		return StreamID{}, false, nil
	}
	if v.Kind != KindStream {
		return StreamID{}, false, wrongType(key, v.Kind)
	}
	return v.Stream.LastID, true, nil
}

// StreamInfo is the stream metadata XInfoStream returns for XINFO STREAM k.
type StreamInfo struct {
	Length         int
	LastGeneratedID StreamID
	FirstEntry     *StreamEntry
	LastEntry      *StreamEntry
}

func (s *Store) XInfoStream(key string) (StreamInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lockedGet(key)
	if !ok {
		return StreamInfo{}, fmt.Errorf("ERR no such key")
	}
	if v.Kind != KindStream {
		return StreamInfo{}, wrongType(key, v.Kind)
	}
	info := StreamInfo{
		Length:          len(v.Stream.Entries),
		LastGeneratedID: v.Stream.LastID,
	}
	if n := len(v.Stream.Entries); n > 0 {
		first := v.Stream.Entries[0]
		last := v.Stream.Entries[n-1]
		info.FirstEntry = &first
		info.LastEntry = &last
	}
	return info, nil
}
