package command

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/nishisan-dev/redis-lite/internal/resp"
	"github.com/nishisan-dev/redis-lite/internal/store"
)

func execXAdd(_ context.Context, ec *ExecContext, args []string) resp.Value {
	key, idSpec := args[0], args[1]
	rest := args[2:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return resp.Err("ERR wrong number of arguments for 'xadd' command")
	}
	fields := make([]store.Field, 0, len(rest)/2)
	for i := 0; i < len(rest); i += 2 {
		fields = append(fields, store.Field{Name: rest[i], Value: rest[i+1]})
	}

	id, err := ec.Store.XAdd(key, idSpec, fields, ec.Clock.NowWallMs())
	if err != nil {
		return resp.Err(err.Error())
	}
	ec.Waiters.NotifyAll(key)
	return resp.BulkStringFrom(id.String())
}

func execXRange(_ context.Context, ec *ExecContext, args []string) resp.Value {
	entries, err := ec.Store.XRange(args[0], args[1], args[2])
	if err != nil {
		return resp.Err(err.Error())
	}
	return resp.NewArray(entriesToReply(entries)...)
}

func entriesToReply(entries []store.StreamEntry) []resp.Value {
	out := make([]resp.Value, len(entries))
	for i, e := range entries {
		out[i] = resp.NewArray(resp.BulkStringFrom(e.ID.String()), fieldsToReply(e.Fields))
	}
	return out
}

func fieldsToReply(fields []store.Field) resp.Value {
	items := make([]resp.Value, 0, len(fields)*2)
	for _, f := range fields {
		items = append(items, resp.BulkStringFrom(f.Name), resp.BulkStringFrom(f.Value))
	}
	return resp.NewArray(items...)
}

// resolveBaseline turns one XREAD id argument into the StreamID every new
// entry must exceed. "$" is resolved once, here, against the stream's
// current last_id (spec.md §4.B: "entries greater than current last_id at
// the time of the call; it does not match existing entries").
func resolveBaseline(ec *ExecContext, key, spec string) (store.StreamID, error) {
	if spec == "$" {
		last, _, err := ec.Store.StreamLastID(key)
		return last, err
	}
	return store.ParseStreamIDSpec(spec, store.StreamID{}, 0)
}

// xreadOnce evaluates every (key, baseline) pair and assembles the
// "STREAMS" reply for whichever ones have matching entries. Streams with no
// new entries are omitted, matching mainline Redis.
func xreadOnce(ec *ExecContext, keys []string, baselines []store.StreamID) (resp.Value, bool, error) {
	var streamReplies []resp.Value
	for i, key := range keys {
		entries, err := ec.Store.XReadAfter(key, baselines[i])
		if err != nil {
			return resp.Value{}, false, err
		}
		if len(entries) == 0 {
			continue
		}
		streamReplies = append(streamReplies, resp.NewArray(
			resp.BulkStringFrom(key), resp.NewArray(entriesToReply(entries)...),
		))
	}
	if len(streamReplies) == 0 {
		return resp.Value{}, false, nil
	}
	return resp.NewArray(streamReplies...), true, nil
}

// execXRead implements XREAD [BLOCK ms] STREAMS k1...kn id1...idn
// (spec.md §4.B, §4.C). On wake it re-evaluates using the original
// baselines captured before suspending, so entries added by any writer in
// the meantime satisfy the request.
func execXRead(ctx context.Context, ec *ExecContext, args []string) resp.Value {
	blockMs := int64(-1)
	rest := args
	if strings.EqualFold(args[0], "BLOCK") {
		if len(args) < 2 {
			return resp.Err("ERR syntax error")
		}
		ms, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || ms < 0 {
			return resp.Err("ERR timeout is not an integer or out of range")
		}
		blockMs = ms
		rest = args[2:]
	}
	if len(rest) < 3 || !strings.EqualFold(rest[0], "STREAMS") {
		return resp.Err("ERR syntax error")
	}
	rest = rest[1:]
	if len(rest)%2 != 0 {
		return resp.Err("ERR Unbalanced XREAD list of streams: for each stream key an ID or '$' must be specified.")
	}
	n := len(rest) / 2
	keys := rest[:n]

	baselines := make([]store.StreamID, n)
	for i, spec := range rest[n:] {
		id, err := resolveBaseline(ec, keys[i], spec)
		if err != nil {
			return resp.Err(err.Error())
		}
		baselines[i] = id
	}

	if v, matched, err := xreadOnce(ec, keys, baselines); err != nil {
		return resp.Err(err.Error())
	} else if matched {
		return v
	}

	if blockMs < 0 || noBlockRequested(ctx) {
		return resp.NullArray()
	}

	var deadline <-chan time.Time
	if blockMs > 0 {
		timer := time.NewTimer(time.Duration(blockMs) * time.Millisecond)
		defer timer.Stop()
		deadline = timer.C
	}

	check := func() (any, bool) {
		v, matched, err := xreadOnce(ec, keys, baselines)
		if err != nil || !matched {
			return nil, false
		}
		return v, true
	}

	h := ec.Waiters.Register(keys, check)
	defer h.Cancel()

	select {
	case <-h.Woken():
		v, ok := h.Result().(resp.Value)
		if !ok {
			return resp.NullArray()
		}
		return v
	case <-deadline:
		return resp.NullArray()
	case <-ctx.Done():
		return resp.NullArray()
	}
}

func execXInfo(_ context.Context, ec *ExecContext, args []string) resp.Value {
	if !strings.EqualFold(args[0], "STREAM") {
		return resp.Err("ERR syntax error")
	}
	info, err := ec.Store.XInfoStream(args[1])
	if err != nil {
		return resp.Err(err.Error())
	}
	return resp.NewArray(
		resp.BulkStringFrom("length"), resp.Integer(int64(info.Length)),
		resp.BulkStringFrom("last-generated-id"), resp.BulkStringFrom(info.LastGeneratedID.String()),
		resp.BulkStringFrom("first-entry"), entryOrNull(info.FirstEntry),
		resp.BulkStringFrom("last-entry"), entryOrNull(info.LastEntry),
	)
}

func entryOrNull(e *store.StreamEntry) resp.Value {
	if e == nil {
		return resp.NullArray()
	}
	return resp.NewArray(resp.BulkStringFrom(e.ID.String()), fieldsToReply(e.Fields))
}
