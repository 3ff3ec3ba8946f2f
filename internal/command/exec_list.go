package command

import (
	"context"
	"strconv"
	"time"

	"github.com/nishisan-dev/redis-lite/internal/resp"
)

func toByteSlice(args []string) [][]byte {
	out := make([][]byte, len(args))
	for i, a := range args {
		out[i] = []byte(a)
	}
	return out
}

func execLPush(_ context.Context, ec *ExecContext, args []string) resp.Value {
	key, elems := args[0], args[1:]
	n, err := ec.Store.LPush(key, toByteSlice(elems)...)
	if err != nil {
		return resp.Err(err.Error())
	}
	wakeListWaiters(ec, key, len(elems))
	return resp.Integer(int64(n))
}

func execRPush(_ context.Context, ec *ExecContext, args []string) resp.Value {
	key, elems := args[0], args[1:]
	n, err := ec.Store.RPush(key, toByteSlice(elems)...)
	if err != nil {
		return resp.Err(err.Error())
	}
	wakeListWaiters(ec, key, len(elems))
	return resp.Integer(int64(n))
}

// wakeListWaiters gives every freshly pushed element a chance to satisfy one
// queued BLPOP, in FIFO order, one Notify call per element (spec.md §8
// "Waiter FIFO fairness").
func wakeListWaiters(ec *ExecContext, key string, count int) {
	for i := 0; i < count; i++ {
		if !ec.Waiters.Notify(key) {
			return
		}
	}
}

func execLPop(_ context.Context, ec *ExecContext, args []string) resp.Value {
	elem, ok, err := ec.Store.LPop(args[0])
	if err != nil {
		return resp.Err(err.Error())
	}
	if !ok {
		return resp.NullBulk()
	}
	return resp.BulkStringFrom(string(elem))
}

func execLRange(_ context.Context, ec *ExecContext, args []string) resp.Value {
	start, err := strconv.Atoi(args[1])
	if err != nil {
		return resp.Err("ERR value is not an integer or out of range")
	}
	stop, err := strconv.Atoi(args[2])
	if err != nil {
		return resp.Err("ERR value is not an integer or out of range")
	}
	elems, err := ec.Store.LRange(args[0], start, stop)
	if err != nil {
		return resp.Err(err.Error())
	}
	items := make([]resp.Value, len(elems))
	for i, e := range elems {
		items[i] = resp.BulkStringFrom(string(e))
	}
	return resp.NewArray(items...)
}

func execLLen(_ context.Context, ec *ExecContext, args []string) resp.Value {
	n, err := ec.Store.LLen(args[0])
	if err != nil {
		return resp.Err(err.Error())
	}
	return resp.Integer(int64(n))
}

// execBLPop implements BLPOP k1...kn timeout (spec.md §4.B, §4.C). timeout is
// a monotonic-ms deadline, 0 meaning no deadline (spec.md §5 "Timeouts are
// expressed in monotonic-ms deadlines").
//
// BLPOP is not flagged IsWrite: the Connection FSM never wraps it in
// DispatchLock, since a waiting BLPOP must not hold the same lock the
// RPUSH/LPUSH that would wake it needs to run. Instead, whenever this
// executor actually pops an element — immediately or after being woken —
// it takes DispatchLock itself for just long enough to propagate a
// rewritten LPOP <key> frame, never across the wait itself. Inside an EXEC
// replay (ctx marked WithNoBlock) the lock is already held by the caller,
// so the LPOP frame is propagated without taking it again. A replica
// replaying the propagation stream sees a plain LPOP, never a BLPOP it
// would otherwise block on.
func execBLPop(ctx context.Context, ec *ExecContext, args []string) resp.Value {
	keys := args[:len(args)-1]
	timeoutMs, err := strconv.ParseInt(args[len(args)-1], 10, 64)
	if err != nil || timeoutMs < 0 {
		return resp.Err("ERR timeout is not an integer or out of range")
	}

	if v, key, ok, err := popReply(ec, keys); err != nil {
		return resp.Err(err.Error())
	} else if ok {
		if noBlockRequested(ctx) {
			// Replayed inside EXEC, whose caller already holds DispatchLock.
			ec.Replication.Propagate(resp.EncodeCommand("LPOP", key))
		} else {
			propagatePop(ec, key)
		}
		return v
	}

	if noBlockRequested(ctx) {
		return resp.NullArray()
	}

	var deadline <-chan time.Time
	if timeoutMs > 0 {
		timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer timer.Stop()
		deadline = timer.C
	}

	check := func() (any, bool) {
		key, elem, ok, err := ec.Store.TryPopFirstNonEmpty(keys)
		if err != nil || !ok {
			return nil, false
		}
		return [2]string{key, string(elem)}, true
	}

	h := ec.Waiters.Register(keys, check)
	defer h.Cancel()

	select {
	case <-h.Woken():
		pair, ok := h.Result().([2]string)
		if !ok {
			return resp.NullArray()
		}
		propagatePop(ec, pair[0])
		return resp.NewArray(resp.BulkStringFrom(pair[0]), resp.BulkStringFrom(pair[1]))
	case <-deadline:
		return resp.NullArray()
	case <-ctx.Done():
		return resp.NullArray()
	}
}

// propagatePop forwards a rewritten "LPOP key" frame to replicas, taking
// DispatchLock only for the duration of the propagate call itself.
func propagatePop(ec *ExecContext, key string) {
	ec.DispatchLock.Lock()
	defer ec.DispatchLock.Unlock()
	ec.Replication.Propagate(resp.EncodeCommand("LPOP", key))
}

func popReply(ec *ExecContext, keys []string) (resp.Value, string, bool, error) {
	key, elem, ok, err := ec.Store.TryPopFirstNonEmpty(keys)
	if err != nil {
		return resp.Value{}, "", false, err
	}
	if !ok {
		return resp.Value{}, "", false, nil
	}
	return resp.NewArray(resp.BulkStringFrom(key), resp.BulkStringFrom(string(elem))), key, true, nil
}
