package command

import (
	"context"
	"strconv"
	"time"

	"github.com/nishisan-dev/redis-lite/internal/resp"
)

// execWait implements WAIT numreplicas timeout_ms (spec.md §4.E). Never
// flagged IsWrite and never wrapped in DispatchLock by the Connection FSM,
// since it can legitimately suspend the caller for up to timeout_ms and
// must not hold the same lock every other connection's writes need.
func execWait(ctx context.Context, ec *ExecContext, args []string) resp.Value {
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return resp.Err("ERR value is not an integer or out of range")
	}
	timeoutMs, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || timeoutMs < 0 {
		return resp.Err("ERR timeout is not an integer or out of range")
	}
	if noBlockRequested(ctx) {
		return resp.Integer(int64(ec.Replication.AckedCount()))
	}
	count := ec.Replication.Wait(ctx, n, time.Duration(timeoutMs)*time.Millisecond)
	return resp.Integer(int64(count))
}

// execInfo implements INFO [section]. Only the replication section exists
// so far (SPEC_FULL §10); any requested section name returns the same body.
func execInfo(_ context.Context, ec *ExecContext, _ []string) resp.Value {
	return resp.BulkStringFrom(ec.Replication.InfoText())
}
