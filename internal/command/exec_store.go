package command

import (
	"context"
	"strconv"
	"strings"

	"github.com/nishisan-dev/redis-lite/internal/resp"
)

func execPing(_ context.Context, _ *ExecContext, args []string) resp.Value {
	if len(args) == 1 {
		return resp.BulkStringFrom(args[0])
	}
	return resp.SimpleString("PONG")
}

func execEcho(_ context.Context, _ *ExecContext, args []string) resp.Value {
	return resp.BulkStringFrom(args[0])
}

func execType(_ context.Context, ec *ExecContext, args []string) resp.Value {
	return resp.SimpleString(ec.Store.TypeOf(args[0]))
}

func execGet(_ context.Context, ec *ExecContext, args []string) resp.Value {
	v, ok, err := ec.Store.Get(args[0])
	if err != nil {
		return resp.Err(err.Error())
	}
	if !ok {
		return resp.NullBulk()
	}
	return resp.BulkStringFrom(string(v))
}

// execSet implements SET k v [EX sec | PX ms] (spec.md §4.B).
func execSet(_ context.Context, ec *ExecContext, args []string) resp.Value {
	key, val := args[0], args[1]

	hasTTL := false
	var expiresAt int64
	if len(args) > 2 {
		if len(args) != 4 {
			return resp.Err("ERR syntax error")
		}
		n, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil || n <= 0 {
			return resp.Err("ERR value is not an integer or out of range")
		}
		switch strings.ToUpper(args[2]) {
		case "EX":
			hasTTL = true
			expiresAt = ec.Clock.NowMonotonicMs() + n*1000
		case "PX":
			hasTTL = true
			expiresAt = ec.Clock.NowMonotonicMs() + n
		default:
			return resp.Err("ERR syntax error")
		}
	}

	ec.Store.Set(key, []byte(val), hasTTL, expiresAt)
	return resp.SimpleString("OK")
}

func execIncr(_ context.Context, ec *ExecContext, args []string) resp.Value {
	n, err := ec.Store.Incr(args[0])
	if err != nil {
		return resp.Err(err.Error())
	}
	return resp.Integer(n)
}
