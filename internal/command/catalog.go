// Package command implements the Command Catalog (spec.md §4.D): named
// operations with arity, write-flag, and an executor bound to the shared
// Store, Waiter Registry, and Replica Manager singletons.
package command

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nishisan-dev/redis-lite/internal/clock"
	"github.com/nishisan-dev/redis-lite/internal/replication"
	"github.com/nishisan-dev/redis-lite/internal/resp"
	"github.com/nishisan-dev/redis-lite/internal/store"
	"github.com/nishisan-dev/redis-lite/internal/waiter"
)

// ExecContext bundles the process-wide singletons an executor may touch
// (spec.md §9 design notes: reached by explicit reference, not ambient
// global lookup).
type ExecContext struct {
	Store       *store.Store
	Waiters     *waiter.Registry
	Replication *replication.Manager
	Clock       clock.Clock

	// DispatchLock serializes execute-then-propagate strictly around
	// commands flagged IsWrite (and the writes inside one EXEC
	// transaction), standing in for spec.md §5's single-threaded
	// cooperative scheduler: without it, two real goroutines executing
	// concurrent writes could apply them to the Store in one order but
	// hand them to the Replica Manager in another, breaking "propagation
	// preserves the master's write order exactly". It must never be held
	// across a blocking executor (BLPOP, XREAD BLOCK, WAIT) — those
	// suspend the calling goroutine indefinitely, and the only thing that
	// can wake them (another connection's write) needs this same lock to
	// run. BLPOP is therefore not flagged IsWrite: its own successful pop
	// propagates an explicit rewritten LPOP frame, taking the lock only
	// for that brief propagate call, never across the wait.
	DispatchLock *sync.Mutex
}

// NewExecContext wires the shared singletons into one ExecContext, owning
// the DispatchLock every write command and EXEC transaction serializes on.
func NewExecContext(st *store.Store, waiters *waiter.Registry, repl *replication.Manager, clk clock.Clock) *ExecContext {
	return &ExecContext{
		Store:        st,
		Waiters:      waiters,
		Replication:  repl,
		Clock:        clk,
		DispatchLock: &sync.Mutex{},
	}
}

// Executor runs one command's logic against args (the frame's elements
// after the command name) and returns the RESP reply. ctx is the context
// the connection's Serve loop runs under; blocking commands (BLPOP, XREAD
// BLOCK, WAIT) return when it is cancelled. A client disconnect does not
// cancel it: a command parked on a disconnected client is released only by
// its timeout, a wake, or cancellation of that context.
type Executor func(ctx context.Context, ec *ExecContext, args []string) resp.Value

type noBlockKey struct{}

// WithNoBlock marks ctx so that BLPOP, XREAD BLOCK, and WAIT return
// immediately instead of registering a waiter and suspending. The
// Connection FSM applies this while replaying a queued EXEC transaction:
// real Redis never lets a blocking command actually block inside MULTI,
// and here it also matters operationally — EXEC replays its whole queue
// under DispatchLock, and a command that truly blocked there would wedge
// every other write on the process exactly like an un-flagged BLPOP would
// outside a transaction.
func WithNoBlock(ctx context.Context) context.Context {
	return context.WithValue(ctx, noBlockKey{}, true)
}

func noBlockRequested(ctx context.Context) bool {
	v, _ := ctx.Value(noBlockKey{}).(bool)
	return v
}

// Command is one catalog record (spec.md §4.D).
type Command struct {
	Name                 string
	MinArgs              int // number of args after the command name
	MaxArgs              int // -1 means unbounded
	IsWrite              bool
	IsTransactionControl bool
	Executor             Executor
}

// Catalog is the case-insensitive name -> Command lookup table.
type Catalog struct {
	commands map[string]Command
}

// NewCatalog builds the catalog of every operation spec.md §4.B and
// SPEC_FULL §10 name. MULTI, EXEC, DISCARD, REPLCONF, and PSYNC are
// registered here for arity metadata and case-insensitive lookup, but
// their execution is connection-state-shaping and is handled directly by
// the Connection FSM rather than through Executor (spec.md §4.D: they are
// dispatched "per FSM rules above", not via a uniform executor call).
func NewCatalog() *Catalog {
	c := &Catalog{commands: make(map[string]Command)}

	c.register(Command{Name: "PING", MinArgs: 0, MaxArgs: 1, Executor: execPing})
	c.register(Command{Name: "ECHO", MinArgs: 1, MaxArgs: 1, Executor: execEcho})
	c.register(Command{Name: "TYPE", MinArgs: 1, MaxArgs: 1, Executor: execType})
	c.register(Command{Name: "GET", MinArgs: 1, MaxArgs: 1, Executor: execGet})
	c.register(Command{Name: "SET", MinArgs: 2, MaxArgs: 4, IsWrite: true, Executor: execSet})
	c.register(Command{Name: "INCR", MinArgs: 1, MaxArgs: 1, IsWrite: true, Executor: execIncr})
	c.register(Command{Name: "LPUSH", MinArgs: 2, MaxArgs: -1, IsWrite: true, Executor: execLPush})
	c.register(Command{Name: "RPUSH", MinArgs: 2, MaxArgs: -1, IsWrite: true, Executor: execRPush})
	c.register(Command{Name: "LPOP", MinArgs: 1, MaxArgs: 1, IsWrite: true, Executor: execLPop})
	c.register(Command{Name: "LRANGE", MinArgs: 3, MaxArgs: 3, Executor: execLRange})
	c.register(Command{Name: "LLEN", MinArgs: 1, MaxArgs: 1, Executor: execLLen})
	c.register(Command{Name: "BLPOP", MinArgs: 2, MaxArgs: -1, Executor: execBLPop})
	c.register(Command{Name: "XADD", MinArgs: 4, MaxArgs: -1, IsWrite: true, Executor: execXAdd})
	c.register(Command{Name: "XRANGE", MinArgs: 3, MaxArgs: 3, Executor: execXRange})
	c.register(Command{Name: "XREAD", MinArgs: 3, MaxArgs: -1, Executor: execXRead})
	c.register(Command{Name: "XINFO", MinArgs: 2, MaxArgs: 2, Executor: execXInfo})
	c.register(Command{Name: "WAIT", MinArgs: 2, MaxArgs: 2, Executor: execWait})
	c.register(Command{Name: "INFO", MinArgs: 0, MaxArgs: 1, Executor: execInfo})

	c.register(Command{Name: "MULTI", MinArgs: 0, MaxArgs: 0, IsTransactionControl: true})
	c.register(Command{Name: "EXEC", MinArgs: 0, MaxArgs: 0, IsTransactionControl: true})
	c.register(Command{Name: "DISCARD", MinArgs: 0, MaxArgs: 0, IsTransactionControl: true})

	c.register(Command{Name: "REPLCONF", MinArgs: 2, MaxArgs: -1})
	c.register(Command{Name: "PSYNC", MinArgs: 2, MaxArgs: 2})

	return c
}

func (c *Catalog) register(cmd Command) {
	c.commands[cmd.Name] = cmd
}

// Lookup resolves a command name case-insensitively.
func (c *Catalog) Lookup(name string) (Command, bool) {
	cmd, ok := c.commands[strings.ToUpper(name)]
	return cmd, ok
}

// ValidateArity checks args (the frame's elements after the command name)
// against cmd's arity, returning the bit-exact error text spec.md §6
// specifies on mismatch.
func ValidateArity(cmd Command, args []string) error {
	if len(args) < cmd.MinArgs || (cmd.MaxArgs >= 0 && len(args) > cmd.MaxArgs) {
		return fmt.Errorf("ERR wrong number of arguments for '%s' command", strings.ToLower(cmd.Name))
	}
	return nil
}
