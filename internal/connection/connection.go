// Package connection implements the per-connection FSM (spec.md §4.D):
// dispatch sequence, MULTI/EXEC/DISCARD transaction queueing, and promotion
// to the replica role via REPLCONF/PSYNC.
package connection

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/nishisan-dev/redis-lite/internal/command"
	"github.com/nishisan-dev/redis-lite/internal/replication"
	"github.com/nishisan-dev/redis-lite/internal/resp"
)

// role distinguishes an ordinary client connection from one promoted to a
// replica via the PSYNC handshake (spec.md §4.E).
type role int

const (
	roleClient role = iota
	roleReplica
)

// mode is the transaction-queueing half of the FSM (spec.md §4.D).
type mode int

const (
	modeNormal mode = iota
	modeQueuing
)

// queued is one command held in a MULTI/EXEC transaction's queue.
type queued struct {
	name string
	args []string
}

// Conn owns one client connection's entire lifetime: reading frames,
// running them through the FSM, writing replies, and (once promoted)
// forwarding propagated writes from the Replica Manager.
type Conn struct {
	net    net.Conn
	parser *resp.Parser
	w      *bufio.Writer
	logger *slog.Logger

	catalog *command.Catalog
	ec      *command.ExecContext

	mode     mode
	poisoned bool
	queue    []queued

	role          role
	listeningPort int
	replicaRec    *replication.ReplicaRecord
}

// New wraps conn for one client's lifetime.
func New(conn net.Conn, catalog *command.Catalog, ec *command.ExecContext, logger *slog.Logger) *Conn {
	return &Conn{
		net:     conn,
		parser:  resp.NewParser(conn, resp.DefaultMaxBulkLen),
		w:       bufio.NewWriter(conn),
		logger:  logger.With("remote", conn.RemoteAddr().String()),
		catalog: catalog,
		ec:      ec,
	}
}

// Serve runs the read/dispatch/reply loop (spec.md §4.D dispatch sequence)
// until the client disconnects, a protocol error occurs, or ctx is done.
func (c *Conn) Serve(ctx context.Context) {
	defer c.cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		args, err := c.parser.ParseCommand()
		if err != nil {
			if !isCleanDisconnect(err) {
				c.w.Write(resp.Encode(resp.Err("ERR Protocol error")))
				c.w.Flush()
				c.logger.Debug("protocol error, closing connection", "error", err)
			}
			return
		}
		if len(args) == 0 {
			continue
		}

		if c.role == roleReplica {
			c.handleReplicaFrame(args)
			continue
		}

		c.dispatch(ctx, args)
		if err := c.w.Flush(); err != nil {
			c.logger.Debug("flushing reply", "error", err)
			return
		}
	}
}

// isCleanDisconnect reports whether err is the ordinary "client closed the
// socket" case rather than genuinely malformed RESP. The parser wraps every
// read failure (EOF included) in ErrProtocol, so an EOF-flavored cause is
// distinguished by unwrapping instead of a bit-exact sentinel match.
func isCleanDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), io.EOF.Error())
}

func (c *Conn) cleanup() {
	c.net.Close()
	if c.replicaRec != nil {
		c.ec.Replication.RemoveReplica(c.replicaRec.ID)
	}
}

// dispatch implements spec.md §4.D's numbered sequence for one already-read
// frame: lookup, arity validation, FSM routing, execute, reply.
func (c *Conn) dispatch(ctx context.Context, args []string) {
	name := strings.ToUpper(args[0])
	cmdArgs := args[1:]

	cmd, ok := c.catalog.Lookup(name)
	if !ok {
		c.replyUnknownCommand(args[0])
		return
	}

	if err := command.ValidateArity(cmd, cmdArgs); err != nil {
		if c.mode == modeQueuing && !cmd.IsTransactionControl {
			c.poisoned = true
		}
		c.reply(resp.Err(err.Error()))
		return
	}

	switch name {
	case "MULTI":
		c.handleMulti()
		return
	case "EXEC":
		c.handleExec(ctx)
		return
	case "DISCARD":
		c.handleDiscard()
		return
	case "REPLCONF":
		c.handleReplconf(cmdArgs)
		return
	case "PSYNC":
		c.handlePsync(cmdArgs)
		return
	}

	if c.mode == modeQueuing {
		c.queue = append(c.queue, queued{name: name, args: cmdArgs})
		c.reply(resp.SimpleString("QUEUED"))
		return
	}

	c.reply(c.executeAndPropagate(ctx, cmd, name, cmdArgs))
}

func (c *Conn) replyUnknownCommand(name string) {
	if c.mode == modeQueuing {
		c.poisoned = true
	}
	c.reply(resp.Err(fmt.Sprintf("ERR unknown command '%s'", name)))
}

func (c *Conn) reply(v resp.Value) {
	c.w.Write(resp.Encode(v))
}

// executeAndPropagate runs cmd and, if it is a write that succeeded,
// forwards a normalized (upper-cased name) RESP frame to every replica
// before releasing DispatchLock. The lock is taken only for IsWrite
// commands: non-write commands (including the blocking BLPOP, XREAD
// BLOCK, and WAIT) run unlocked, since a blocking executor can suspend the
// calling goroutine indefinitely and the only thing able to wake it — a
// write on another connection — needs this same lock to run. Holding the
// lock across execute+propagate for writes is what gives replication its
// promised total order (spec.md §4.E, §5).
func (c *Conn) executeAndPropagate(ctx context.Context, cmd command.Command, name string, args []string) resp.Value {
	if !cmd.IsWrite {
		return cmd.Executor(ctx, c.ec, args)
	}

	c.ec.DispatchLock.Lock()
	defer c.ec.DispatchLock.Unlock()

	reply := cmd.Executor(ctx, c.ec, args)
	if reply.Type != resp.TypeError {
		c.ec.Replication.Propagate(resp.EncodeCommand(append([]string{name}, args...)...))
	}
	return reply
}

// handleMulti implements spec.md §4.D's Normal+MULTI transition.
func (c *Conn) handleMulti() {
	if c.mode == modeQueuing {
		c.reply(resp.Err("ERR MULTI calls can not be nested"))
		return
	}
	c.mode = modeQueuing
	c.queue = nil
	c.poisoned = false
	c.reply(resp.SimpleString("OK"))
}

// handleDiscard implements spec.md §4.D's Queuing+DISCARD transition.
func (c *Conn) handleDiscard() {
	if c.mode != modeQueuing {
		c.reply(resp.Err("ERR DISCARD without MULTI"))
		return
	}
	c.mode = modeNormal
	c.queue = nil
	c.poisoned = false
	c.reply(resp.SimpleString("OK"))
}

// handleExec implements spec.md §4.D's Queuing+EXEC transition: every
// queued command executes in order, each reply collected into one array,
// all resulting write propagations happening as a single ordered unit.
// The whole replay runs under DispatchLock, which is only safe because
// ctx is marked WithNoBlock first: BLPOP, XREAD BLOCK, and WAIT honor
// that marker by returning immediately instead of registering a waiter
// and suspending, so nothing inside the locked replay can ever block on
// another connection (matching real Redis's "blocking commands never
// actually block inside MULTI" rule).
func (c *Conn) handleExec(ctx context.Context) {
	if c.mode != modeQueuing {
		c.reply(resp.Err("ERR EXEC without MULTI"))
		return
	}
	queue := c.queue
	poisoned := c.poisoned
	c.mode = modeNormal
	c.queue = nil
	c.poisoned = false

	if poisoned {
		c.reply(resp.Err("EXECABORT Transaction discarded because of previous errors."))
		return
	}

	ctx = command.WithNoBlock(ctx)

	c.ec.DispatchLock.Lock()
	defer c.ec.DispatchLock.Unlock()

	replies := make([]resp.Value, len(queue))
	for i, q := range queue {
		cmd, _ := c.catalog.Lookup(q.name) // queued only after a successful lookup+arity check
		reply := cmd.Executor(ctx, c.ec, q.args)
		replies[i] = reply
		if cmd.IsWrite && reply.Type != resp.TypeError {
			c.ec.Replication.Propagate(resp.EncodeCommand(append([]string{q.name}, q.args...)...))
		}
	}
	c.reply(resp.NewArray(replies...))
}

// handleReplconf implements the REPLCONF half of the handshake (spec.md
// §4.E) for a connection not yet promoted: listening-port is recorded, and
// every subcommand acknowledges with +OK, matching real Redis tolerance for
// subcommands it doesn't specially interpret. REPLCONF ACK from an already
// promoted replica is handled by handleReplicaFrame instead.
func (c *Conn) handleReplconf(args []string) {
	if len(args) >= 1 && strings.EqualFold(args[0], "listening-port") && len(args) >= 2 {
		if p, err := strconv.Atoi(args[1]); err == nil {
			c.listeningPort = p
		}
	}
	c.reply(resp.SimpleString("OK"))
}

// handleReplicaFrame processes frames arriving on an already-promoted
// replica connection: only REPLCONF ACK <offset> is expected.
func (c *Conn) handleReplicaFrame(args []string) {
	if len(args) == 3 && strings.EqualFold(args[0], "REPLCONF") && strings.EqualFold(args[1], "ACK") {
		offset, err := strconv.ParseInt(args[2], 10, 64)
		if err == nil && c.replicaRec != nil {
			c.ec.Replication.UpdateAck(c.replicaRec.ID, offset)
		}
	}
}

// handlePsync implements PSYNC <replid|?> <offset|-1>: always answers with
// a full resync (no partial-resync support, spec.md §4.E), then promotes
// the connection to the replica role. No reply is written through the
// normal path since FullResync writes its own framed response directly.
func (c *Conn) handlePsync(_ []string) {
	if err := c.w.Flush(); err != nil {
		return
	}
	rec, err := c.ec.Replication.FullResync(c.net, c.listeningPort)
	if err != nil {
		c.logger.Error("full resync failed", "error", err)
		return
	}
	c.replicaRec = rec
	c.role = roleReplica
	c.logger.Info("connection promoted to replica", "listening_port", c.listeningPort)
}
