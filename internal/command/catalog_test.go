package command

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nishisan-dev/redis-lite/internal/clock"
	"github.com/nishisan-dev/redis-lite/internal/replication"
	"github.com/nishisan-dev/redis-lite/internal/resp"
	"github.com/nishisan-dev/redis-lite/internal/store"
	"github.com/nishisan-dev/redis-lite/internal/waiter"
)

func newTestExecContext() (*ExecContext, *clock.Fake) {
	fake := &clock.Fake{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ec := NewExecContext(store.New(fake), waiter.New(), replication.New(time.Hour, 0, logger), fake)
	return ec, fake
}

// run looks up name, validates arity, and executes it, returning the raw
// reply. Test helper shared by every exec_*_test.go file in this package.
func run(ctx context.Context, ec *ExecContext, cat *Catalog, name string, args ...string) resp.Value {
	cmd, ok := cat.Lookup(name)
	if !ok {
		return resp.Err("ERR unknown command '" + name + "'")
	}
	if err := ValidateArity(cmd, args); err != nil {
		return resp.Err(err.Error())
	}
	return cmd.Executor(ctx, ec, args)
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	cat := NewCatalog()
	if _, ok := cat.Lookup("get"); !ok {
		t.Fatal("expected lowercase lookup to resolve")
	}
	if _, ok := cat.Lookup("GeT"); !ok {
		t.Fatal("expected mixed-case lookup to resolve")
	}
	if _, ok := cat.Lookup("nonexistent"); ok {
		t.Fatal("expected unknown command to miss")
	}
}

func TestValidateArityRejectsTooFewAndTooMany(t *testing.T) {
	cat := NewCatalog()
	get, _ := cat.Lookup("GET")
	if err := ValidateArity(get, nil); err == nil {
		t.Fatal("expected arity error for GET with no args")
	}
	if err := ValidateArity(get, []string{"a", "b"}); err == nil {
		t.Fatal("expected arity error for GET with two args")
	}
	if err := ValidateArity(get, []string{"a"}); err != nil {
		t.Fatalf("expected GET with one arg to validate, got %v", err)
	}
}

func TestValidateArityErrorTextMatchesSpec(t *testing.T) {
	cat := NewCatalog()
	set, _ := cat.Lookup("SET")
	err := ValidateArity(set, nil)
	want := "ERR wrong number of arguments for 'set' command"
	if err == nil || err.Error() != want {
		t.Fatalf("got %v, want %q", err, want)
	}
}

func TestTransactionAndReplicationCommandsHaveNoExecutor(t *testing.T) {
	cat := NewCatalog()
	for _, name := range []string{"MULTI", "EXEC", "DISCARD", "REPLCONF", "PSYNC"} {
		cmd, ok := cat.Lookup(name)
		if !ok {
			t.Fatalf("expected %s registered", name)
		}
		if cmd.Executor != nil {
			t.Fatalf("expected %s to have no Executor (handled by connection FSM)", name)
		}
	}
}

func TestUnboundedMaxArgsAcceptsManyArguments(t *testing.T) {
	cat := NewCatalog()
	lpush, _ := cat.Lookup("LPUSH")
	if err := ValidateArity(lpush, []string{"k", "a", "b", "c", "d", "e"}); err != nil {
		t.Fatalf("expected LPUSH with many elements to validate, got %v", err)
	}
}
