package command

import (
	"context"
	"testing"
	"time"

	"github.com/nishisan-dev/redis-lite/internal/resp"
)

func TestPingWithoutArgReturnsPong(t *testing.T) {
	ec, _ := newTestExecContext()
	cat := NewCatalog()
	v := run(context.Background(), ec, cat, "PING")
	if v.Type != resp.TypeSimpleString || v.Str != "PONG" {
		t.Fatalf("got %+v", v)
	}
}

func TestPingWithArgEchoesIt(t *testing.T) {
	ec, _ := newTestExecContext()
	cat := NewCatalog()
	v := run(context.Background(), ec, cat, "PING", "hello")
	if v.Type != resp.TypeBulkString || string(v.Bulk) != "hello" {
		t.Fatalf("got %+v", v)
	}
}

func TestSetThenGetRoundTrip(t *testing.T) {
	ec, _ := newTestExecContext()
	cat := NewCatalog()
	run(context.Background(), ec, cat, "SET", "k", "v")
	v := run(context.Background(), ec, cat, "GET", "k")
	if v.Type != resp.TypeBulkString || string(v.Bulk) != "v" {
		t.Fatalf("got %+v", v)
	}
}

func TestGetAbsentKeyReturnsNullBulk(t *testing.T) {
	ec, _ := newTestExecContext()
	cat := NewCatalog()
	v := run(context.Background(), ec, cat, "GET", "absent")
	if !v.IsNull() {
		t.Fatalf("expected null bulk, got %+v", v)
	}
}

func TestSetWithExExpiresAfterDuration(t *testing.T) {
	ec, fake := newTestExecContext()
	cat := NewCatalog()
	run(context.Background(), ec, cat, "SET", "k", "v", "EX", "1")

	v := run(context.Background(), ec, cat, "GET", "k")
	if v.IsNull() {
		t.Fatal("expected value present before expiry")
	}

	fake.Advance(2 * time.Second)
	v = run(context.Background(), ec, cat, "GET", "k")
	if !v.IsNull() {
		t.Fatal("expected value expired")
	}
}

func TestSetRejectsBadTTLSyntax(t *testing.T) {
	ec, _ := newTestExecContext()
	cat := NewCatalog()
	v := run(context.Background(), ec, cat, "SET", "k", "v", "BADOPT", "1")
	if v.Type != resp.TypeError {
		t.Fatalf("expected syntax error, got %+v", v)
	}
}

func TestIncrFromAbsentStartsAtOne(t *testing.T) {
	ec, _ := newTestExecContext()
	cat := NewCatalog()
	v := run(context.Background(), ec, cat, "INCR", "counter")
	if v.Type != resp.TypeInteger || v.Int != 1 {
		t.Fatalf("got %+v", v)
	}
	v = run(context.Background(), ec, cat, "INCR", "counter")
	if v.Int != 2 {
		t.Fatalf("got %+v", v)
	}
}

func TestTypeOfReportsKind(t *testing.T) {
	ec, _ := newTestExecContext()
	cat := NewCatalog()
	run(context.Background(), ec, cat, "SET", "s", "v")
	v := run(context.Background(), ec, cat, "TYPE", "s")
	if v.Str != "string" {
		t.Fatalf("got %+v", v)
	}
	v = run(context.Background(), ec, cat, "TYPE", "absent")
	if v.Str != "none" {
		t.Fatalf("got %+v", v)
	}
}

func TestWrongTypeErrorFromGetOnList(t *testing.T) {
	ec, _ := newTestExecContext()
	cat := NewCatalog()
	run(context.Background(), ec, cat, "LPUSH", "l", "a")
	v := run(context.Background(), ec, cat, "GET", "l")
	if v.Type != resp.TypeError {
		t.Fatalf("expected WRONGTYPE error, got %+v", v)
	}
}
