package command

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nishisan-dev/redis-lite/internal/resp"
)

func TestWaitZeroReturnsImmediatelyThroughCatalog(t *testing.T) {
	ec, _ := newTestExecContext()
	cat := NewCatalog()

	start := time.Now()
	v := run(context.Background(), ec, cat, "WAIT", "0", "5000")
	if time.Since(start) > 200*time.Millisecond {
		t.Fatal("expected WAIT 0 to return immediately")
	}
	if v.Type != resp.TypeInteger {
		t.Fatalf("got %+v", v)
	}
}

func TestWaitRejectsNonIntegerArgs(t *testing.T) {
	ec, _ := newTestExecContext()
	cat := NewCatalog()
	v := run(context.Background(), ec, cat, "WAIT", "nope", "10")
	if v.Type != resp.TypeError {
		t.Fatalf("expected error, got %+v", v)
	}
}

func TestInfoReturnsReplicationBody(t *testing.T) {
	ec, _ := newTestExecContext()
	cat := NewCatalog()
	v := run(context.Background(), ec, cat, "INFO")
	if v.Type != resp.TypeBulkString {
		t.Fatalf("got %+v", v)
	}
	if !strings.Contains(string(v.Bulk), "role:master") {
		t.Fatalf("expected role:master in INFO body, got %q", v.Bulk)
	}
}
