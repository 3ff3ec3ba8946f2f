package server

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/nishisan-dev/redis-lite/internal/clock"
	"github.com/nishisan-dev/redis-lite/internal/command"
	"github.com/nishisan-dev/redis-lite/internal/replication"
	"github.com/nishisan-dev/redis-lite/internal/resp"
	"github.com/nishisan-dev/redis-lite/internal/store"
	"github.com/nishisan-dev/redis-lite/internal/waiter"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*Server, net.Listener) {
	t.Helper()
	fake := &clock.Fake{}
	ec := command.NewExecContext(store.New(fake), waiter.New(), replication.New(time.Hour, 0, testLogger()), fake)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := New(ln.Addr().String(), command.NewCatalog(), ec, ec.Store, ec.Replication, 0, testLogger())
	return srv, ln
}

func TestPingRoundTripOverRealSocket(t *testing.T) {
	srv, ln := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.RunWithListener(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.Write(resp.EncodeCommand("PING"))
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "+PONG\r\n" {
		t.Fatalf("got %q", line)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("server did not shut down after context cancel")
	}
}

func TestSetGetRoundTripOverRealSocket(t *testing.T) {
	srv, ln := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.RunWithListener(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.Write(resp.EncodeCommand("SET", "k", "v"))
	r := bufio.NewReader(conn)
	line, _ := r.ReadString('\n')
	if line != "+OK\r\n" {
		t.Fatalf("got %q", line)
	}

	conn.Write(resp.EncodeCommand("GET", "k"))
	header, _ := r.ReadString('\n')
	if header != "$1\r\n" {
		t.Fatalf("got %q", header)
	}
	body := make([]byte, 3)
	io.ReadFull(r, body)
	if string(body) != "v\r\n" {
		t.Fatalf("got %q", body)
	}
}
