package replication

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return New(50*time.Millisecond, 0, testLogger())
}

func pipeConn(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestFullResyncWritesHeaderAndRDB(t *testing.T) {
	m := newTestManager(t)
	serverSide, clientSide := pipeConn(t)

	readCh := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 4096)
		n, _ := clientSide.Read(buf)
		readCh <- append([]byte(nil), buf[:n]...)
		io.Copy(io.Discard, clientSide)
	}()

	if _, err := m.FullResync(serverSide, 6380); err != nil {
		t.Fatal(err)
	}

	data := <-readCh
	want := "+FULLRESYNC "
	if len(data) < len(want) || string(data[:len(want)]) != want {
		t.Fatalf("unexpected header prefix %q", data)
	}
	if !bytes.HasSuffix(data, EmptyRDB()) {
		t.Fatalf("expected empty RDB payload after header, got %q", data)
	}
	if m.Count() != 1 {
		t.Fatalf("expected 1 replica registered, got %d", m.Count())
	}
}

func TestPropagateAdvancesMasterOffset(t *testing.T) {
	m := newTestManager(t)
	before := m.MasterOffset()
	frame := []byte("*1\r\n$4\r\nPING\r\n")
	m.Propagate(frame)
	after := m.MasterOffset()
	if after-before != int64(len(frame)) {
		t.Fatalf("offset advanced by %d, want %d", after-before, len(frame))
	}
}

func TestWaitZeroReturnsImmediately(t *testing.T) {
	m := newTestManager(t)
	start := time.Now()
	count := m.Wait(context.Background(), 0, time.Hour)
	if time.Since(start) > 200*time.Millisecond {
		t.Fatal("WAIT 0 should return immediately")
	}
	if count != 0 {
		t.Fatalf("expected 0 acked replicas, got %d", count)
	}
}

func TestWaitTimesOutWithoutAcks(t *testing.T) {
	m := newTestManager(t)
	start := time.Now()
	count := m.Wait(context.Background(), 1, 30*time.Millisecond)
	if time.Since(start) < 25*time.Millisecond {
		t.Fatal("expected WAIT to actually block until timeout")
	}
	if count != 0 {
		t.Fatalf("expected 0 acked, got %d", count)
	}
}

func TestWaitResolvesOnceAckArrives(t *testing.T) {
	m := newTestManager(t)
	serverSide, clientSide := pipeConn(t)
	go io.Copy(io.Discard, clientSide)

	rec, err := m.FullResync(serverSide, 0)
	if err != nil {
		t.Fatal(err)
	}

	m.Propagate([]byte("*1\r\n$4\r\nPING\r\n")) // raise master_offset above the replica's ack of 0
	threshold := m.MasterOffset()
	done := make(chan int, 1)
	go func() {
		done <- m.Wait(context.Background(), 1, time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	m.UpdateAck(rec.ID, threshold)

	select {
	case count := <-done:
		if count < 1 {
			t.Fatalf("expected acked count >= 1, got %d", count)
		}
	case <-time.After(time.Second):
		t.Fatal("WAIT did not resolve after ack")
	}
}

func TestInfoTextReportsRoleAndOffset(t *testing.T) {
	m := newTestManager(t)
	text := m.InfoText()
	if text == "" {
		t.Fatal("expected non-empty info text")
	}
	if !strings.Contains(text, "role:master") || !strings.Contains(text, "master_repl_offset:0") {
		t.Fatalf("expected role and offset in info text, got %q", text)
	}
}

func TestRemoveReplicaDropsFromCount(t *testing.T) {
	m := newTestManager(t)
	serverSide, clientSide := pipeConn(t)
	go io.Copy(io.Discard, clientSide)

	rec, err := m.FullResync(serverSide, 0)
	if err != nil {
		t.Fatal(err)
	}
	if m.Count() != 1 {
		t.Fatal("expected replica registered")
	}
	m.RemoveReplica(rec.ID)
	if m.Count() != 0 {
		t.Fatal("expected replica removed")
	}
}
