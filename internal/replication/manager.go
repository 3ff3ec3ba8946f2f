// Package replication implements the master side of the handshake, write
// propagation, offset accounting, and the WAIT barrier (spec.md §4.E).
package replication

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/redis-lite/internal/resp"
)

// emptyRDB is the canonical minimal empty-RDB payload sent as the
// FULLRESYNC snapshot (spec.md §4.E: "A canonical minimal empty-RDB byte
// sequence is acceptable as the initial snapshot"). REDIS0011, an EOF
// opcode, and an 8-byte zeroed checksum trailer — no keys, no expires.
var emptyRDB = []byte{
	'R', 'E', 'D', 'I', 'S', '0', '0', '1', '1',
	0xFF,
	0, 0, 0, 0, 0, 0, 0, 0,
}

// ReplicaRecord is a connected replica (spec.md §3). Lifetime runs from
// FULLRESYNC to disconnect, owned exclusively by the Manager.
type ReplicaRecord struct {
	ID            string
	Conn          net.Conn
	ListeningPort int

	mu          sync.Mutex
	w           *bufio.Writer
	offsetSent  int64
	offsetAcked int64
}

// OffsetAcked returns the latest replication offset this replica has
// acknowledged via REPLCONF ACK.
func (r *ReplicaRecord) OffsetAcked() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offsetAcked
}

func (r *ReplicaRecord) backlog() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offsetSent - r.offsetAcked
}

func (r *ReplicaRecord) write(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.w.Write(frame); err != nil {
		return err
	}
	if err := r.w.Flush(); err != nil {
		return err
	}
	r.offsetSent += int64(len(frame))
	return nil
}

// Manager is the process-wide Replica Manager + Handshake Driver
// (spec.md §4.E, §4.G, §4.H). The zero value is not usable; build with New.
type Manager struct {
	logger *slog.Logger

	replID             string
	highWaterMarkBytes int64
	getAckInterval     time.Duration

	mu           sync.Mutex
	replicas     map[string]*ReplicaRecord
	masterOffset int64

	cronSched *cron.Cron
}

// New creates a Manager with a fresh master_replid (google/uuid, matching
// the session-id generation style of edirooss-zmux-server).
func New(getAckInterval time.Duration, highWaterMarkBytes int64, logger *slog.Logger) *Manager {
	return &Manager{
		logger:             logger,
		replID:             uuid.NewString(),
		highWaterMarkBytes: highWaterMarkBytes,
		getAckInterval:     getAckInterval,
		replicas:           make(map[string]*ReplicaRecord),
	}
}

// ReplID returns the master's replication id, used in FULLRESYNC replies
// and INFO replication.
func (m *Manager) ReplID() string { return m.replID }

// MasterOffset returns the current master_offset (spec.md §4.E).
func (m *Manager) MasterOffset() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.masterOffset
}

// EmptyRDB returns the fixed empty-RDB payload used to seed every
// FULLRESYNC.
func EmptyRDB() []byte { return emptyRDB }

// FullResync performs the master-side handshake tail end: writes
// "+FULLRESYNC <replid> <offset>\r\n" followed by the bulk-framed empty
// RDB (no trailing CRLF after the payload, per spec.md §4.E), then
// registers conn as a ReplicaRecord and returns it.
func (m *Manager) FullResync(conn net.Conn, listeningPort int) (*ReplicaRecord, error) {
	m.mu.Lock()
	offset := m.masterOffset
	m.mu.Unlock()

	throttled := newThrottledWriter(context.Background(), conn, m.highWaterMarkBytes)
	w := bufio.NewWriterSize(throttled, 32*1024)

	header := fmt.Sprintf("+FULLRESYNC %s %d\r\n", m.replID, offset)
	if _, err := w.WriteString(header); err != nil {
		return nil, fmt.Errorf("writing FULLRESYNC header: %w", err)
	}
	if _, err := fmt.Fprintf(w, "$%d\r\n", len(emptyRDB)); err != nil {
		return nil, fmt.Errorf("writing RDB length: %w", err)
	}
	if _, err := w.Write(emptyRDB); err != nil {
		return nil, fmt.Errorf("writing RDB payload: %w", err)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flushing FULLRESYNC: %w", err)
	}

	rec := &ReplicaRecord{
		ID:            conn.RemoteAddr().String(),
		Conn:          conn,
		ListeningPort: listeningPort,
		w:             w,
		offsetSent:    offset,
		offsetAcked:   0,
	}

	m.mu.Lock()
	m.replicas[rec.ID] = rec
	m.mu.Unlock()

	m.logger.Info("replica attached", "replica", rec.ID, "listening_port", listeningPort, "offset", offset)
	return rec, nil
}

// RemoveReplica drops a replica's record (connection error or close).
func (m *Manager) RemoveReplica(id string) {
	m.mu.Lock()
	_, existed := m.replicas[id]
	delete(m.replicas, id)
	m.mu.Unlock()
	if existed {
		m.logger.Info("replica detached", "replica", id)
	}
}

// Count returns the number of currently connected replicas.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.replicas)
}

// Propagate forwards frame (an exact RESP-encoded, upper-cased command, per
// spec.md §4.E) to every registered replica and advances master_offset by
// len(frame). A replica whose backlog exceeds twice the high-water mark is
// dropped rather than allowed to buffer unboundedly (spec.md §4.E).
func (m *Manager) Propagate(frame []byte) {
	m.mu.Lock()
	m.masterOffset += int64(len(frame))
	replicas := make([]*ReplicaRecord, 0, len(m.replicas))
	for _, r := range m.replicas {
		replicas = append(replicas, r)
	}
	m.mu.Unlock()

	for _, r := range replicas {
		if m.highWaterMarkBytes > 0 && r.backlog() > 2*m.highWaterMarkBytes {
			m.logger.Error("replica backlog exceeded high water mark, disconnecting",
				"replica", r.ID, "backlog", r.backlog())
			r.Conn.Close()
			m.RemoveReplica(r.ID)
			continue
		}
		if err := r.write(frame); err != nil {
			m.logger.Error("propagating to replica", "replica", r.ID, "error", err)
			r.Conn.Close()
			m.RemoveReplica(r.ID)
		}
	}
}

// UpdateAck records a replica's REPLCONF ACK offset.
func (m *Manager) UpdateAck(id string, offset int64) {
	m.mu.Lock()
	r, ok := m.replicas[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	if offset > r.offsetAcked {
		r.offsetAcked = offset
	}
	r.mu.Unlock()
}

// AckedCount returns, without blocking, how many connected replicas have
// acknowledged the current master_offset. Used by WAIT when it must not
// suspend the caller (spec.md §4.D: blocking commands never block inside
// a MULTI/EXEC transaction).
func (m *Manager) AckedCount() int {
	return m.countAcked(m.MasterOffset())
}

func (m *Manager) countAcked(threshold int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.replicas {
		if r.OffsetAcked() >= threshold {
			n++
		}
	}
	return n
}

var getAckFrame = resp.EncodeCommand("REPLCONF", "GETACK", "*")

// broadcastGetAck sends REPLCONF GETACK * to every connected replica,
// bypassing master_offset accounting (spec.md ties master_offset only to
// write-command propagation).
func (m *Manager) broadcastGetAck() {
	m.mu.Lock()
	replicas := make([]*ReplicaRecord, 0, len(m.replicas))
	for _, r := range m.replicas {
		replicas = append(replicas, r)
	}
	m.mu.Unlock()

	for _, r := range replicas {
		if err := r.write(getAckFrame); err != nil {
			m.logger.Error("sending GETACK", "replica", r.ID, "error", err)
		}
	}
}

// waitPollInterval is how often Wait re-checks acked offsets while
// blocked. Short enough to feel immediate once replicas ack, cheap enough
// not to matter at this scale.
const waitPollInterval = 5 * time.Millisecond

// Wait implements WAIT n t (spec.md §4.E): blocks until at least n
// replicas have acknowledged master_offset as of the call, or until
// timeout elapses (timeout of 0 blocks indefinitely). n == 0 returns
// immediately with the current count, resolving the Open Question in
// spec.md §9 the way it recommends. Returns the acked-count at
// resolution, which may exceed n.
func (m *Manager) Wait(ctx context.Context, n int, timeout time.Duration) int {
	threshold := m.MasterOffset()

	if n == 0 {
		return m.countAcked(threshold)
	}
	if count := m.countAcked(threshold); count >= n {
		return count
	}

	m.broadcastGetAck()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if count := m.countAcked(threshold); count >= n {
				return count
			}
		case <-deadline:
			return m.countAcked(threshold)
		case <-ctx.Done():
			return m.countAcked(threshold)
		}
	}
}

// StartPeriodicGetAck schedules the periodic "REPLCONF GETACK *" broadcast
// (spec.md §4.E) using robfig/cron's "@every" syntax, the Go-native
// analogue of a recurring timer. Returns an error only if the interval
// spec fails to parse.
func (m *Manager) StartPeriodicGetAck() error {
	m.cronSched = cron.New()
	spec := fmt.Sprintf("@every %s", m.getAckInterval)
	_, err := m.cronSched.AddFunc(spec, m.broadcastGetAck)
	if err != nil {
		return fmt.Errorf("scheduling periodic GETACK: %w", err)
	}
	m.cronSched.Start()
	return nil
}

// Stop halts the periodic GETACK scheduler.
func (m *Manager) Stop() {
	if m.cronSched != nil {
		ctx := m.cronSched.Stop()
		<-ctx.Done()
	}
}

// InfoText renders the "INFO replication" bulk-string body (additive per
// SPEC_FULL §10, grounded in GoRedis's handleInfo).
func (m *Manager) InfoText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf(
		"# Replication\r\nrole:master\r\nconnected_slaves:%d\r\nmaster_replid:%s\r\nmaster_repl_offset:%d\r\n",
		len(m.replicas), m.replID, m.masterOffset,
	)
}
