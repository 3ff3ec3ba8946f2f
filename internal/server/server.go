// Package server implements the TCP accept loop and periodic stats reporter
// (spec.md §6, SPEC_FULL §4.J), grounded in the teacher's
// internal/server/server.go Run/RunWithListener pattern.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/nishisan-dev/redis-lite/internal/command"
	"github.com/nishisan-dev/redis-lite/internal/connection"
	"github.com/nishisan-dev/redis-lite/internal/replication"
	"github.com/nishisan-dev/redis-lite/internal/store"
)

// Server owns the listener and the shared singletons every accepted
// connection dispatches against.
type Server struct {
	listenAddr  string
	catalog     *command.Catalog
	ec          *command.ExecContext
	store       *store.Store
	repl        *replication.Manager
	statsPeriod time.Duration
	logger      *slog.Logger

	activeConns atomic.Int64
}

// New builds a Server bound to listenAddr. repl may be nil (a core with no
// replication configured still serves plain client traffic).
func New(listenAddr string, catalog *command.Catalog, ec *command.ExecContext, st *store.Store, repl *replication.Manager, statsPeriod time.Duration, logger *slog.Logger) *Server {
	return &Server{
		listenAddr:  listenAddr,
		catalog:     catalog,
		ec:          ec,
		store:       st,
		repl:        repl,
		statsPeriod: statsPeriod,
		logger:      logger,
	}
}

// Run opens a listener on s.listenAddr and blocks until ctx is cancelled or
// a fatal accept error occurs.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.listenAddr, err)
	}
	defer ln.Close()
	return s.RunWithListener(ctx, ln)
}

// RunWithListener runs the accept loop against an already-open listener,
// letting tests bind an ephemeral port (teacher's RunWithListener split).
func (s *Server) RunWithListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("server listening", "address", ln.Addr().String())

	go s.reportStats(ctx)

	if s.repl != nil {
		if err := s.repl.StartPeriodicGetAck(); err != nil {
			s.logger.Error("starting periodic GETACK", "error", err)
		}
		defer s.repl.Stop()
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down server")
		ln.Close()
	}()

	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.logger.Info("server shutdown complete")
				return nil
			default:
				consecutiveErrors++
				s.logger.Error("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
				if consecutiveErrors > 5 {
					delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
					if delay > 5*time.Second {
						delay = 5 * time.Second
					}
					time.Sleep(delay)
				}
				continue
			}
		}

		consecutiveErrors = 0
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	s.activeConns.Add(1)
	defer s.activeConns.Add(-1)

	c := connection.New(conn, s.catalog, s.ec, s.logger)
	c.Serve(ctx)
}

// reportStats logs one structured line every statsPeriod: active connection
// count, live key count, replica count and master_offset when replication
// is enabled, and process RSS/CPU sampled through gopsutil (SPEC_FULL
// §4.J), the way the teacher's agent.SystemMonitor samples host stats.
func (s *Server) reportStats(ctx context.Context) {
	if s.statsPeriod <= 0 {
		return
	}
	ticker := time.NewTicker(s.statsPeriod)
	defer ticker.Stop()

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.logger.Debug("process stats unavailable", "error", err)
		proc = nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fields := []any{
				"conns", s.activeConns.Load(),
				"keys", s.store.Len(),
			}
			if s.repl != nil {
				fields = append(fields, "replicas", s.repl.Count(), "master_offset", s.repl.MasterOffset())
			}
			if proc != nil {
				if mi, err := proc.MemoryInfo(); err == nil {
					fields = append(fields, "rss_mb", fmt.Sprintf("%.1f", float64(mi.RSS)/(1024*1024)))
				} else {
					s.logger.Debug("failed to collect rss", "error", err)
				}
				if cpuPct, err := proc.CPUPercent(); err == nil {
					fields = append(fields, "cpu_percent", fmt.Sprintf("%.1f", cpuPct))
				} else {
					s.logger.Debug("failed to collect cpu", "error", err)
				}
			}
			s.logger.Info("server stats", fields...)
		}
	}
}
