package qrelay

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Server wires the transport, worker pool, persistence, and exchange
// directory together for one running instance (§6.1). channelID identifies
// this instance's row key in connection_device_channel, and role selects
// which task class admitted connections run (§2).
type Server struct {
	cfg       Config
	role      Role
	channelID uint32

	log       *zap.Logger
	store     *Store
	directory *ExchangeDirectory
	metrics   Metrics
	pool      *JobList
	transport *QUICTransport

	cancel context.CancelFunc
}

// NewServer builds a server instance from cfg, ready for Listen.
func NewServer(cfg Config, role Role, channelID uint32, log *zap.Logger, store *Store) *Server {
	s := &Server{
		cfg:       cfg,
		role:      role,
		channelID: channelID,
		log:       log,
		store:     store,
		directory: NewExchangeDirectory(),
		metrics:   NewDefaultMetrics(),
		pool:      NewJobList(),
	}
	s.transport = NewQUICTransport(s, log)
	return s
}

// OnNewConnection implements Handler: it admits the connection by creating
// a ConnectionTask and registering it with the worker pool (§4.9).
func (s *Server) OnNewConnection(h *Handle) bool {
	task := NewConnectionTask(s.transport, h, s.role, s.channelID, s.directory, s.metrics, s.log, s.pool)
	s.pool.Add(task)
	if s.metrics != nil {
		s.metrics.IncrementConnectionsAdmitted()
	}
	h.task = task
	return true
}

// OnFrame implements Handler: it forwards the frame to the handle's task.
func (s *Server) OnFrame(h *Handle, frame []byte) {
	if h.task != nil {
		h.task.OnFrame(frame)
	}
}

// OnShutdown implements Handler: the task's next Perform tick observes
// IsConnected()==false and tears itself down.
func (s *Server) OnShutdown(h *Handle) {
	s.pool.Wake()
}

// Listen starts the transport and the worker pool's goroutines. It blocks
// until ctx is cancelled or a termination signal arrives, then runs the
// graceful shutdown sequence of §6.1: pool.Lock(), transport.Stop(),
// persistence close, each logged.
func (s *Server) Listen(ctx context.Context) error {
	idle := time.Duration(s.cfg.ServerConnectionTimeoutS) * time.Second
	if err := s.transport.Start(s.cfg.ServerPort, s.cfg.ServerCertFilePath, s.cfg.ServerKeyFilePath, idle, s.cfg.ServerMaxClientCount); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Info("transport started", zap.Int("port", s.cfg.ServerPort))
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	n := WorkerCount() + 1
	for i := 0; i < n; i++ {
		go RunWorker(runCtx, s.pool, s.store)
	}
	if s.log != nil {
		s.log.Info("worker pool started", zap.Int("workers", n))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	crashCh := make(chan os.Signal, 1)
	signal.Notify(crashCh, syscall.SIGILL, syscall.SIGTRAP, syscall.SIGFPE, syscall.SIGABRT, syscall.SIGSEGV)

	select {
	case <-runCtx.Done():
	case <-sigCh:
		if s.log != nil {
			s.log.Info("received termination signal, shutting down")
		}
	case sig := <-crashCh:
		writeCrashDump(s.log, sig)
		os.Exit(1)
	}

	return s.Stop()
}

// Stop runs the shutdown sequence directly, for callers that already have
// their own signal handling (e.g. tests).
func (s *Server) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.pool.Lock()
	if s.log != nil {
		s.log.Info("worker pool locked")
	}
	if err := s.transport.Stop(); err != nil {
		if s.log != nil {
			logError(s.log, "transport stop failed", err)
		}
	} else if s.log != nil {
		s.log.Info("transport stopped")
	}
	if err := s.store.Close(); err != nil {
		if s.log != nil {
			logError(s.log, "persistence close failed", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("persistence closed")
	}
	return nil
}

// writeCrashDump writes the calling goroutine's stack to a uuid-suffixed
// file in the working directory before the process exits (§6.1).
func writeCrashDump(log *zap.Logger, sig os.Signal) {
	name := fmt.Sprintf("qrelay-crash-%s.txt", uuid.NewString())
	stack := debug.Stack()
	if err := os.WriteFile(name, stack, 0o600); err != nil {
		if log != nil {
			logError(log, "failed to write crash dump", err)
		}
		return
	}
	if log != nil {
		log.Error("fatal signal received, wrote crash dump", zap.Stringer("signal", sig), zap.String("file", name))
	}
}
