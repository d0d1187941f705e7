package qrelay

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"
)

// Handle is the opaque per-connection transport handle exposed upward
// (§3, §4.2). It carries exactly one owner at a time — the ConnectionTask
// slot in the worker pool — while the transport's own goroutines hold only
// a non-owning reference, per the "Duplicate shutdown hazard" design note
// in §9: shutdown is idempotent and single-writer, driven entirely through
// the closed flag below rather than shared boolean flags on both sides.
type Handle struct {
	id      uint64
	conn    *quic.Conn
	created time.Time

	lastActivity atomic.Int64 // unix nanos
	closed       atomic.Bool

	// task is the ConnectionTask this handle was admitted into; set once by
	// the Handler's OnNewConnection and read by OnFrame to route inbound
	// frames without a separate handle->task registry.
	task *ConnectionTask
}

// CreatedAt returns the time the connection was admitted.
func (h *Handle) CreatedAt() time.Time { return h.created }

// LastActivity returns the time of the last frame received or sent.
func (h *Handle) LastActivity() time.Time {
	return time.Unix(0, h.lastActivity.Load())
}

// IsConnected reports whether the transport still considers this handle
// live. A closed handle must not be used for Send.
func (h *Handle) IsConnected() bool { return !h.closed.Load() }

func (h *Handle) touch() { h.lastActivity.Store(time.Now().UnixNano()) }

// Close requests the underlying QUIC connection be torn down. It does not
// block for OnShutdown to fire; serveConnection's defer handles that.
func (h *Handle) Close() {
	h.conn.CloseWithError(0, "closed by relay")
}

// Handler receives the transport adapter's upward callbacks (§4.2).
type Handler interface {
	// OnNewConnection is called once per accepted handshake; returning
	// false refuses the connection. Connections arriving while the
	// active-connection count is at the maximum are refused by the
	// transport before this is called.
	OnNewConnection(h *Handle) bool
	// OnFrame is called once per complete inbound frame — exactly
	// FrameSize bytes, assembled from one QUIC unidirectional stream.
	OnFrame(h *Handle, frame []byte)
	// OnShutdown is called exactly once per connection; the handle must
	// not be used afterward.
	OnShutdown(h *Handle)
}

// Transport is the abstract contract required of the underlying QUIC
// library (§4.2).
type Transport interface {
	Start(port int, certPath, keyPath string, idleTimeout time.Duration, maxConnections int) error
	Stop() error
	Send(h *Handle, frame []byte) error
}

// QUICTransport implements Transport over quic-go, grounded on the
// Listen/Accept/OpenUniStreamSync usage pattern of a QUIC-based relay
// transport in the retrieved corpus. Each application frame is its own
// unidirectional stream, per spec: "each application frame is sent as its
// own unidirectional stream."
type QUICTransport struct {
	handler Handler
	log     *zap.Logger

	mu       sync.Mutex
	listener *quic.Listener
	wg       sync.WaitGroup
	stopping atomic.Bool

	maxConnections    int32
	activeConnections atomic.Int32
	nextID            atomic.Uint64
}

// NewQUICTransport builds a transport adapter that will dispatch to
// handler once Start is called.
func NewQUICTransport(handler Handler, log *zap.Logger) *QUICTransport {
	return &QUICTransport{handler: handler, log: log}
}

// Start begins accepting QUIC connections on port using the given TLS
// certificate/key pair (§4.2, §6.2's ServerCertFilePath/ServerKeyFilePath).
func (t *QUICTransport) Start(port int, certPath, keyPath string, idleTimeout time.Duration, maxConnections int) error {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return Wrap(CategoryTransport, fmt.Errorf("load TLS cert/key: %w", err))
	}
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"qrelay"},
	}
	quicConf := &quic.Config{
		MaxIdleTimeout:        idleTimeout,
		MaxIncomingUniStreams: 256,
	}

	ln, err := quic.ListenAddr(fmt.Sprintf(":%d", port), tlsConf, quicConf)
	if err != nil {
		return Wrap(CategoryTransport, fmt.Errorf("listen: %w", err))
	}

	t.mu.Lock()
	t.listener = ln
	t.maxConnections = int32(maxConnections)
	t.mu.Unlock()

	t.wg.Add(1)
	go t.acceptLoop(ln)
	return nil
}

func (t *QUICTransport) acceptLoop(ln *quic.Listener) {
	defer t.wg.Done()
	ctx := context.Background()
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			return // listener closed: Stop() was called
		}
		if t.activeConnections.Load() >= t.maxConnections {
			conn.CloseWithError(0, "max connections reached")
			continue
		}

		h := &Handle{id: t.nextID.Add(1), conn: conn, created: time.Now()}
		h.touch()

		if !t.handler.OnNewConnection(h) {
			conn.CloseWithError(0, "refused")
			continue
		}

		t.activeConnections.Add(1)
		t.wg.Add(1)
		go t.serveConnection(h)
	}
}

func (t *QUICTransport) serveConnection(h *Handle) {
	defer t.wg.Done()
	defer func() {
		h.closed.Store(true)
		t.activeConnections.Add(-1)
		t.handler.OnShutdown(h)
	}()

	ctx := context.Background()
	for {
		stream, err := h.conn.AcceptUniStream(ctx)
		if err != nil {
			return
		}
		buf := make([]byte, FrameSize)
		if _, err := io.ReadFull(stream, buf); err != nil {
			if t.log != nil {
				t.log.Debug("short read on inbound stream, dropping frame", zap.Uint64("conn", h.id), zap.Error(err))
			}
			continue
		}
		h.touch()
		t.handler.OnFrame(h, buf)
	}
}

// Send opens a unidirectional stream, writes frame, and closes it with FIN
// (§4.2). On any error the caller must assume the connection is dying.
func (t *QUICTransport) Send(h *Handle, frame []byte) error {
	if !h.IsConnected() {
		return ErrHandleClosed
	}
	stream, err := h.conn.OpenUniStreamSync(context.Background())
	if err != nil {
		return Wrap(CategoryTransport, err)
	}
	if _, err := stream.Write(frame); err != nil {
		return Wrap(CategoryTransport, err)
	}
	if err := stream.Close(); err != nil {
		return Wrap(CategoryTransport, err)
	}
	h.touch()
	return nil
}

// Stop is idempotent: after it returns, no new upward callbacks fire and
// all in-flight callbacks have drained (§4.2).
func (t *QUICTransport) Stop() error {
	if !t.stopping.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	ln := t.listener
	t.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	t.wg.Wait()
	return nil
}

// ActiveConnections returns the current admitted-connection count (§5's
// "single atomic integer").
func (t *QUICTransport) ActiveConnections() int32 { return t.activeConnections.Load() }
