package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/config"
	"github.com/lamco-admin/wayland-rdp-sub000/internal/rdpproto"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// negotiateFailConn fails Negotiate immediately, so Session.Run returns
// right away without needing a real capture/video/input stack — enough to
// exercise Server's accept/register/unregister/shutdown bookkeeping.
type negotiateFailConn struct {
	closed atomic.Bool
}

func (c *negotiateFailConn) Negotiate(ctx context.Context) (rdpproto.Capabilities, error) {
	return rdpproto.Capabilities{}, errors.New("no codec wired in test")
}
func (c *negotiateFailConn) InputEvents() <-chan rdpproto.InputEvent         { return nil }
func (c *negotiateFailConn) ClipboardEvents() <-chan rdpproto.ClipboardEvent { return nil }
func (c *negotiateFailConn) FrameAcks() <-chan rdpproto.FrameAck             { return nil }
func (c *negotiateFailConn) InitiateClipboardHandshake(ctx context.Context) error {
	return nil
}
func (c *negotiateFailConn) ChannelWriter(channel rdpproto.Channel) rdpproto.ChannelWriter {
	return nil
}
func (c *negotiateFailConn) Close() error {
	c.closed.Store(true)
	return nil
}

// countingAcceptor hands out a fixed number of negotiateFailConns, then
// blocks (simulating no more incoming connections) until ctx is cancelled.
type countingAcceptor struct {
	mu       sync.Mutex
	conns    []*negotiateFailConn
	served   int
	total    int
	closedCh chan struct{}
	once     sync.Once
}

func newCountingAcceptor(total int) *countingAcceptor {
	return &countingAcceptor{total: total, closedCh: make(chan struct{})}
}

func (a *countingAcceptor) Accept(ctx context.Context) (rdpproto.Conn, error) {
	a.mu.Lock()
	if a.served >= a.total {
		a.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-a.closedCh:
			return nil, errors.New("acceptor closed")
		}
	}
	a.served++
	conn := &negotiateFailConn{}
	a.conns = append(a.conns, conn)
	a.mu.Unlock()
	return conn, nil
}

func (a *countingAcceptor) Close() error {
	a.once.Do(func() { close(a.closedCh) })
	return nil
}

func TestServerRunProcessesAcceptedConnections(t *testing.T) {
	acceptor := newCountingAcceptor(3)
	cfg := config.Default()
	cfg.Session.MaxConcurrent = 2

	srv := NewServer(testLogger(), cfg, acceptor)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		acceptor.mu.Lock()
		defer acceptor.mu.Unlock()
		return acceptor.served == 3
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Server.Run did not return after context cancellation")
	}

	srv.mu.Lock()
	remaining := len(srv.sessions)
	srv.mu.Unlock()
	assert.Equal(t, 0, remaining, "every session must be unregistered once its Run returns")
}

func TestServerRunClosesAcceptorOnShutdown(t *testing.T) {
	acceptor := newCountingAcceptor(0)
	srv := NewServer(testLogger(), config.Default(), acceptor)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Server.Run did not return after cancellation")
	}

	select {
	case <-acceptor.closedCh:
	default:
		t.Fatal("acceptor was not closed on shutdown")
	}
}

func TestNewTLSListenerRejectsMissingCertificate(t *testing.T) {
	cfg := config.Default()
	cfg.TLS.CertPath = "/nonexistent/cert.pem"
	cfg.TLS.KeyPath = "/nonexistent/key.pem"
	cfg.Listen.Port = 0

	_, err := NewTLSListener(cfg)
	assert.Error(t, err)
}
