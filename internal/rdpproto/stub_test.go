package rdpproto

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerAcceptorWrapsConnWithUnimplementedNegotiate(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptor := NewListenerAcceptor(ln)

	dialDone := make(chan error, 1)
	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			c.Close()
		}
		dialDone <- err
	}()

	conn, err := acceptor.Accept(context.Background())
	require.NoError(t, err)
	require.NoError(t, <-dialDone)

	caps, err := conn.Negotiate(context.Background())
	assert.ErrorIs(t, err, ErrCodecNotWired)
	assert.Equal(t, Capabilities{}, caps)

	assert.ErrorIs(t, conn.InitiateClipboardHandshake(context.Background()), ErrCodecNotWired)

	_, ok := <-conn.InputEvents()
	assert.False(t, ok, "stub input channel must be closed, never block a reader")
	_, ok = <-conn.ClipboardEvents()
	assert.False(t, ok)
	_, ok = <-conn.FrameAcks()
	assert.False(t, ok)

	assert.Nil(t, conn.ChannelWriter(ChannelGraphics))
	assert.NoError(t, conn.Close())
}

func TestListenerAcceptorCloseClosesUnderlyingListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	acceptor := NewListenerAcceptor(ln)
	require.NoError(t, acceptor.Close())

	_, err = net.Dial("tcp", ln.Addr().String())
	assert.Error(t, err)
}
