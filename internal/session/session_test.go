package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/rdpproto"
	"github.com/lamco-admin/wayland-rdp-sub000/internal/types"
)

func TestTopologyGetReturnsIndependentSnapshot(t *testing.T) {
	top := &topology{}
	top.set(types.MonitorTopology{Monitors: []types.Monitor{{ID: 0}}})

	snap := top.get()
	snap.Monitors[0].ID = 99

	reread := top.get()
	assert.Equal(t, 0, reread.Monitors[0].ID, "mutating a snapshot must not leak back into stored state")
}

func TestTopologyConcurrentAccess(t *testing.T) {
	top := &topology{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			top.set(types.MonitorTopology{Monitors: []types.Monitor{{ID: n}}})
		}(i)
		go func() {
			defer wg.Done()
			_ = top.get()
		}()
	}
	wg.Wait()
}

// recordingWriter captures WritePDU calls for one channel.
type recordingWriter struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (w *recordingWriter) WritePDU(ctx context.Context, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.payloads = append(w.payloads, append([]byte(nil), payload...))
	return nil
}

func (w *recordingWriter) snapshot() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]byte(nil), w.payloads...)
}

// stubConn implements rdpproto.Conn with one writable channel, enough to
// exercise channelSink's tag-stripping dispatch in isolation.
type stubConn struct {
	graphics *recordingWriter
}

func (c *stubConn) Negotiate(ctx context.Context) (rdpproto.Capabilities, error) { return rdpproto.Capabilities{}, nil }
func (c *stubConn) InputEvents() <-chan rdpproto.InputEvent                     { return nil }
func (c *stubConn) ClipboardEvents() <-chan rdpproto.ClipboardEvent             { return nil }
func (c *stubConn) FrameAcks() <-chan rdpproto.FrameAck                         { return nil }
func (c *stubConn) InitiateClipboardHandshake(ctx context.Context) error        { return nil }
func (c *stubConn) Close() error                                                { return nil }
func (c *stubConn) ChannelWriter(channel rdpproto.Channel) rdpproto.ChannelWriter {
	if channel == rdpproto.ChannelGraphics {
		return c.graphics
	}
	return nil
}

func TestTagPayloadRoundTripsThroughChannelSink(t *testing.T) {
	conn := &stubConn{graphics: &recordingWriter{}}
	sink := &channelSink{conn: conn}

	tagged := tagPayload(rdpproto.ChannelGraphics, []byte("frame-bytes"))
	require.NoError(t, sink.WritePDU(context.Background(), tagged))

	got := conn.graphics.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, []byte("frame-bytes"), got[0], "the channel tag must not reach the writer")
}

func TestChannelSinkRejectsEmptyPayload(t *testing.T) {
	sink := &channelSink{conn: &stubConn{graphics: &recordingWriter{}}}
	err := sink.WritePDU(context.Background(), nil)
	assert.Error(t, err)
}

func TestChannelSinkErrorsOnUnroutedChannel(t *testing.T) {
	conn := &stubConn{graphics: &recordingWriter{}}
	sink := &channelSink{conn: conn}

	tagged := tagPayload(rdpproto.ChannelInput, []byte("x"))
	err := sink.WritePDU(context.Background(), tagged)
	assert.Error(t, err)
}
