package clipboard

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/types"
)

type fakeLocal struct {
	text    string
	png     []byte
	written []string
}

func (f *fakeLocal) ReadText(ctx context.Context) (string, error) { return f.text, nil }
func (f *fakeLocal) WriteText(ctx context.Context, text string) error {
	f.written = append(f.written, text)
	f.text = text
	return nil
}
func (f *fakeLocal) ReadPNG(ctx context.Context) ([]byte, error)    { return f.png, nil }
func (f *fakeLocal) WritePNG(ctx context.Context, png []byte) error { f.png = png; return nil }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestHandlerServeClientRequestFulfillsFIFOHead(t *testing.T) {
	local := &fakeLocal{text: "hello"}
	h := NewHandler(testLogger(), local)

	resultCh := h.Enqueue(types.ClipboardRequest{Direction: types.ClipboardToClient, Format: types.CFText})
	h.ServeClientRequest(context.Background(), types.CFText)

	select {
	case res := <-resultCh:
		require.NoError(t, res.err)
		assert.Equal(t, "hello", string(res.data))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestHandlerMultiFormatFulfillmentCancelsOthers(t *testing.T) {
	local := &fakeLocal{text: "hello"}
	h := NewHandler(testLogger(), local)

	first := h.Enqueue(types.ClipboardRequest{Direction: types.ClipboardToClient, Format: types.CFUnicodeText})
	second := h.Enqueue(types.ClipboardRequest{Direction: types.ClipboardToClient, Format: types.CFText})

	h.ServeClientRequest(context.Background(), types.CFUnicodeText)

	res1 := <-first
	assert.NoError(t, res1.err)

	res2 := <-second
	assert.Error(t, res2.err)
}

func TestHandlerTwoRequestsSameFormatIDDoNotCollide(t *testing.T) {
	// Regression guard: correlation must be FIFO-ordered, not keyed by
	// format id, since two concurrent requests can share a format id.
	local := &fakeLocal{text: "v1"}
	h := NewHandler(testLogger(), local)

	first := h.Enqueue(types.ClipboardRequest{Direction: types.ClipboardToClient, Format: types.CFText, Slot: 1})
	second := h.Enqueue(types.ClipboardRequest{Direction: types.ClipboardToClient, Format: types.CFText, Slot: 2})

	h.ServeClientRequest(context.Background(), types.CFText) // fulfills first, cancels second

	res1 := <-first
	assert.NoError(t, res1.err)
	res2 := <-second
	assert.Error(t, res2.err)
}

func TestHandlerReceiveFromClientSuppressesEcho(t *testing.T) {
	local := &fakeLocal{}
	h := NewHandler(testLogger(), local)

	require.NoError(t, h.ReceiveFromClient(context.Background(), types.CFText, []byte("same"), false))
	assert.Equal(t, []string{"same"}, local.written)

	// Immediately "receiving" the identical content back (as if it echoed)
	// within the suppression window must not write again.
	require.NoError(t, h.ReceiveFromClient(context.Background(), types.CFText, []byte("same"), false))
	assert.Len(t, local.written, 1)
}

func TestHandlerExplicitPasteOverridesSuppression(t *testing.T) {
	local := &fakeLocal{}
	h := NewHandler(testLogger(), local)

	require.NoError(t, h.ReceiveFromClient(context.Background(), types.CFText, []byte("same"), false))
	require.NoError(t, h.ReceiveFromClient(context.Background(), types.CFText, []byte("same"), true))
	assert.Len(t, local.written, 2)
}

func TestHandlerRequestFormatDataReturnsDataDirectly(t *testing.T) {
	local := &fakeLocal{text: "combined call"}
	h := NewHandler(testLogger(), local)

	data, err := h.RequestFormatData(context.Background(), types.CFText, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "combined call", string(data))
}

func TestHandlerSuppressedStateBlocksAnnounce(t *testing.T) {
	local := &fakeLocal{text: "hello"}
	h := NewHandler(testLogger(), local)
	h.Suppress()

	require.NoError(t, h.AnnounceLocalContent(context.Background(), "text"))
	assert.Equal(t, StateSuppressed, h.CurrentState())

	h.Resume()
	assert.Equal(t, StateIdle, h.CurrentState())
}
