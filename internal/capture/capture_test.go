package capture

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeFDs() (*os.File, *os.File, error) {
	return os.Pipe()
}

type fakeSession struct {
	connectErr    error
	createErr     error
	waitNodeID    uint32
	waitErr       error
	waitCallCount int
	closed        bool
}

func (f *fakeSession) Connect(ctx context.Context) error { return f.connectErr }
func (f *fakeSession) CreateSession(ctx context.Context, desc StreamDescriptor, hints FormatHints) error {
	return f.createErr
}
func (f *fakeSession) WaitForStream(ctx context.Context) (uint32, error) {
	f.waitCallCount++
	return f.waitNodeID, f.waitErr
}
func (f *fakeSession) Close() { f.closed = true }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAdapterStartStop(t *testing.T) {
	fs := &fakeSession{waitNodeID: 42}
	a := newWithSession(testLogger(), fs)

	err := a.Start(context.Background(), StreamDescriptor{Name: "Meta-0"}, FormatHints{Width: 1920, Height: 1080, Framerate: 30})
	require.NoError(t, err)

	select {
	case frame := <-a.Frames():
		assert.Equal(t, 1920, frame.Width)
		assert.Equal(t, uint64(1), frame.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	a.Stop()
	assert.True(t, fs.closed)
}

func TestAdapterStartRejectsBadFormat(t *testing.T) {
	fs := &fakeSession{}
	a := newWithSession(testLogger(), fs)

	err := a.Start(context.Background(), StreamDescriptor{}, FormatHints{Width: 0, Height: 0})
	assert.ErrorIs(t, err, ErrFormatUnsupported)
}

func TestAdapterStartPermissionDenied(t *testing.T) {
	fs := &fakeSession{createErr: ErrPermissionDenied}
	a := newWithSession(testLogger(), fs)

	err := a.Start(context.Background(), StreamDescriptor{}, FormatHints{Width: 100, Height: 100, Framerate: 30})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestAdapterReconfigureRequiresRestart(t *testing.T) {
	a := newWithSession(testLogger(), &fakeSession{})
	err := a.Reconfigure([2]int{100, 100}, 30)
	assert.ErrorIs(t, err, ErrRenegotiationRequired)
}

func TestRestartBackoffSchedule(t *testing.T) {
	b := newRestartBackoff()
	assert.Equal(t, time.Second, b.current())
	assert.False(t, b.fail())
	assert.Equal(t, 2*time.Second, b.current())
	assert.True(t, b.fail())
	assert.Equal(t, 4*time.Second, b.current())
}

func TestBufferCacheReleaseInvalidates(t *testing.T) {
	// Identity requires a real fd; use a pipe.
	r, w, err := pipeFDs()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	c := NewBufferCache()
	fd := int(r.Fd())
	c.Store(fd, []byte("hello"))

	data, ok := c.Lookup(fd)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)

	c.Release(fd) // Store's initial ref
	c.Release(fd) // Lookup's ref
	_, ok = c.Lookup(fd)
	assert.False(t, ok)
}
