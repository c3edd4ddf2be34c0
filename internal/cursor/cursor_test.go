package cursor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource lets tests drive a Tracker's onUpdate callback directly.
type fakeSource struct {
	handler func(Update)
}

func (f *fakeSource) Start(handler func(Update)) error {
	f.handler = handler
	return nil
}
func (f *fakeSource) Stop() {}

func TestTrackerForwardsShapeChange(t *testing.T) {
	src := &fakeSource{}
	tr := NewTracker(src)
	require.NoError(t, tr.Start())

	src.handler(Update{X: 1, Y: 1, Width: 2, Height: 2, ARGB: []byte{1, 2, 3, 4}})

	select {
	case u := <-tr.Updates():
		assert.Equal(t, int32(1), u.X)
	case <-time.After(time.Second):
		t.Fatal("expected an update")
	}
}

func TestTrackerForwardsPositionOnlyChange(t *testing.T) {
	src := &fakeSource{}
	tr := NewTracker(src)
	require.NoError(t, tr.Start())

	shape := []byte{1, 2, 3, 4}
	src.handler(Update{X: 0, Y: 0, Width: 2, Height: 2, ARGB: shape})
	<-tr.Updates()

	src.handler(Update{X: 5, Y: 5, Width: 2, Height: 2, ARGB: shape})

	select {
	case u := <-tr.Updates():
		assert.Equal(t, int32(5), u.X)
	case <-time.After(time.Second):
		t.Fatal("a position-only change must still be forwarded")
	}
}

func TestTrackerDropsExactDuplicate(t *testing.T) {
	src := &fakeSource{}
	tr := NewTracker(src)
	require.NoError(t, tr.Start())

	u := Update{X: 0, Y: 0, Width: 2, Height: 2, ARGB: []byte{9, 9, 9, 9}}
	src.handler(u)
	<-tr.Updates()

	src.handler(u)
	select {
	case <-tr.Updates():
		t.Fatal("an exact duplicate must be dropped")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnavailableSourceAlwaysFails(t *testing.T) {
	tr := NewTracker(NewUnavailableSource())
	assert.ErrorIs(t, tr.Start(), ErrMetadataUnavailable)
}
