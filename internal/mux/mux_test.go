package mux

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	written [][]byte
}

func (s *recordingSink) WritePDU(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, append([]byte(nil), payload...))
	return nil
}

func (s *recordingSink) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.written...)
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestMultiplexerDrainsControlBeforeGraphics(t *testing.T) {
	sink := &recordingSink{}
	m := New(testLogger(), sink)

	require.NoError(t, m.SubmitGraphics(PDU{Payload: []byte("graphics")}))
	require.NoError(t, m.SubmitControl(PDU{Payload: []byte("control")}))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go m.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	written := sink.snapshot()
	require.GreaterOrEqual(t, len(written), 2)
	assert.Equal(t, "control", string(written[0]))
}

func TestGraphicsQueueCoalescesByKey(t *testing.T) {
	q := newQueue(4, policyDropOrCoalesce)
	require.NoError(t, q.submit(PDU{Payload: []byte("v1"), CoalesceKey: "surface-1"}))
	require.NoError(t, q.submit(PDU{Payload: []byte("v2"), CoalesceKey: "surface-1"}))

	assert.Equal(t, 1, q.len())
	pdu, ok := q.tryPop()
	require.True(t, ok)
	assert.Equal(t, "v2", string(pdu.Payload))
}

func TestGraphicsQueueDropsWhenFullAndNoCoalesceMatch(t *testing.T) {
	q := newQueue(2, policyDropOrCoalesce)
	require.NoError(t, q.submit(PDU{Payload: []byte("a"), CoalesceKey: "s1"}))
	require.NoError(t, q.submit(PDU{Payload: []byte("b"), CoalesceKey: "s2"}))
	require.NoError(t, q.submit(PDU{Payload: []byte("c"), CoalesceKey: "s3"})) // dropped, queue full

	assert.Equal(t, 2, q.len())
}

func TestInputQueueDropsOldestUnderPressure(t *testing.T) {
	q := newQueue(2, policyBlockThenDropOldest)
	require.NoError(t, q.submit(PDU{Payload: []byte("1")}))
	require.NoError(t, q.submit(PDU{Payload: []byte("2")}))
	require.NoError(t, q.submit(PDU{Payload: []byte("3")})) // should drop "1" after brief block

	first, ok := q.tryPop()
	require.True(t, ok)
	assert.Equal(t, "2", string(first.Payload))
}

func TestControlQueueErrorsWhenFull(t *testing.T) {
	q := newQueue(1, policyBlockThenError)
	require.NoError(t, q.submit(PDU{Payload: []byte("1")}))
	err := q.submit(PDU{Payload: []byte("2")})
	assert.Error(t, err)
}
