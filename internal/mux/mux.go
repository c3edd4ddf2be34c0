// Package mux implements the channel multiplexer of spec §5: four
// bounded priority queues feeding a single drain task that serializes
// PDUs onto the connection's outbound sink in strict priority order,
// never interleaving partial PDUs. Grounded on api/pkg/desktop/desktop.go's
// Server struct, which runs each concern (capture, input, clipboard) on
// its own goroutine communicating over channels rather than shared state.
package mux

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/rdperrors"
)

// Priority orders the four channel classes; lower value drains first.
type Priority int

const (
	PriorityControl Priority = iota
	PriorityGraphics
	PriorityInput
	PriorityClipboard
	priorityCount
)

// Sink is the external PDU codec/TLS-writer collaborator (spec §6): the
// multiplexer hands it fully-framed bytes in priority order and trusts
// it to write them without interleaving.
type Sink interface {
	WritePDU(ctx context.Context, payload []byte) error
}

// PDU is one outbound unit. CoalesceKey, when non-empty, lets the
// Graphics queue collapse a backlog down to the latest PDU per key
// (per-surface) instead of blocking capture.
type PDU struct {
	Payload     []byte
	CoalesceKey string
}

const (
	graphicsQueueCap  = 4
	inputQueueCap     = 64
	controlQueueCap   = 16
	clipboardQueueCap = 32

	shortBlock = 20 * time.Millisecond
)

// Multiplexer owns the four priority queues and the single drain
// goroutine that writes them, in priority order, to a Sink.
type Multiplexer struct {
	logger *slog.Logger
	sink   Sink

	queues [priorityCount]*queue

	stopCh   chan struct{}
	doneCh   chan struct{}
	startOnce sync.Once
}

// New builds a Multiplexer. Call Run to start the drain loop.
func New(logger *slog.Logger, sink Sink) *Multiplexer {
	m := &Multiplexer{
		logger: logger,
		sink:   sink,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	m.queues[PriorityControl] = newQueue(controlQueueCap, policyBlockThenError)
	m.queues[PriorityGraphics] = newQueue(graphicsQueueCap, policyDropOrCoalesce)
	m.queues[PriorityInput] = newQueue(inputQueueCap, policyBlockThenDropOldest)
	m.queues[PriorityClipboard] = newQueue(clipboardQueueCap, policyBlockThenDropOldest)
	return m
}

// SubmitControl admits a control-channel PDU. Per spec §5, Control
// blocks briefly under backpressure and then reports an error rather
// than silently dropping — control PDUs (capability negotiation,
// channel setup) are not safe to lose.
func (m *Multiplexer) SubmitControl(pdu PDU) error {
	return m.queues[PriorityControl].submit(pdu)
}

// SubmitGraphics admits a graphics-channel PDU, coalescing by
// CoalesceKey (surface id) when the queue is full rather than blocking
// the capture/encode pipeline.
func (m *Multiplexer) SubmitGraphics(pdu PDU) error {
	return m.queues[PriorityGraphics].submit(pdu)
}

// SubmitInput admits an input/cursor-channel PDU, dropping the oldest
// queued entry under sustained backpressure.
func (m *Multiplexer) SubmitInput(pdu PDU) error {
	return m.queues[PriorityInput].submit(pdu)
}

// SubmitClipboard admits a clipboard-channel PDU, dropping the oldest
// queued entry under sustained backpressure.
func (m *Multiplexer) SubmitClipboard(pdu PDU) error {
	return m.queues[PriorityClipboard].submit(pdu)
}

// Run starts the single drain goroutine and blocks until ctx is
// cancelled or Stop is called.
func (m *Multiplexer) Run(ctx context.Context) {
	m.startOnce.Do(func() {
		go m.drain(ctx)
	})
	<-m.doneCh
}

// drain is the ONLY goroutine that ever calls Sink.WritePDU, guaranteeing
// PDUs from different channels never interleave on the wire.
func (m *Multiplexer) drain(ctx context.Context) {
	defer close(m.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		default:
		}

		pdu, ok := m.nextPDU()
		if !ok {
			select {
			case <-time.After(time.Millisecond):
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
			continue
		}

		if err := m.sink.WritePDU(ctx, pdu.Payload); err != nil {
			m.logger.Error("mux: write PDU failed", "err", err)
			if rdperrors.Fatal(categoryOf(err)) {
				return
			}
		}
	}
}

func categoryOf(err error) rdperrors.Category {
	if cat, ok := rdperrors.CategoryOf(err); ok {
		return cat
	}
	return rdperrors.Transient
}

// nextPDU pops from the highest-priority non-empty queue.
func (m *Multiplexer) nextPDU() (PDU, bool) {
	for p := Priority(0); p < priorityCount; p++ {
		if pdu, ok := m.queues[p].tryPop(); ok {
			return pdu, true
		}
	}
	return PDU{}, false
}

// Stop halts the drain loop.
func (m *Multiplexer) Stop() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
}

// QueueDepth reports the current backlog for a priority, used by the
// video governor's feedback loop (spec §4.2.5).
func (m *Multiplexer) QueueDepth(p Priority) int {
	return m.queues[p].len()
}
