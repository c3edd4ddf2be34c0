package video

import (
	"sync"
	"time"
)

// QualityMode selects the governor's operating point, per spec §4.2.5.
type QualityMode int

const (
	ModeInteractive QualityMode = iota // favors latency: lower framerate ceiling under load, aggressive IDR-on-lag
	ModeBalanced
	ModeQuality // favors fidelity: tolerates more queued frames before throttling
)

const (
	DefaultFramerate = 30
	MinFramerate     = 5
	MaxFramerate     = 60
)

// Governor paces frame admission with a token bucket and adapts the
// target framerate to RTT, frame-ack lag, and queue depth feedback from
// the multiplexer (spec §4.2.5). It never reads the clock itself; Admit
// is called once per candidate frame with that frame's timestamp, so the
// token bucket's fill logic runs off timestamp deltas rather than a
// free-running counter — this keeps its behavior independent of whatever
// cadence the capture side happens to produce frames at.
type Governor struct {
	mu sync.Mutex

	mode      QualityMode
	targetFPS float64

	tokens       float64
	capacity     float64
	lastRefill   time.Time

	ackLagFrames  int
	queueDepth    int
	rttEstimate   time.Duration
}

// NewGovernor creates a governor at the given mode and initial framerate
// (clamped to [MinFramerate, MaxFramerate]).
func NewGovernor(mode QualityMode, initialFPS int) *Governor {
	fps := clampFPS(initialFPS)
	return &Governor{
		mode:       mode,
		targetFPS:  float64(fps),
		tokens:     1,
		capacity:   1,
		lastRefill: time.Now(),
	}
}

func clampFPS(fps int) int {
	if fps <= 0 {
		return DefaultFramerate
	}
	if fps < MinFramerate {
		return MinFramerate
	}
	if fps > MaxFramerate {
		return MaxFramerate
	}
	return fps
}

// Admit reports whether a newly captured frame should be let through to
// the encoder right now, refilling the token bucket based on elapsed time
// since the last call, as measured by the caller-supplied now. Callers
// must call it once per candidate frame in capture order.
func (g *Governor) Admit(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	elapsed := now.Sub(g.lastRefill)
	if elapsed < 0 {
		elapsed = 0
	}
	g.lastRefill = now

	g.tokens += elapsed.Seconds() * g.targetFPS
	if g.tokens > g.capacity {
		g.tokens = g.capacity
	}

	if g.tokens < 1 {
		return false
	}
	g.tokens--
	return true
}

// ReportFeedback updates the adaptive inputs the governor uses to retune
// targetFPS: accumulated frame-ack lag (frames sent but not yet
// acknowledged by the client), current outbound queue depth, and a
// smoothed RTT estimate.
func (g *Governor) ReportFeedback(ackLagFrames, queueDepth int, rtt time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ackLagFrames = ackLagFrames
	g.queueDepth = queueDepth
	g.rttEstimate = rtt
	g.retune()
}

// retune adjusts targetFPS downward under sustained backpressure and lets
// it recover when the client catches up, with headroom governed by mode.
func (g *Governor) retune() {
	lagThreshold, recoverThreshold := g.thresholds()

	switch {
	case g.ackLagFrames > lagThreshold || g.queueDepth > lagThreshold:
		g.targetFPS = maxF(float64(MinFramerate), g.targetFPS*0.75)
	case g.ackLagFrames < recoverThreshold && g.queueDepth < recoverThreshold:
		g.targetFPS = minF(float64(MaxFramerate), g.targetFPS*1.1)
	}
	if g.capacity < g.targetFPS {
		// Allow at most ~1 second of burst headroom.
		g.capacity = g.targetFPS
	}
}

func (g *Governor) thresholds() (lag, recover int) {
	switch g.mode {
	case ModeInteractive:
		return 2, 1
	case ModeQuality:
		return 6, 2
	default: // ModeBalanced
		return 4, 1
	}
}

// ShouldForceIDR reports whether accumulated ack lag is severe enough
// that the encoder should emit an IDR rather than a P-frame on the next
// admitted frame, per spec §4.2.5's ack-lag-driven IDR forcing.
func (g *Governor) ShouldForceIDR() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	lagThreshold, _ := g.thresholds()
	return g.ackLagFrames > lagThreshold*3
}

// TargetFPS reports the current adaptive target, e.g. for logging.
func (g *Governor) TargetFPS() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.targetFPS
}

// SetMode switches quality mode, re-deriving thresholds immediately.
func (g *Governor) SetMode(mode QualityMode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mode = mode
	g.retune()
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
