package video

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGovernorAdmitsWithinBudget(t *testing.T) {
	g := NewGovernor(ModeBalanced, 30)
	now := time.Now()

	assert.True(t, g.Admit(now)) // seeded with one token

	// Immediately retrying with no elapsed time should be refused: the
	// bucket had exactly one token and Admit just spent it.
	assert.False(t, g.Admit(now))

	later := now.Add(100 * time.Millisecond) // 30fps => 3 tokens' worth, capped at capacity 1
	assert.True(t, g.Admit(later))
}

func TestGovernorRetunesDownOnAckLag(t *testing.T) {
	g := NewGovernor(ModeBalanced, 30)
	start := g.TargetFPS()

	g.ReportFeedback(10, 10, 200*time.Millisecond)
	assert.Less(t, g.TargetFPS(), start)
}

func TestGovernorRetunesUpWhenCaughtUp(t *testing.T) {
	g := NewGovernor(ModeBalanced, 30)
	g.ReportFeedback(10, 10, 200*time.Millisecond)
	lowered := g.TargetFPS()

	g.ReportFeedback(0, 0, 10*time.Millisecond)
	assert.Greater(t, g.TargetFPS(), lowered)
}

func TestGovernorForcesIDRUnderSevereLag(t *testing.T) {
	g := NewGovernor(ModeInteractive, 30)
	assert.False(t, g.ShouldForceIDR())

	g.ReportFeedback(20, 20, 500*time.Millisecond)
	assert.True(t, g.ShouldForceIDR())
}

func TestGovernorFramerateClampedToRange(t *testing.T) {
	g := NewGovernor(ModeBalanced, 1000)
	assert.LessOrEqual(t, g.TargetFPS(), float64(MaxFramerate))

	g2 := NewGovernor(ModeBalanced, 0)
	assert.Equal(t, float64(DefaultFramerate), g2.TargetFPS())
}
