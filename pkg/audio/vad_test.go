package audio

import (
	"testing"
	"time"
)

func constantChunk(t *testing.T, amplitude int16, samples int) []byte {
	t.Helper()
	vals := make([]int16, samples)
	for i := range vals {
		vals[i] = amplitude
	}
	return pcmChunk(t, vals)
}

func TestGateForwardsSpeechImmediately(t *testing.T) {
	g := NewGate(0, 0, 0)
	now := time.Unix(1000, 0)

	loud := constantChunk(t, 2000, 160)
	if !g.ShouldForward(loud, now) {
		t.Fatal("loud chunk should forward")
	}
	if !g.Speaking() {
		t.Fatal("gate should be in speaking state")
	}
}

func TestGateSuppressesSilenceUntilKeepAlive(t *testing.T) {
	// Constant sub-enter energy stays suppressed until the keep-alive
	// interval elapses, then one frame passes.
	g := NewGate(0, 0, 0)
	quiet := constantChunk(t, 10, 160)
	start := time.Unix(1000, 0)

	for i := 0; i <= 24; i++ {
		now := start.Add(time.Duration(i) * 100 * time.Millisecond)
		if g.ShouldForward(quiet, now) {
			t.Fatalf("chunk at +%dms should be suppressed", i*100)
		}
	}
	if !g.ShouldForward(quiet, start.Add(2501*time.Millisecond)) {
		t.Fatal("keep-alive should fire after the interval elapses")
	}
}

func TestGateHysteresisPreventsChatter(t *testing.T) {
	// Once speaking, energy oscillating between exit and enter keeps
	// forwarding every chunk.
	g := NewGate(0, 0, 0)
	now := time.Unix(1000, 0)

	if !g.ShouldForward(constantChunk(t, 2000, 160), now) {
		t.Fatal("entry chunk should forward")
	}
	levels := []int16{750, 890, 710, 850, 799}
	for i, level := range levels {
		now = now.Add(100 * time.Millisecond)
		if !g.ShouldForward(constantChunk(t, level, 160), now) {
			t.Fatalf("oscillating chunk %d (amplitude %d) should keep forwarding", i, level)
		}
		if !g.Speaking() {
			t.Fatalf("gate should stay speaking at amplitude %d", level)
		}
	}
}

func TestGateExitsSpeechBelowExitThreshold(t *testing.T) {
	g := NewGate(0, 0, 0)
	now := time.Unix(1000, 0)

	if !g.ShouldForward(constantChunk(t, 2000, 160), now) {
		t.Fatal("entry chunk should forward")
	}
	now = now.Add(100 * time.Millisecond)
	if g.ShouldForward(constantChunk(t, 100, 160), now) {
		t.Fatal("sub-exit chunk should be suppressed")
	}
	if g.Speaking() {
		t.Fatal("gate should have left the speaking state")
	}
}
