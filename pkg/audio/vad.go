package audio

import "time"

const (
	// DefaultEnterThreshold is the mean-amplitude level that starts speech.
	DefaultEnterThreshold = 900
	// DefaultHysteresis is subtracted from the enter threshold while already
	// speaking, so energy wobbling at the boundary does not chatter.
	DefaultHysteresis = 200
	// DefaultKeepAlive bounds how long silence may go unforwarded.
	DefaultKeepAlive = 2500 * time.Millisecond
)

// Gate decides per chunk whether audio is worth forwarding upstream.
// One Gate per capture stream; it is not safe for concurrent use.
type Gate struct {
	enter     float64
	exit      float64
	keepAlive time.Duration

	speaking bool
	lastSend time.Time
}

// NewGate returns a gate with the given enter threshold, hysteresis band and
// silence keep-alive interval. Non-positive arguments select the defaults.
func NewGate(enter, hysteresis float64, keepAlive time.Duration) *Gate {
	if enter <= 0 {
		enter = DefaultEnterThreshold
	}
	if hysteresis <= 0 {
		hysteresis = DefaultHysteresis
	}
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &Gate{enter: enter, exit: enter - hysteresis, keepAlive: keepAlive}
}

// ShouldForward reports whether chunk should be sent upstream at time now.
// Speech entry requires energy above the enter threshold; once speaking,
// anything above the lower exit threshold keeps the stream open. During
// silence a keep-alive frame passes every keepAlive interval so server-side
// silence detection does not drop the channel.
func (g *Gate) ShouldForward(chunk []byte, now time.Time) bool {
	if g.lastSend.IsZero() {
		g.lastSend = now
	}
	energy := Energy(chunk)

	entering := !g.speaking && energy > g.enter
	staying := g.speaking && energy > g.exit
	keepAlive := !g.speaking && now.Sub(g.lastSend) > g.keepAlive

	if !entering && !staying && !keepAlive {
		if g.speaking {
			g.speaking = false
		}
		return false
	}

	g.speaking = entering || staying
	g.lastSend = now
	return true
}

// Speaking reports whether the gate currently considers the stream speech.
func (g *Gate) Speaking() bool { return g.speaking }
