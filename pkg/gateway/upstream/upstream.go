// Package upstream abstracts the streaming model provider behind a
// connect/handle pair. Provider callbacks are surfaced as a single event
// channel so the session state machine is never reentered from inside its
// own handler.
package upstream

import (
	"context"
	"strings"
)

// StartParams is the configuration a session opens (and reopens) its
// provider connection with.
type StartParams struct {
	Model              string
	ResponseModalities []string
	SystemInstruction  string
}

type EventKind int

const (
	// KindOpened fires once the provider session is ready for input.
	KindOpened EventKind = iota
	// KindTextDelta carries an incremental model text fragment.
	KindTextDelta
	// KindTranscriptDelta carries an incremental input transcription fragment.
	KindTranscriptDelta
	// KindAudioDelta carries one synthesized audio chunk.
	KindAudioDelta
	// KindTurnComplete marks the provider's turn boundary.
	KindTurnComplete
	// KindClosed means the provider connection is gone; Reason may explain why.
	KindClosed
	// KindError reports a provider-side error that did not close the connection.
	KindError
)

// Event is one demultiplexed provider notification. Exactly one delivery per
// provider message, in arrival order.
type Event struct {
	Kind   EventKind
	Text   string
	Audio  []byte
	Mime   string
	Reason string
	Err    error
}

// Handle is a live provider connection, exclusively owned by one session.
type Handle interface {
	// SendText forwards text as a committed user turn.
	SendText(ctx context.Context, text string) error
	// SendAudio forwards one PCM16 chunk as realtime input.
	SendAudio(ctx context.Context, data []byte, mime string) error
	// SendImage forwards one image frame as realtime input.
	SendImage(ctx context.Context, data []byte, mime string) error
	// Events yields provider events until the connection closes; the channel
	// is closed after the terminal KindClosed event.
	Events() <-chan Event
	// Close tears the connection down. Closing twice is a no-op.
	Close() error
}

// Connector opens provider connections. Implementations must not share
// connection state between calls.
type Connector interface {
	Connect(ctx context.Context, params StartParams) (Handle, error)
}

// authFailurePhrases mirrors the provider's free-text auth errors. Matching
// on message content is fragile; it lives here, and only here, so it can be
// swapped for structured codes if the provider ever supplies them.
var authFailurePhrases = []string{
	"api key not valid",
	"invalid api key",
	"authentication failed",
	"unauthorized",
}

// IsAuthFailure reports whether a provider error or close reason indicates a
// credential problem. Auth failures are terminal: retrying with a bad key
// never succeeds.
func IsAuthFailure(message string) bool {
	message = strings.ToLower(message)
	for _, phrase := range authFailurePhrases {
		if strings.Contains(message, phrase) {
			return true
		}
	}
	return false
}
