// Package audio converts captured float PCM into the 16-bit little-endian
// frames the live upstream expects, and gates silence so sustained quiet does
// not saturate the channel. The encoder and downmix helpers serve capture-side
// clients producing the chunks; the gateway daemon itself only gates and
// forwards chunks that arrive already encoded.
package audio

import (
	"encoding/binary"
	"errors"
)

const (
	bytesPerSample = 2

	// DefaultChunkDuration is the target duration of one emitted chunk.
	DefaultChunkDurationMS = 100
)

var ErrInvalidRate = errors.New("audio: sample rates must be > 0")

// Encoder accumulates float samples and emits fixed-size PCM16 chunks.
// Resampling is nearest-neighbor index stepping; good enough for speech
// input, not a fidelity guarantee.
type Encoder struct {
	sourceRate int
	targetRate int
	chunkBytes int

	pending []byte
	cursor  float64
}

// NewEncoder returns an encoder producing chunkMS-sized chunks at targetRate.
// chunkMS <= 0 selects the default chunk duration.
func NewEncoder(sourceRate, targetRate, chunkMS int) (*Encoder, error) {
	if sourceRate <= 0 || targetRate <= 0 {
		return nil, ErrInvalidRate
	}
	if chunkMS <= 0 {
		chunkMS = DefaultChunkDurationMS
	}
	return &Encoder{
		sourceRate: sourceRate,
		targetRate: targetRate,
		chunkBytes: targetRate * chunkMS / 1000 * bytesPerSample,
	}, nil
}

// Write quantizes samples, resamples to the target rate and buffers the
// result. It returns one full chunk once enough bytes have accumulated,
// otherwise nil. There are no error conditions.
func (e *Encoder) Write(samples []float32) []byte {
	if len(samples) > 0 {
		step := float64(e.sourceRate) / float64(e.targetRate)
		for e.cursor < float64(len(samples)) {
			s := samples[int(e.cursor)]
			e.pending = binary.LittleEndian.AppendUint16(e.pending, uint16(quantize(s)))
			e.cursor += step
		}
		e.cursor -= float64(len(samples))
	}

	if len(e.pending) < e.chunkBytes {
		return nil
	}
	chunk := e.pending[:e.chunkBytes:e.chunkBytes]
	e.pending = append([]byte(nil), e.pending[e.chunkBytes:]...)
	return chunk
}

// Flush returns whatever is buffered, possibly shorter than a full chunk.
func (e *Encoder) Flush() []byte {
	out := e.pending
	e.pending = nil
	return out
}

// ChunkBytes reports the size of a full emitted chunk.
func (e *Encoder) ChunkBytes() int { return e.chunkBytes }

// quantize clamps to [-1, 1] and scales into the asymmetric int16 range:
// negative values by 32768, non-negative by 32767.
func quantize(s float32) int16 {
	if s < -1 {
		s = -1
	}
	if s > 1 {
		s = 1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// DownmixStereo keeps the left channel of interleaved stereo PCM16.
func DownmixStereo(stereo []byte) []byte {
	frames := len(stereo) / (2 * bytesPerSample)
	mono := make([]byte, frames*bytesPerSample)
	for i := 0; i < frames; i++ {
		left := binary.LittleEndian.Uint16(stereo[i*4:])
		binary.LittleEndian.PutUint16(mono[i*2:], left)
	}
	return mono
}

// Energy is the mean absolute amplitude of the 16-bit samples in chunk.
// Trailing odd bytes are ignored.
func Energy(chunk []byte) float64 {
	n := len(chunk) / bytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(chunk[i*bytesPerSample:]))
		if s < 0 {
			sum -= float64(s)
		} else {
			sum += float64(s)
		}
	}
	return sum / float64(n)
}
