// Package clock provides the shared capture clock and the video/audio
// readiness handshake. Both capture workers derive their timestamps from one
// Clock so video and audio live in the same time domain despite running on
// independent goroutines with independent delivery cadences.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock captures one process-wide start instant. Every raw sample timestamp
// is the elapsed time since that instant, in microseconds.
type Clock struct {
	start time.Time
}

// New creates a Clock whose origin is the current instant.
func New() *Clock {
	return &Clock{start: time.Now()}
}

// At creates a Clock with an explicit origin. Used by tests to produce
// deterministic timestamps.
func At(start time.Time) *Clock {
	return &Clock{start: start}
}

// ElapsedMicros returns the microseconds elapsed since the clock origin.
func (c *Clock) ElapsedMicros() int64 {
	return time.Since(c.start).Microseconds()
}

// Readiness gates audio capture on video liveness. The video worker sets the
// flag when its capture stream is delivering frames and clears it otherwise;
// the audio worker polls it and drops samples while video is not live, so the
// rolling window never holds audio with no corresponding video lead-in.
type Readiness struct {
	live atomic.Bool
}

// SetLive records whether the video capture stream is currently live.
func (r *Readiness) SetLive(v bool) {
	r.live.Store(v)
}

// Live reports whether the video capture stream is currently live.
func (r *Readiness) Live() bool {
	return r.live.Load()
}
