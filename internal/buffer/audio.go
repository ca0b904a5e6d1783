package buffer

import (
	"sort"

	"github.com/replayd/replayd/internal/media"
)

// AudioBuffer holds the rolling window of encoded audio frames, ordered by
// non-decreasing PTS. It carries the same span bound as the video buffer but
// no keyframe constraint: every audio frame is independently decodable, so
// eviction trims straight down to the window edge.
type AudioBuffer struct {
	maxSpan int64
	frames  []media.AudioFrame
}

// NewAudioBuffer creates an audio buffer bounded to maxSpanMicros of content.
func NewAudioBuffer(maxSpanMicros int64) *AudioBuffer {
	return &AudioBuffer{maxSpan: maxSpanMicros}
}

// Push appends a newly encoded frame and trims the front so the window span
// stays under the bound.
func (b *AudioBuffer) Push(f media.AudioFrame) {
	b.frames = append(b.frames, f)

	newest := b.frames[len(b.frames)-1].PTS
	if newest-b.frames[0].PTS < b.maxSpan {
		return
	}
	edge := newest - b.maxSpan
	idx := sort.Search(len(b.frames), func(i int) bool {
		return b.frames[i].PTS > edge
	})
	b.frames = append(b.frames[:0], b.frames[idx:]...)
}

// OldestPTS returns the PTS of the oldest retained frame, or ErrNoFrames if
// the buffer is empty.
func (b *AudioBuffer) OldestPTS() (int64, error) {
	if len(b.frames) == 0 {
		return 0, ErrNoFrames
	}
	return b.frames[0].PTS, nil
}

// Span returns the time covered by the buffer, or zero when fewer than two
// frames are held.
func (b *AudioBuffer) Span() int64 {
	if len(b.frames) < 2 {
		return 0
	}
	return b.frames[len(b.frames)-1].PTS - b.frames[0].PTS
}

// Len returns the number of retained frames.
func (b *AudioBuffer) Len() int {
	return len(b.frames)
}

// Snapshot returns a copy of the retained frames in PTS order.
func (b *AudioBuffer) Snapshot() []media.AudioFrame {
	out := make([]media.AudioFrame, len(b.frames))
	copy(out, b.frames)
	return out
}

// Clear drops all frames.
func (b *AudioBuffer) Clear() {
	b.frames = b.frames[:0]
}
