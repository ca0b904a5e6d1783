package buffer

import (
	"sort"

	"github.com/replayd/replayd/internal/media"
)

// VideoBuffer holds the rolling window of encoded video frames, ordered by
// non-decreasing PTS. Keyframe boundaries are tracked by timestamp so that
// eviction and export-slice selection are range lookups rather than index
// arithmetic.
//
// Invariant: once at least one keyframe has been pushed, the oldest retained
// frame is a keyframe, or the buffer holds at most one frame.
type VideoBuffer struct {
	maxSpan int64 // maximum window span in microseconds
	frames  []media.VideoFrame

	// keyframes holds the PTS of every keyframe strictly after the current
	// front, in ascending order. The front keyframe itself is not listed:
	// entries are candidate eviction cutoffs, and the front is never a
	// valid cutoff.
	keyframes []int64
}

// NewVideoBuffer creates a video buffer bounded to maxSpanMicros of content.
func NewVideoBuffer(maxSpanMicros int64) *VideoBuffer {
	return &VideoBuffer{maxSpan: maxSpanMicros}
}

// Push appends a newly encoded frame and runs the eviction pass. Frames must
// arrive in non-decreasing PTS order; this holds by construction because the
// owning worker encodes samples in delivery order.
func (b *VideoBuffer) Push(f media.VideoFrame) {
	b.frames = append(b.frames, f)
	if f.Keyframe && len(b.frames) > 1 {
		b.keyframes = append(b.keyframes, f.PTS)
	}
	b.evict()
}

// evict trims the oldest frames while the window span is over-full and a
// keyframe boundary strictly after the front exists. If no such boundary
// exists yet the window is allowed to exceed its bound: trimming anywhere
// else would leave the window starting mid-GOP, and video exported without a
// leading keyframe is undecodable.
func (b *VideoBuffer) evict() {
	for len(b.frames) > 1 && len(b.keyframes) > 0 {
		if b.frames[len(b.frames)-1].PTS-b.frames[0].PTS < b.maxSpan {
			return
		}
		cutoff := b.keyframes[0]
		b.keyframes = b.keyframes[1:]

		idx := sort.Search(len(b.frames), func(i int) bool {
			return b.frames[i].PTS >= cutoff
		})
		b.frames = append(b.frames[:0], b.frames[idx:]...)
	}
}

// OldestPTS returns the PTS of the oldest retained frame, or ErrNoFrames if
// the buffer is empty.
func (b *VideoBuffer) OldestPTS() (int64, error) {
	if len(b.frames) == 0 {
		return 0, ErrNoFrames
	}
	return b.frames[0].PTS, nil
}

// Span returns the time covered by the buffer (newest PTS minus oldest PTS),
// or zero when fewer than two frames are held.
func (b *VideoBuffer) Span() int64 {
	if len(b.frames) < 2 {
		return 0
	}
	return b.frames[len(b.frames)-1].PTS - b.frames[0].PTS
}

// Len returns the number of retained frames.
func (b *VideoBuffer) Len() int {
	return len(b.frames)
}

// Front returns the oldest retained frame. It panics if the buffer is empty;
// callers check Len or OldestPTS first.
func (b *VideoBuffer) Front() media.VideoFrame {
	return b.frames[0]
}

// Snapshot returns a copy of the retained frames in PTS order. The exporter
// reads the copy; the buffer retains ownership of its own slice.
func (b *VideoBuffer) Snapshot() []media.VideoFrame {
	out := make([]media.VideoFrame, len(b.frames))
	copy(out, b.frames)
	return out
}

// Clear drops all frames and keyframe bookkeeping. Called after a successful
// export so the next capture epoch starts from an empty window.
func (b *VideoBuffer) Clear() {
	b.frames = b.frames[:0]
	b.keyframes = b.keyframes[:0]
}
