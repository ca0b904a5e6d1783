package buffer

import (
	"testing"

	"github.com/replayd/replayd/internal/media"
)

func videoFrame(pts int64, key bool) media.VideoFrame {
	return media.VideoFrame{PTS: pts, DTS: pts, Keyframe: key, Payload: []byte{0x01}}
}

func TestVideoBufferOldestPTSEmpty(t *testing.T) {
	t.Parallel()
	b := NewVideoBuffer(1_000_000)

	if _, err := b.OldestPTS(); err != ErrNoFrames {
		t.Fatalf("OldestPTS on empty buffer: got %v, want ErrNoFrames", err)
	}
}

func TestVideoBufferKeyframeInvariant(t *testing.T) {
	t.Parallel()

	// 30-frame GOPs at ~30fps against a 10s window: after every push the
	// front frame must be a keyframe once eviction has run at least once.
	const (
		gop     = 30
		spacing = 33_000
		maxSpan = 10_000_000
	)
	b := NewVideoBuffer(maxSpan)

	for i := 0; i < 400; i++ {
		b.Push(videoFrame(int64(i)*spacing, i%gop == 0))

		if b.Len() > 1 && !b.Front().Keyframe && i >= gop {
			t.Fatalf("after push %d: front frame is not a keyframe", i)
		}
	}
}

func TestVideoBufferWindowBoundStabilizes(t *testing.T) {
	t.Parallel()

	// Scenario: gop 30, 10s window, 33ms spacing, 400 frames. The buffer
	// must stabilize rather than grow, and never hold much more than the
	// window plus one GOP of slack (eviction lands on keyframes only).
	const (
		gop     = 30
		spacing = 33_000
		maxSpan = 10_000_000
	)
	b := NewVideoBuffer(maxSpan)

	maxLen := 0
	for i := 0; i < 400; i++ {
		b.Push(videoFrame(int64(i)*spacing, i%gop == 0))
		if b.Len() > maxLen {
			maxLen = b.Len()
		}
	}

	// 10s at 33ms is ~303 frames; one GOP of slack is 30 more.
	if maxLen > 335 {
		t.Errorf("buffer grew to %d frames, want <= 335", maxLen)
	}
	if b.Span() > maxSpan+int64(gop)*spacing {
		t.Errorf("span %d exceeds window plus one GOP", b.Span())
	}
	if !b.Front().Keyframe {
		t.Error("front frame is not a keyframe after stabilizing")
	}
}

func TestVideoBufferEvictsAtKeyframeBoundary(t *testing.T) {
	t.Parallel()
	b := NewVideoBuffer(1_000_000)

	// Two GOPs spanning well past the window.
	b.Push(videoFrame(0, true))
	b.Push(videoFrame(400_000, false))
	b.Push(videoFrame(800_000, true))
	b.Push(videoFrame(1_200_000, false))

	// Span hit 1.2s on the last push; the trim lands on the second
	// keyframe, not mid-GOP.
	pts, err := b.OldestPTS()
	if err != nil {
		t.Fatal(err)
	}
	if pts != 800_000 {
		t.Errorf("oldest pts: got %d, want 800000", pts)
	}
	if !b.Front().Keyframe {
		t.Error("front is not a keyframe after eviction")
	}
}

func TestVideoBufferDefersEvictionWithoutBoundary(t *testing.T) {
	t.Parallel()
	b := NewVideoBuffer(1_000_000)

	// One endless GOP: the window is over-full but there is no keyframe
	// boundary after the front, so nothing may be trimmed.
	for i := 0; i < 100; i++ {
		b.Push(videoFrame(int64(i)*100_000, i == 0))
	}

	if b.Len() != 100 {
		t.Errorf("length: got %d, want 100 (eviction must defer)", b.Len())
	}
	if pts, _ := b.OldestPTS(); pts != 0 {
		t.Errorf("oldest pts: got %d, want 0", pts)
	}
}

func TestVideoBufferEvictionBatchesMultipleGOPs(t *testing.T) {
	t.Parallel()
	b := NewVideoBuffer(500_000)

	// Frames 200ms apart, keyframe every 2 frames: repeated trims must
	// walk forward across several boundaries to restore the bound.
	for i := 0; i < 20; i++ {
		b.Push(videoFrame(int64(i)*200_000, i%2 == 0))
	}

	if b.Span() > 500_000 {
		t.Errorf("span %d exceeds bound with boundaries available", b.Span())
	}
	if !b.Front().Keyframe {
		t.Error("front is not a keyframe")
	}
}

func TestVideoBufferClear(t *testing.T) {
	t.Parallel()
	b := NewVideoBuffer(1_000_000)
	b.Push(videoFrame(0, true))
	b.Push(videoFrame(33_000, false))

	b.Clear()

	if b.Len() != 0 {
		t.Errorf("length after clear: got %d, want 0", b.Len())
	}
	if _, err := b.OldestPTS(); err != ErrNoFrames {
		t.Errorf("OldestPTS after clear: got %v, want ErrNoFrames", err)
	}

	// A fresh epoch after Clear must behave like a new buffer.
	b.Push(videoFrame(0, true))
	if pts, _ := b.OldestPTS(); pts != 0 {
		t.Errorf("oldest pts after re-push: got %d, want 0", pts)
	}
}

func TestVideoBufferSnapshotIsCopy(t *testing.T) {
	t.Parallel()
	b := NewVideoBuffer(1_000_000)
	b.Push(videoFrame(0, true))

	snap := b.Snapshot()
	b.Clear()

	if len(snap) != 1 || snap[0].PTS != 0 {
		t.Error("snapshot must survive buffer mutation")
	}
}
