package export

import (
	"errors"
	"testing"

	"github.com/replayd/replayd/internal/media"
)

func vf(pts int64, key bool) media.VideoFrame {
	return media.VideoFrame{PTS: pts, DTS: pts, Keyframe: key, Payload: []byte{0x01}}
}

func af(pts int64) media.AudioFrame {
	return media.AudioFrame{PTS: pts, Payload: []byte{0x02}}
}

func TestBuildPlanEmptyBuffers(t *testing.T) {
	t.Parallel()

	if _, err := BuildPlan(nil, nil); !errors.Is(err, ErrNoFrames) {
		t.Fatalf("empty video: got %v, want ErrNoFrames", err)
	}
	if _, err := BuildPlan([]media.VideoFrame{vf(0, true)}, nil); !errors.Is(err, ErrNoFrames) {
		t.Fatalf("empty audio: got %v, want ErrNoFrames", err)
	}
}

func TestBuildPlanNoKeyframe(t *testing.T) {
	t.Parallel()

	_, err := BuildPlan([]media.VideoFrame{vf(0, false), vf(1, false)}, []media.AudioFrame{af(0)})
	if !errors.Is(err, ErrNoKeyframe) {
		t.Fatalf("got %v, want ErrNoKeyframe", err)
	}
}

func TestBuildPlanEndsAtLastKeyframe(t *testing.T) {
	t.Parallel()

	video := []media.VideoFrame{
		vf(1000, true),
		vf(2000, false),
		vf(3000, true), // boundary keyframe: the export ends on it
		vf(4000, false),
		vf(5000, false),
	}
	plan, err := BuildPlan(video, []media.AudioFrame{af(1000)})
	if err != nil {
		t.Fatal(err)
	}

	if len(plan.Video) != 3 {
		t.Fatalf("video frames: got %d, want 3", len(plan.Video))
	}
	last := plan.Video[len(plan.Video)-1]
	if last.PTS != 2000 {
		t.Errorf("last exported pts (rebased): got %d, want 2000", last.PTS)
	}
	if !last.Keyframe {
		t.Error("last exported frame must be the boundary keyframe")
	}
}

func TestBuildPlanLoneLeadingKeyframe(t *testing.T) {
	t.Parallel()

	// Only keyframe is the first frame: boundary and window start coincide,
	// so exactly that frame is exported.
	video := []media.VideoFrame{vf(0, true), vf(1000, false), vf(2000, false)}
	plan, err := BuildPlan(video, []media.AudioFrame{af(0)})
	if err != nil {
		t.Fatal(err)
	}

	if len(plan.Video) != 1 {
		t.Fatalf("video frames: got %d, want 1", len(plan.Video))
	}
	if !plan.Video[0].Keyframe {
		t.Error("exported frame must be the keyframe")
	}
}

func TestBuildPlanRebasesToZero(t *testing.T) {
	t.Parallel()

	video := []media.VideoFrame{
		vf(7_000_000, true),
		vf(7_033_000, false),
		vf(7_066_000, true),
	}
	audio := []media.AudioFrame{af(7_010_000), af(7_030_000)}

	plan, err := BuildPlan(video, audio)
	if err != nil {
		t.Fatal(err)
	}

	if plan.Video[0].PTS != 0 {
		t.Errorf("first video pts: got %d, want 0", plan.Video[0].PTS)
	}
	if plan.Video[1].PTS != 33_000 {
		t.Errorf("second video pts: got %d, want 33000", plan.Video[1].PTS)
	}
	if plan.Audio[0].PTS != 0 {
		t.Errorf("first audio pts: got %d, want 0 (audio rebases independently)", plan.Audio[0].PTS)
	}
}

func TestBuildPlanClampsNegativeDTS(t *testing.T) {
	t.Parallel()

	video := []media.VideoFrame{
		{PTS: 1000, DTS: 500, Keyframe: true},
		{PTS: 2000, DTS: 1500},
		{PTS: 3000, DTS: 2500, Keyframe: true},
	}
	plan, err := BuildPlan(video, []media.AudioFrame{af(1000)})
	if err != nil {
		t.Fatal(err)
	}

	// First frame's dts would rebase to -500.
	if plan.Video[0].DTS != 0 {
		t.Errorf("first dts: got %d, want 0 (clamped)", plan.Video[0].DTS)
	}
	if plan.Video[1].DTS != 500 {
		t.Errorf("second dts: got %d, want 500", plan.Video[1].DTS)
	}
}

func TestBuildPlanCapsAudioToVideo(t *testing.T) {
	t.Parallel()

	video := []media.VideoFrame{
		vf(0, true),
		vf(100_000, false),
		vf(200_000, true), // boundary keyframe: the last exported video frame
	}
	audio := []media.AudioFrame{
		af(0), af(50_000), af(200_000),
		af(250_000), // beyond the boundary keyframe
	}

	plan, err := BuildPlan(video, audio)
	if err != nil {
		t.Fatal(err)
	}

	if len(plan.Audio) != 3 {
		t.Fatalf("audio frames: got %d, want 3 (tail capped)", len(plan.Audio))
	}
	lastVideo := plan.Video[len(plan.Video)-1].PTS
	for _, a := range plan.Audio {
		if a.PTS > lastVideo {
			t.Errorf("audio pts %d outlasts video end %d", a.PTS, lastVideo)
		}
	}
}

func TestBuildPlanLeavesInputUntouched(t *testing.T) {
	t.Parallel()

	video := []media.VideoFrame{vf(5000, true), vf(6000, false)}
	audio := []media.AudioFrame{af(5000)}

	if _, err := BuildPlan(video, audio); err != nil {
		t.Fatal(err)
	}

	// Rebase must operate on copies: a failed export retries against the
	// same window, which must be bit-identical.
	if video[0].PTS != 5000 || video[1].PTS != 6000 {
		t.Error("video input mutated by BuildPlan")
	}
	if audio[0].PTS != 5000 {
		t.Error("audio input mutated by BuildPlan")
	}
}
