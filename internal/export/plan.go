// Package export turns a frozen pair of rolling-window snapshots into a
// playable fMP4 clip: it selects a GOP-aligned slice of the video window,
// rebases both tracks onto independent zero-based timelines, caps audio to
// the video it accompanies, and muxes the result.
package export

import (
	"errors"
	"fmt"

	"github.com/replayd/replayd/internal/media"
)

// Sentinel errors distinguishing export failure modes.
var (
	ErrNoFrames   = errors.New("export: no frames to export")
	ErrNoKeyframe = errors.New("export: no keyframe in video window")
)

// Plan is the computed slice of the rolling window for one export: frames
// carry rebased timestamps and are ready to hand to the muxer. Transient,
// computed fresh per trigger.
type Plan struct {
	Video []media.VideoFrame
	Audio []media.AudioFrame
}

// BuildPlan selects and rebases the exportable slice of the frozen buffers.
//
// The export ends on the last keyframe: the boundary keyframe is the final
// exported frame and everything after it is excluded, because a partial
// group of pictures at the tail would leave trailing frames without the
// references they need.
//
// Video timestamps are rebased so the first exported frame lands at zero;
// rebased DTS is clamped to >= 0. Audio is rebased against its own oldest
// frame, and any audio frame whose original PTS exceeds the last exported
// video frame's original PTS is dropped: audio never outlasts the video it
// accompanies.
func BuildPlan(video []media.VideoFrame, audio []media.AudioFrame) (Plan, error) {
	if len(video) == 0 {
		return Plan{}, fmt.Errorf("%w: video window has no oldest pts", ErrNoFrames)
	}
	if len(audio) == 0 {
		return Plan{}, fmt.Errorf("%w: audio window has no oldest pts", ErrNoFrames)
	}

	lastKF := -1
	for i := len(video) - 1; i >= 0; i-- {
		if video[i].Keyframe {
			lastKF = i
			break
		}
	}
	if lastKF < 0 {
		return Plan{}, ErrNoKeyframe
	}

	end := lastKF + 1

	firstPTSOffset := video[0].PTS
	outVideo := make([]media.VideoFrame, 0, end)
	for _, f := range video[:end] {
		f.PTS -= firstPTSOffset
		f.DTS -= firstPTSOffset
		if f.DTS < 0 {
			f.DTS = 0
		}
		outVideo = append(outVideo, f)
	}

	videoEndPTS := video[end-1].PTS

	audioOffset := audio[0].PTS
	var outAudio []media.AudioFrame
	for _, f := range audio {
		if f.PTS > videoEndPTS {
			break
		}
		f.PTS -= audioOffset
		outAudio = append(outAudio, f)
	}

	return Plan{Video: outVideo, Audio: outAudio}, nil
}
