package export

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"

	"github.com/replayd/replayd/internal/encode"
	"github.com/replayd/replayd/internal/media"
)

// Track IDs and timescales for the two-track output. Video timestamps are
// already microseconds, so the video track uses a microsecond timescale;
// the Opus track uses its sample rate, as players expect.
const (
	videoTrackID        = 1
	audioTrackID        = 2
	videoTimescale      = 1_000_000
	defaultVideoFrameUS = 16_667 // last-sample duration fallback at 60fps
)

// Writer muxes export plans into fragmented MP4 clips on disk, one file per
// save trigger, named from the export time.
type Writer struct {
	log *slog.Logger
	dir string

	frameRate int
}

// NewWriter creates a Writer that places clips in dir. frameRate is used to
// assign the final video sample's duration. If log is nil, slog.Default()
// is used.
func NewWriter(dir string, frameRate int, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{
		log:       log.With("component", "export"),
		dir:       dir,
		frameRate: frameRate,
	}
}

// Export selects the GOP-aligned slice of the frozen buffers, muxes it, and
// returns the path of the written clip. On any failure no output file is
// left behind and the caller's buffers are untouched, so a later trigger can
// retry against the same window.
func (w *Writer) Export(video []media.VideoFrame, audio []media.AudioFrame,
	vp encode.VideoParams, ap encode.AudioParams) (string, error) {

	plan, err := BuildPlan(video, audio)
	if err != nil {
		return "", err
	}
	if vp.SPS == nil || vp.PPS == nil {
		return "", fmt.Errorf("export: missing video codec parameters")
	}
	if ap.SampleRate == 0 || ap.Channels == 0 {
		return "", fmt.Errorf("export: missing audio codec parameters")
	}

	path := filepath.Join(w.dir, fmt.Sprintf("clip_%d.mp4", time.Now().Unix()))
	w.log.Info("exporting clip",
		"path", path,
		"video_frames", len(plan.Video),
		"audio_frames", len(plan.Audio),
	)

	if err := w.write(path, plan, vp, ap); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (w *Writer) write(path string, plan Plan, vp encode.VideoParams, ap encode.AudioParams) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %q: %w", path, err)
	}
	defer f.Close()

	init := fmp4.Init{
		Tracks: []*fmp4.InitTrack{
			{
				ID:        videoTrackID,
				TimeScale: videoTimescale,
				Codec: &fmp4.CodecH264{
					SPS: vp.SPS,
					PPS: vp.PPS,
				},
			},
			{
				ID:        audioTrackID,
				TimeScale: uint32(ap.SampleRate),
				Codec: &fmp4.CodecOpus{
					ChannelCount: ap.Channels,
				},
			},
		},
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return fmt.Errorf("export: marshal init segment: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("export: write init segment: %w", err)
	}

	part := fmp4.Part{
		Tracks: []*fmp4.PartTrack{
			w.videoTrack(plan.Video),
			w.audioTrack(plan.Audio, ap.SampleRate),
		},
	}

	buf.Reset()
	if err := part.Marshal(&buf); err != nil {
		return fmt.Errorf("export: marshal media segment: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("export: write media segment: %w", err)
	}
	return nil
}

// videoTrack lays the rebased video frames onto the track timeline. Sample
// durations come from successive DTS deltas; the final sample falls back to
// the nominal frame interval.
func (w *Writer) videoTrack(frames []media.VideoFrame) *fmp4.PartTrack {
	samples := make([]*fmp4.PartSample, len(frames))
	for i, fr := range frames {
		dur := int64(defaultVideoFrameUS)
		if w.frameRate > 0 {
			dur = videoTimescale / int64(w.frameRate)
		}
		if i+1 < len(frames) {
			dur = frames[i+1].DTS - fr.DTS
		}
		samples[i] = &fmp4.PartSample{
			Duration:        uint32(dur),
			PTSOffset:       int32(fr.PTS - fr.DTS),
			IsNonSyncSample: !fr.Keyframe,
			Payload:         fr.Payload,
		}
	}
	return &fmp4.PartTrack{
		ID:      videoTrackID,
		Samples: samples,
	}
}

// audioTrack converts the rebased microsecond audio timestamps into the
// track's sample-rate timescale. Opus packets are fixed 20ms frames, so the
// final sample's duration is one frame.
func (w *Writer) audioTrack(frames []media.AudioFrame, sampleRate int) *fmp4.PartTrack {
	toUnits := func(micros int64) int64 {
		return micros * int64(sampleRate) / 1_000_000
	}
	samples := make([]*fmp4.PartSample, len(frames))
	for i, fr := range frames {
		dur := int64(encode.OpusFrameSize)
		if i+1 < len(frames) {
			dur = toUnits(frames[i+1].PTS) - toUnits(fr.PTS)
		}
		samples[i] = &fmp4.PartSample{
			Duration: uint32(dur),
			Payload:  fr.Payload,
		}
	}
	return &fmp4.PartTrack{
		ID:      audioTrackID,
		Samples: samples,
	}
}
