package capture

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/replayd/replayd/internal/clock"
	"github.com/replayd/replayd/internal/media"
)

// VideoSource delivers raw BGRA pictures, one per call, blocking until the
// next frame is available.
type VideoSource interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// AudioSource delivers batches of interleaved float32 samples, blocking
// until samples are available.
type AudioSource interface {
	ReadSamples() ([]float32, error)
	Close() error
}

// RunVideoWorker is the long-lived video capture loop: it blocks on the
// source, stamps each frame with the shared clock, maintains the readiness
// flag for the audio side, and forwards frames into the bounded raw channel.
// A source failure terminates the worker with an error; the supervisor
// decides what to do with the process.
func RunVideoWorker(ctx context.Context, src VideoSource, clk *clock.Clock,
	ready *clock.Readiness, out chan<- media.RawVideo, log *slog.Logger) error {

	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "video-capture")
	defer ready.SetLive(false)

	log.Info("video capture running")
	for {
		frame, err := src.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("capture: video source: %w", err)
		}
		ready.SetLive(true)

		select {
		case <-ctx.Done():
			return nil
		case out <- media.RawVideo{PTS: clk.ElapsedMicros(), Data: frame}:
		}
	}
}

// RunAudioWorker is the long-lived audio capture loop. Samples delivered
// before the video stream is live are dropped, so the rolling window never
// holds audio with no corresponding video lead-in.
func RunAudioWorker(ctx context.Context, src AudioSource, clk *clock.Clock,
	ready *clock.Readiness, out chan<- media.RawAudio, log *slog.Logger) error {

	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "audio-capture")

	log.Info("audio capture running")
	for {
		samples, err := src.ReadSamples()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("capture: audio source: %w", err)
		}
		if !ready.Live() {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case out <- media.RawAudio{PTS: clk.ElapsedMicros(), Samples: samples}:
		}
	}
}
