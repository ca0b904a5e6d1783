package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/replayd/replayd/internal/clock"
	"github.com/replayd/replayd/internal/media"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeVideoSource delivers queued frames, then reports the configured error.
type fakeVideoSource struct {
	frames chan []byte
	err    error
}

func (s *fakeVideoSource) ReadFrame() ([]byte, error) {
	f, ok := <-s.frames
	if !ok {
		return nil, s.err
	}
	return f, nil
}

func (s *fakeVideoSource) Close() error { return nil }

type fakeAudioSource struct {
	batches chan []float32
	err     error
}

func (s *fakeAudioSource) ReadSamples() ([]float32, error) {
	b, ok := <-s.batches
	if !ok {
		return nil, s.err
	}
	return b, nil
}

func (s *fakeAudioSource) Close() error { return nil }

func TestVideoWorkerStampsAndForwards(t *testing.T) {
	t.Parallel()

	src := &fakeVideoSource{frames: make(chan []byte, 2), err: io.EOF}
	src.frames <- []byte{0x01}
	src.frames <- []byte{0x02}
	close(src.frames)

	clk := clock.At(time.Now().Add(-time.Second))
	var ready clock.Readiness
	out := make(chan media.RawVideo, 2)

	err := RunVideoWorker(context.Background(), src, clk, &ready, out, discardLogger())
	if err == nil {
		t.Fatal("worker should report the source failure")
	}

	first := <-out
	second := <-out
	if first.Data[0] != 0x01 || second.Data[0] != 0x02 {
		t.Error("frames delivered out of order")
	}
	if first.PTS < 1_000_000 {
		t.Errorf("first pts: got %d, want >= 1000000 (stamped from the shared clock)", first.PTS)
	}
	if second.PTS < first.PTS {
		t.Errorf("pts went backwards: %d then %d", first.PTS, second.PTS)
	}
	if ready.Live() {
		t.Error("readiness should be cleared when the worker exits")
	}
}

func TestVideoWorkerCancelledContextIsClean(t *testing.T) {
	t.Parallel()

	src := &fakeVideoSource{frames: make(chan []byte), err: errors.New("stream torn down")}
	close(src.frames)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ready clock.Readiness
	out := make(chan media.RawVideo, 1)
	if err := RunVideoWorker(ctx, src, clock.New(), &ready, out, discardLogger()); err != nil {
		t.Fatalf("source failure during shutdown should not be an error: %v", err)
	}
}

func TestAudioWorkerDropsWhileVideoNotLive(t *testing.T) {
	t.Parallel()

	src := &fakeAudioSource{batches: make(chan []float32, 2), err: io.EOF}
	src.batches <- []float32{0.1}
	src.batches <- []float32{0.2}
	close(src.batches)

	var ready clock.Readiness
	out := make(chan media.RawAudio, 2)
	err := RunAudioWorker(context.Background(), src, clock.New(), &ready, out, discardLogger())
	if err == nil {
		t.Fatal("worker should report the source failure")
	}

	// Nothing may reach the pipeline: audio with no video lead-in would
	// leave the rolling window holding sound over a black screen.
	select {
	case extra := <-out:
		t.Errorf("pre-liveness batch leaked into the pipeline: %v", extra.Samples)
	default:
	}
}

func TestAudioWorkerForwardsWhileVideoLive(t *testing.T) {
	t.Parallel()

	src := &fakeAudioSource{batches: make(chan []float32, 1), err: io.EOF}
	src.batches <- []float32{0.2, 0.3}
	close(src.batches)

	var ready clock.Readiness
	ready.SetLive(true)
	clk := clock.At(time.Now().Add(-time.Second))
	out := make(chan media.RawAudio, 1)

	err := RunAudioWorker(context.Background(), src, clk, &ready, out, discardLogger())
	if err == nil {
		t.Fatal("worker should report the source failure")
	}

	got := <-out
	if len(got.Samples) != 2 || got.Samples[0] != 0.2 {
		t.Errorf("forwarded batch: got %v, want [0.2 0.3]", got.Samples)
	}
	if got.PTS < 1_000_000 {
		t.Errorf("pts: got %d, want >= 1000000 (stamped from the shared clock)", got.PTS)
	}
}
