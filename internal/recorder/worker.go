package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/replayd/replayd/internal/buffer"
	"github.com/replayd/replayd/internal/encode"
	"github.com/replayd/replayd/internal/media"
)

// epoch is the timestamp origin of one capture epoch, shared by both stream
// owners. Rebasing every raw shared-clock timestamp against the same base
// keeps video and audio buffer timestamps in one domain, so cross-stream
// comparisons (the exporter's audio cap) stay meaningful. The orchestrator
// clears it while both owners are frozen.
type epoch struct {
	base atomic.Int64
}

func newEpoch() *epoch {
	e := &epoch{}
	e.base.Store(-1)
	return e
}

// rebase anchors the epoch on the first raw timestamp either stream sees and
// returns pts relative to that origin.
func (e *epoch) rebase(pts int64) int64 {
	if e.base.Load() < 0 {
		e.base.CompareAndSwap(-1, pts)
	}
	return pts - e.base.Load()
}

func (e *epoch) reset() {
	e.base.Store(-1)
}

// releaseCmd resumes a frozen stream owner. reset starts a fresh capture
// epoch: buffer cleared, encoder re-created, next frame rebased against the
// new epoch origin with a forced keyframe.
type releaseCmd struct {
	reset bool
}

// videoFreeze asks the video owner to flush its encoder, hand out a stable
// snapshot, and hold capture until released.
type videoFreeze struct {
	reply   chan videoSnapshot
	release chan releaseCmd
}

type videoSnapshot struct {
	frames []media.VideoFrame
	params encode.VideoParams
	err    error
}

type audioFreeze struct {
	reply   chan audioSnapshot
	release chan releaseCmd
}

type audioSnapshot struct {
	frames []media.AudioFrame
	params encode.AudioParams
	err    error
}

// videoWorker is the single owner of the video buffer and encoder. Only its
// goroutine mutates them, so normal capture runs without any locking.
type videoWorker struct {
	log   *slog.Logger
	enc   encode.VideoEncoder
	buf   *buffer.VideoBuffer
	raw   <-chan media.RawVideo
	ctl   chan videoFreeze
	epoch *epoch
}

func (w *videoWorker) run(ctx context.Context) error {
	for {
		// Freeze requests take priority over queued raw frames so the
		// exported slice reflects the window as it stood at trigger
		// time, not after draining whatever was in flight.
		select {
		case req := <-w.ctl:
			if err := w.freeze(ctx, req); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case req := <-w.ctl:
			if err := w.freeze(ctx, req); err != nil {
				return err
			}
		case rv, ok := <-w.raw:
			if !ok {
				return nil
			}
			if err := w.process(rv); err != nil {
				return err
			}
		}
	}
}

func (w *videoWorker) process(rv media.RawVideo) error {
	pkts, err := w.enc.Encode(rv.Data, w.epoch.rebase(rv.PTS))
	if err != nil {
		if errors.Is(err, encode.ErrInvalidData) {
			w.log.Warn("rejecting malformed video frame", "error", err)
			return nil
		}
		return fmt.Errorf("recorder: video encode: %w", err)
	}
	for _, p := range pkts {
		w.buf.Push(media.VideoFrame{
			PTS:      p.PTS,
			DTS:      p.DTS,
			Keyframe: p.Keyframe,
			Payload:  p.Data,
		})
	}
	return nil
}

func (w *videoWorker) freeze(ctx context.Context, req videoFreeze) error {
	pkts, err := w.enc.Flush()
	if err != nil {
		err = fmt.Errorf("recorder: video flush: %w", err)
		req.reply <- videoSnapshot{err: err}
		return err
	}
	for _, p := range pkts {
		w.buf.Push(media.VideoFrame{
			PTS:      p.PTS,
			DTS:      p.DTS,
			Keyframe: p.Keyframe,
			Payload:  p.Data,
		})
	}

	req.reply <- videoSnapshot{
		frames: w.buf.Snapshot(),
		params: w.enc.Params(),
	}

	select {
	case <-ctx.Done():
		return nil
	case cmd := <-req.release:
		if cmd.reset {
			w.buf.Clear()
		}
		// The flush closed the encoder either way; re-create it so
		// capture resumes on a fresh GOP.
		if err := w.enc.Reset(); err != nil {
			return fmt.Errorf("recorder: video encoder reset: %w", err)
		}
	}
	return nil
}

// audioWorker is the single owner of the audio buffer and encoder.
type audioWorker struct {
	log   *slog.Logger
	enc   encode.AudioEncoder
	buf   *buffer.AudioBuffer
	raw   <-chan media.RawAudio
	ctl   chan audioFreeze
	epoch *epoch
}

func (w *audioWorker) run(ctx context.Context) error {
	for {
		select {
		case req := <-w.ctl:
			if err := w.freeze(ctx, req); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case req := <-w.ctl:
			if err := w.freeze(ctx, req); err != nil {
				return err
			}
		case ra, ok := <-w.raw:
			if !ok {
				return nil
			}
			if err := w.process(ra); err != nil {
				return err
			}
		}
	}
}

func (w *audioWorker) process(ra media.RawAudio) error {
	pkts, err := w.enc.Encode(ra.Samples, w.epoch.rebase(ra.PTS))
	if err != nil {
		if errors.Is(err, encode.ErrInvalidData) {
			w.log.Warn("rejecting malformed audio batch", "error", err)
			return nil
		}
		return fmt.Errorf("recorder: audio encode: %w", err)
	}
	for _, p := range pkts {
		w.buf.Push(media.AudioFrame{PTS: p.PTS, Payload: p.Data})
	}
	return nil
}

func (w *audioWorker) freeze(ctx context.Context, req audioFreeze) error {
	pkts, err := w.enc.Flush()
	if err != nil {
		err = fmt.Errorf("recorder: audio flush: %w", err)
		req.reply <- audioSnapshot{err: err}
		return err
	}
	for _, p := range pkts {
		w.buf.Push(media.AudioFrame{PTS: p.PTS, Payload: p.Data})
	}

	req.reply <- audioSnapshot{
		frames: w.buf.Snapshot(),
		params: w.enc.Params(),
	}

	select {
	case <-ctx.Done():
		return nil
	case cmd := <-req.release:
		if cmd.reset {
			w.buf.Clear()
		}
		if err := w.enc.Reset(); err != nil {
			return fmt.Errorf("recorder: audio encoder reset: %w", err)
		}
	}
	return nil
}
