// Package recorder owns the live capture state: one goroutine per stream
// owns that stream's buffer and encoder, consuming raw samples and control
// messages. A save trigger becomes a freeze message to each owner rather
// than a lock acquisition, so no cross-stream lock ordering exists anywhere.
package recorder

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/replayd/replayd/internal/buffer"
	"github.com/replayd/replayd/internal/encode"
	"github.com/replayd/replayd/internal/media"
)

// Exporter writes a frozen pair of window snapshots to a clip file. The
// concrete implementation is export.Writer; tests substitute stubs.
type Exporter interface {
	Export(video []media.VideoFrame, audio []media.AudioFrame,
		vp encode.VideoParams, ap encode.AudioParams) (string, error)
}

// Config bounds the rolling windows.
type Config struct {
	// MaxSpanMicros is the maximum retained span per stream, in
	// microseconds.
	MaxSpanMicros int64
}

// Recorder supervises the two stream owners and the save loop. Raw samples
// arrive on the bounded channels filled by the capture workers; save
// triggers arrive on the single-slot trigger channel.
type Recorder struct {
	log      *slog.Logger
	exporter Exporter
	saves    <-chan struct{}
	epoch    *epoch

	video *videoWorker
	audio *audioWorker
}

// New creates a Recorder. If log is nil, slog.Default() is used.
func New(cfg Config, venc encode.VideoEncoder, aenc encode.AudioEncoder, exporter Exporter,
	rawVideo <-chan media.RawVideo, rawAudio <-chan media.RawAudio,
	saves <-chan struct{}, log *slog.Logger) *Recorder {

	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "recorder")

	// Both stream owners rebase against the same epoch origin so their
	// buffer timestamps stay comparable.
	ep := newEpoch()

	return &Recorder{
		log:      log,
		exporter: exporter,
		saves:    saves,
		epoch:    ep,
		video: &videoWorker{
			log:   log.With("stream", "video"),
			enc:   venc,
			buf:   buffer.NewVideoBuffer(cfg.MaxSpanMicros),
			raw:   rawVideo,
			ctl:   make(chan videoFreeze),
			epoch: ep,
		},
		audio: &audioWorker{
			log:   log.With("stream", "audio"),
			enc:   aenc,
			buf:   buffer.NewAudioBuffer(cfg.MaxSpanMicros),
			raw:   rawAudio,
			ctl:   make(chan audioFreeze),
			epoch: ep,
		},
	}
}

// Run blocks until the context is cancelled or a stream owner fails with an
// encoder error. Export failures do not terminate Run: the window is kept
// intact and the failure is logged so a later trigger can retry.
func (r *Recorder) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.video.run(ctx) })
	g.Go(func() error { return r.audio.run(ctx) })
	g.Go(func() error { return r.saveLoop(ctx) })
	return g.Wait()
}

func (r *Recorder) saveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.saves:
			if err := r.saveClip(ctx); err != nil {
				r.log.Error("export failed; rolling window preserved for retry", "error", err)
			}
		}
	}
}

// saveClip freezes both stream owners (video first, audio second, always in
// that order so results are reproducible), exports the frozen snapshots, and
// releases the owners. A successful export resets both streams to a fresh
// epoch: cleared buffers, re-created encoders, a fresh shared timestamp
// origin. A failed export releases them unchanged.
func (r *Recorder) saveClip(ctx context.Context) error {
	vreq := videoFreeze{
		reply:   make(chan videoSnapshot, 1),
		release: make(chan releaseCmd, 1),
	}
	select {
	case <-ctx.Done():
		return nil
	case r.video.ctl <- vreq:
	}
	var vsnap videoSnapshot
	select {
	case <-ctx.Done():
		return nil
	case vsnap = <-vreq.reply:
	}
	if vsnap.err != nil {
		// The video owner is already shutting down; nothing to release.
		return vsnap.err
	}

	areq := audioFreeze{
		reply:   make(chan audioSnapshot, 1),
		release: make(chan releaseCmd, 1),
	}
	select {
	case <-ctx.Done():
		vreq.release <- releaseCmd{}
		return nil
	case r.audio.ctl <- areq:
	}
	var asnap audioSnapshot
	select {
	case <-ctx.Done():
		vreq.release <- releaseCmd{}
		return nil
	case asnap = <-areq.reply:
	}
	if asnap.err != nil {
		vreq.release <- releaseCmd{}
		return asnap.err
	}

	path, err := r.exporter.Export(vsnap.frames, asnap.frames, vsnap.params, asnap.params)
	reset := err == nil
	if reset {
		// Both owners are blocked on their release channels, so clearing
		// the shared origin here is race-free.
		r.epoch.reset()
	}
	vreq.release <- releaseCmd{reset: reset}
	areq.release <- releaseCmd{reset: reset}
	if err != nil {
		return err
	}

	r.log.Info("clip saved", "path", path)
	return nil
}
