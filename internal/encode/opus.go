package encode

import (
	"fmt"
	"log/slog"

	"layeh.com/gopus"
)

// Opus operates on fixed-size frames; 20ms at 48kHz is the codec's
// recommended size and what the capture path is tuned for.
const (
	OpusSampleRate = 48000
	OpusChannels   = 2
	// OpusFrameSize is the number of samples per channel per 20ms frame.
	OpusFrameSize = 960
)

// opusMaxPacket is the output allocation passed to the encoder per frame.
const opusMaxPacket = 4000

// OpusEncoder compresses interleaved float32 capture batches into Opus
// packets. Capture deliveries are arbitrary sizes, so samples are regrouped
// into exact encoder frames with a carry buffer across calls.
//
// Timestamps: the first regrouped frame takes the wall-clock-derived PTS of
// the delivery that started it; every later frame is the previous frame's
// PTS plus the frame duration in the sample-count domain. This avoids
// re-sampling wall-clock jitter into every 20ms packet, at the cost of
// systematic drift against the video clock over long sessions. Known
// limitation, kept deliberately.
type OpusEncoder struct {
	log *slog.Logger
	enc *gopus.Encoder

	sampleRate int
	channels   int
	frameSize  int // samples per channel

	carry   []float32
	nextPTS int64
	chained bool // nextPTS is valid (at least one frame encoded this epoch)
	closed  bool
}

// NewOpusEncoder creates an Opus encoder at 48kHz stereo. If log is nil,
// slog.Default() is used.
func NewOpusEncoder(log *slog.Logger) (*OpusEncoder, error) {
	if log == nil {
		log = slog.Default()
	}
	enc, err := gopus.NewEncoder(OpusSampleRate, OpusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("encode: create opus encoder: %w", err)
	}
	return &OpusEncoder{
		log:        log.With("component", "opus-encoder"),
		enc:        enc,
		sampleRate: OpusSampleRate,
		channels:   OpusChannels,
		frameSize:  OpusFrameSize,
	}, nil
}

// frameDurationMicros is the PTS step between consecutive encoder frames.
func (e *OpusEncoder) frameDurationMicros() int64 {
	return int64(e.frameSize) * 1_000_000 / int64(e.sampleRate)
}

// Encode validates and regroups one capture delivery, emitting a packet per
// completed frame. A trailing partial frame is carried into the next call.
func (e *OpusEncoder) Encode(samples []float32, pts int64) ([]Packet, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if len(samples)%e.channels != 0 {
		return nil, fmt.Errorf("%w: %d samples not divisible by %d channels",
			ErrInvalidData, len(samples), e.channels)
	}

	if !e.chained && len(e.carry) == 0 {
		e.nextPTS = pts
	}
	e.carry = append(e.carry, samples...)

	perFrame := e.frameSize * e.channels
	var pkts []Packet
	for len(e.carry) >= perFrame {
		pcm := floatToPCM16(e.carry[:perFrame])
		e.carry = e.carry[perFrame:]

		data, err := e.enc.Encode(pcm, e.frameSize, opusMaxPacket)
		if err != nil {
			return pkts, fmt.Errorf("encode: opus encode: %w", err)
		}

		pkts = append(pkts, Packet{
			Data: data,
			PTS:  e.nextPTS,
			DTS:  e.nextPTS,
		})
		e.nextPTS += e.frameDurationMicros()
		e.chained = true
	}
	return pkts, nil
}

// Flush closes the encoder until Reset. Opus holds no packets internally; a
// trailing partial frame is shorter than one 20ms packet and is discarded
// rather than zero-padded.
func (e *OpusEncoder) Flush() ([]Packet, error) {
	if e.closed {
		return nil, ErrClosed
	}
	e.closed = true
	e.carry = nil
	return nil, nil
}

// Reset re-creates the encoder state so the next epoch starts a fresh PTS
// chain re-anchored to the wall clock.
func (e *OpusEncoder) Reset() error {
	enc, err := gopus.NewEncoder(e.sampleRate, e.channels, gopus.Audio)
	if err != nil {
		return fmt.Errorf("encode: reset opus encoder: %w", err)
	}
	e.enc = enc
	e.carry = nil
	e.chained = false
	e.closed = false
	return nil
}

// Params returns the audio codec parameters for the muxer.
func (e *OpusEncoder) Params() AudioParams {
	return AudioParams{SampleRate: e.sampleRate, Channels: e.channels}
}

// Close releases the encoder.
func (e *OpusEncoder) Close() error {
	e.closed = true
	return nil
}

// floatToPCM16 converts interleaved float32 samples in [-1, 1] to int16 PCM,
// clamping out-of-range values.
func floatToPCM16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		switch {
		case s > 1:
			out[i] = 32767
		case s < -1:
			out[i] = -32768
		default:
			out[i] = int16(s * 32767)
		}
	}
	return out
}
