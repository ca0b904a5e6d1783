// Package encode defines the encoder contracts the recorder depends on and
// provides the two production implementations: H.264 via an ffmpeg child
// process and Opus via libopus bindings. The recorder only sees the
// interfaces, so tests substitute stubs.
package encode

import "errors"

// Sentinel errors for encoder input validation and lifecycle. Callers
// distinguish recoverable input errors from fatal encoder errors with
// errors.Is.
var (
	// ErrInvalidData reports malformed raw input, e.g. an audio sample
	// count not evenly divisible by the channel count. Recoverable: the
	// sample batch is rejected before reaching any buffer and capture
	// continues.
	ErrInvalidData = errors.New("encode: invalid input data")

	// ErrClosed reports use of an encoder after Flush and before Reset.
	ErrClosed = errors.New("encode: encoder is closed")
)

// Packet is one compressed unit emitted by an encoder, carrying the
// caller-assigned presentation timestamp and, for video, the decode
// timestamp and keyframe flag.
type Packet struct {
	Data     []byte
	PTS      int64
	DTS      int64
	Keyframe bool
}

// VideoParams carries the codec parameters the muxer needs to write the
// video track header.
type VideoParams struct {
	SPS    []byte
	PPS    []byte
	Width  int
	Height int
}

// AudioParams carries the codec parameters the muxer needs to write the
// audio track header.
type AudioParams struct {
	SampleRate int
	Channels   int
}

// VideoEncoder compresses raw BGRA pictures. Encode may emit zero or more
// packets per call: the encoder queues internally and releases packets as
// they complete. Flush drains the internal pipeline and closes the encoder;
// Reset re-creates it from scratch so the next packet is a forced keyframe.
type VideoEncoder interface {
	Encode(raw []byte, pts int64) ([]Packet, error)
	Flush() ([]Packet, error)
	Reset() error
	Params() VideoParams
	Close() error
}

// AudioEncoder compresses interleaved float32 samples. The implementation
// regroups arbitrary sample batches into fixed-size encoder frames.
type AudioEncoder interface {
	Encode(samples []float32, pts int64) ([]Packet, error)
	Flush() ([]Packet, error)
	Reset() error
	Params() AudioParams
	Close() error
}
