// Package media defines the raw and encoded frame types that flow through
// the replayd capture pipeline, from the capture workers through the
// per-stream owners to the exporter.
package media

// Channel buffer sizes for the raw sample channels between the capture
// workers (producers) and the per-stream owners (consumers). Sized to absorb
// scheduling jitter without letting a stalled consumer accumulate unbounded
// raw frames: ~10 video frames is ~160ms at 60fps.
const (
	RawVideoBufferSize = 10
	RawAudioBufferSize = 10
)

// RawVideo is one uncompressed BGRA picture as delivered by the capture
// source, stamped with the shared-clock elapsed time at delivery.
type RawVideo struct {
	PTS  int64 // microseconds since the shared clock origin
	Data []byte
}

// RawAudio is a batch of interleaved float32 samples as delivered by the
// capture source, stamped with the shared-clock elapsed time at delivery.
type RawAudio struct {
	PTS     int64
	Samples []float32
}

// VideoFrame is one encoded video access unit held in the rolling window.
// Payload is in AVCC form (length-prefixed NAL units). Immutable once
// produced; owned by the video buffer until evicted or exported.
type VideoFrame struct {
	PTS      int64 // microseconds
	DTS      int64 // microseconds
	Keyframe bool
	Payload  []byte
}

// AudioFrame is one encoded Opus packet held in the rolling window.
type AudioFrame struct {
	PTS     int64 // microseconds
	Payload []byte
}
