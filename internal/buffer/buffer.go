// Package buffer implements the bounded per-stream rolling windows that hold
// the most recent span of encoded media. The video window evicts only at
// keyframe boundaries so that an export can always begin at a decodable
// frame; the audio window trims purely by time span.
package buffer

import "errors"

// ErrNoFrames is returned when an operation needs at least one frame and the
// buffer is empty.
var ErrNoFrames = errors.New("buffer: no frames")
