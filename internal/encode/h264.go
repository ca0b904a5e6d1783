package encode

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
)

const videoBitrate = "5M"

// auChannelSize bounds how many completed access units can sit between the
// stdout reader and Encode before the reader blocks. With zero-latency
// settings the encoder emits roughly one unit per input frame, so this only
// absorbs scheduling jitter.
const auChannelSize = 64

// H264Config configures the ffmpeg child process behind H264Encoder.
type H264Config struct {
	// Codec is the ffmpeg encoder name, e.g. "libx264" or "h264_nvenc".
	Codec     string
	Width     int
	Height    int
	FrameRate int
	// GOPInterval is the keyframe cadence in frames. Short GOPs keep
	// eviction granularity fine: the rolling window can only trim at
	// keyframe boundaries.
	GOPInterval int
}

// H264Encoder drives an ffmpeg child process that consumes raw BGRA pictures
// on stdin and produces an Annex B H.264 elementary stream on stdout. The
// stream is configured for in-order output (no B-frames), so caller-assigned
// timestamps pair with output access units in FIFO order.
type H264Encoder struct {
	log *slog.Logger
	cfg H264Config

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	out    chan accessUnit
	rdDone chan struct{}

	pending []int64 // PTS of frames written but not yet paired with output
	closed  bool

	mu     sync.Mutex
	params VideoParams
}

// NewH264Encoder starts the encoder child process. If log is nil,
// slog.Default() is used.
func NewH264Encoder(cfg H264Config, log *slog.Logger) (*H264Encoder, error) {
	if log == nil {
		log = slog.Default()
	}
	e := &H264Encoder{
		log: log.With("component", "h264-encoder"),
		cfg: cfg,
	}
	if err := e.start(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *H264Encoder) start() error {
	cmd := exec.Command("ffmpeg", e.args()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("encode: ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("encode: ffmpeg stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("encode: ffmpeg stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("encode: start ffmpeg: %w", err)
	}

	e.cmd = cmd
	e.stdin = stdin
	e.out = make(chan accessUnit, auChannelSize)
	e.rdDone = make(chan struct{})
	e.pending = e.pending[:0]
	e.closed = false

	go e.readStderr(stderr)
	go e.readStream(stdout)
	return nil
}

func (e *H264Encoder) args() []string {
	c := e.cfg
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "bgra",
		"-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height),
		"-framerate", strconv.Itoa(c.FrameRate),
		"-i", "pipe:0",
	}
	gop := strconv.Itoa(c.GOPInterval)
	switch c.Codec {
	case "h264_nvenc":
		args = append(args,
			"-c:v", "h264_nvenc",
			"-preset", "p1", "-tune", "ull",
			"-bf", "0", "-g", gop, "-aud", "1",
		)
	default:
		args = append(args,
			"-c:v", "libx264",
			"-preset", "veryfast", "-tune", "zerolatency",
			"-bf", "0", "-g", gop,
			"-x264-params", "aud=1:scenecut=0",
		)
	}
	return append(args, "-b:v", videoBitrate, "-f", "h264", "pipe:1")
}

// readStream parses the child's Annex B output into access units, recording
// parameter sets as they appear. It closes the output channel at EOF.
func (e *H264Encoder) readStream(r io.Reader) {
	defer close(e.rdDone)
	defer close(e.out)

	var parser auParser
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, au := range parser.feed(buf[:n]) {
				e.storeParams(&parser)
				e.out <- au
			}
		}
		if err != nil {
			for _, au := range parser.finish() {
				e.storeParams(&parser)
				e.out <- au
			}
			return
		}
	}
}

func (e *H264Encoder) readStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		e.log.Warn("ffmpeg", "line", sc.Text())
	}
}

func (e *H264Encoder) storeParams(p *auParser) {
	if p.sps == nil {
		return
	}
	e.mu.Lock()
	e.params = VideoParams{
		SPS:    p.sps,
		PPS:    p.pps,
		Width:  e.cfg.Width,
		Height: e.cfg.Height,
	}
	e.mu.Unlock()
}

// Encode submits one raw BGRA picture and collects any access units the
// child has completed so far. Output can lag input by a frame or two; the
// remainder is recovered by Flush.
func (e *H264Encoder) Encode(raw []byte, pts int64) ([]Packet, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if len(raw) != e.cfg.Width*e.cfg.Height*4 {
		return nil, fmt.Errorf("%w: got %d bytes for a %dx%d BGRA frame",
			ErrInvalidData, len(raw), e.cfg.Width, e.cfg.Height)
	}

	if _, err := e.stdin.Write(raw); err != nil {
		return nil, fmt.Errorf("encode: write frame to ffmpeg: %w", err)
	}
	e.pending = append(e.pending, pts)

	var pkts []Packet
	for {
		select {
		case au, ok := <-e.out:
			if !ok {
				return pkts, fmt.Errorf("encode: ffmpeg output ended unexpectedly")
			}
			if p, paired := e.packetize(au); paired {
				pkts = append(pkts, p)
			}
		default:
			return pkts, nil
		}
	}
}

// Flush signals end of stream to the child, drains every access unit it was
// still holding, and leaves the encoder closed until Reset.
func (e *H264Encoder) Flush() ([]Packet, error) {
	if e.closed {
		return nil, ErrClosed
	}
	e.closed = true

	if err := e.stdin.Close(); err != nil {
		return nil, fmt.Errorf("encode: close ffmpeg stdin: %w", err)
	}

	var pkts []Packet
	for au := range e.out {
		if p, paired := e.packetize(au); paired {
			pkts = append(pkts, p)
		}
	}
	if err := e.cmd.Wait(); err != nil {
		return nil, fmt.Errorf("encode: ffmpeg exited: %w", err)
	}
	e.cmd = nil
	return pkts, nil
}

// Reset discards the current child process and starts a fresh one, so the
// next encoded frame opens a new GOP with a keyframe.
func (e *H264Encoder) Reset() error {
	if err := e.stop(); err != nil {
		return err
	}
	return e.start()
}

// Params returns the most recently observed codec parameters. Zero-valued
// until the first keyframe has been encoded.
func (e *H264Encoder) Params() VideoParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// Close terminates the child process without draining it.
func (e *H264Encoder) Close() error {
	return e.stop()
}

func (e *H264Encoder) stop() error {
	if e.cmd == nil {
		return nil
	}
	e.closed = true
	e.stdin.Close()
	if err := e.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("encode: kill ffmpeg: %w", err)
	}
	e.cmd.Wait()
	<-e.rdDone
	e.cmd = nil
	return nil
}

// packetize pairs a completed access unit with the oldest unpaired input
// timestamp. With B-frames disabled the child emits pictures in submission
// order, so DTS equals PTS. A unit with no submitted frame left to pair is
// dropped: a fabricated timestamp would break the buffer's non-decreasing
// PTS ordering.
func (e *H264Encoder) packetize(au accessUnit) (Packet, bool) {
	if len(e.pending) == 0 {
		e.log.Warn("dropping access unit with no input frame to pair")
		return Packet{}, false
	}
	pts := e.pending[0]
	e.pending = e.pending[1:]
	return Packet{
		Data:     avcc(au.nalus),
		PTS:      pts,
		DTS:      pts,
		Keyframe: au.keyframe,
	}, true
}
