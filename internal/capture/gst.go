package capture

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
)

// GstVideoSource pulls raw frames off the portal's PipeWire node through a
// gst-launch-1.0 child process: pipewiresrc converted to BGRA and streamed
// to stdout, where each frame is a fixed-size read.
type GstVideoSource struct {
	log       *slog.Logger
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	frameSize int
}

// NewGstVideoSource starts the GStreamer child against the session's node.
// The portal fd is inherited as the child's fd 3. If log is nil,
// slog.Default() is used.
func NewGstVideoSource(sess *PortalSession, log *slog.Logger) (*GstVideoSource, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "gst-video")

	caps := fmt.Sprintf("video/x-raw,format=BGRA,width=%d,height=%d", sess.Width, sess.Height)
	cmd := exec.Command("gst-launch-1.0", "-q",
		"pipewiresrc", "fd=3", fmt.Sprintf("path=%d", sess.NodeID),
		"!", "videoconvert",
		"!", caps,
		"!", "fdsink", "fd=1",
	)
	cmd.ExtraFiles = []*os.File{os.NewFile(uintptr(sess.PipeWireFD), "pipewire")}
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: gst stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("capture: start gst-launch: %w", err)
	}
	log.Info("gstreamer video source started", "node", sess.NodeID)

	return &GstVideoSource{
		log:       log,
		cmd:       cmd,
		stdout:    stdout,
		frameSize: sess.Width * sess.Height * 4,
	}, nil
}

// ReadFrame blocks until one full BGRA picture has been read.
func (s *GstVideoSource) ReadFrame() ([]byte, error) {
	buf := make([]byte, s.frameSize)
	if _, err := io.ReadFull(s.stdout, buf); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return buf, nil
}

// Close terminates the child process.
func (s *GstVideoSource) Close() error {
	s.stdout.Close()
	if err := s.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("capture: kill gst-launch: %w", err)
	}
	s.cmd.Wait()
	return nil
}
