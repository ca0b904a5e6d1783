package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// audioBatchSamples is how many samples per channel one ReadSamples call
// returns: 20ms at 48kHz, one Opus frame's worth.
const audioBatchSamples = 960

// PWRecordAudioSource captures system or microphone audio through a
// pw-record child process emitting raw little-endian float32 on stdout.
// With useMic false it records the default sink's monitor (what the user
// hears); with useMic true it records the default source.
type PWRecordAudioSource struct {
	log      *slog.Logger
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	channels int
}

// NewPWRecordAudioSource starts the pw-record child. If log is nil,
// slog.Default() is used.
func NewPWRecordAudioSource(sampleRate, channels int, useMic bool, log *slog.Logger) (*PWRecordAudioSource, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "pw-audio")

	args := []string{
		"--format", "f32",
		"--rate", strconv.Itoa(sampleRate),
		"--channels", strconv.Itoa(channels),
	}
	if !useMic {
		monitor, err := defaultSinkMonitor()
		if err != nil {
			return nil, err
		}
		args = append(args, "--target", monitor)
		log.Info("recording system audio", "target", monitor)
	} else {
		log.Info("recording default microphone")
	}
	args = append(args, "-")

	cmd := exec.Command("pw-record", args...)
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: pw-record stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("capture: start pw-record: %w", err)
	}

	return &PWRecordAudioSource{
		log:      log,
		cmd:      cmd,
		stdout:   stdout,
		channels: channels,
	}, nil
}

// ReadSamples blocks until one 20ms batch of interleaved samples is read.
func (s *PWRecordAudioSource) ReadSamples() ([]float32, error) {
	buf := make([]byte, audioBatchSamples*s.channels*4)
	if _, err := io.ReadFull(s.stdout, buf); err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}

	samples := make([]float32, len(buf)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(buf[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples, nil
}

// Close terminates the child process.
func (s *PWRecordAudioSource) Close() error {
	s.stdout.Close()
	if err := s.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("capture: kill pw-record: %w", err)
	}
	s.cmd.Wait()
	return nil
}

// defaultSinkMonitor resolves the monitor source of the current default
// sink, i.e. "what the speakers are playing".
func defaultSinkMonitor() (string, error) {
	out, err := exec.Command("pactl", "get-default-sink").Output()
	if err != nil {
		return "", fmt.Errorf("capture: resolve default sink: %w", err)
	}
	sink := strings.TrimSpace(string(out))
	if sink == "" {
		return "", fmt.Errorf("capture: no default sink configured")
	}
	return sink + ".monitor", nil
}
