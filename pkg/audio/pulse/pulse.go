// Package pulse provides an [audio.Source] implementation that captures from
// a PulseAudio (or PipeWire) source via the `parec` utility.
//
// Pointing the capture at a sink monitor device (e.g.
// "alsa_output.pci-0000_00_1f.3.analog-stereo.monitor") records what the
// system is playing — the audio of a running meeting — rather than the local
// microphone. `pactl list sources short` lists the available devices; an
// empty device name uses the PulseAudio default source.
//
// parec writes raw samples to stdout; the Source slices that byte stream
// into fixed-duration frames. There is no in-band dropout signalling in the
// raw protocol, so the Gaps channel only delivers when the parec process
// dies and capture terminates.
package pulse

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/earshot-audio/earshot/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

const frameChannelBuffer = 64

// Config holds the capture parameters for a pulse Source.
type Config struct {
	// Device is the PulseAudio source name. Empty uses the default source.
	Device string

	// SampleRate in Hz. Defaults to 16000.
	SampleRate int

	// Channels is the captured channel count. Defaults to 1.
	Channels int

	// FrameMs is the duration of each emitted frame in milliseconds.
	// Defaults to 20.
	FrameMs int
}

// Source captures PCM from a PulseAudio device through a parec subprocess
// and emits fixed-duration [audio.Frame] values.
type Source struct {
	cfg    Config
	cmd    *exec.Cmd
	stdout io.ReadCloser

	frames chan audio.Frame
	gaps   chan audio.Gap

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// New starts a parec subprocess with the given config and begins capturing
// immediately. Returns an error if parec cannot be started (typically:
// binary not installed, or no PulseAudio daemon).
func New(cfg Config) (*Source, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FrameMs <= 0 {
		cfg.FrameMs = 20
	}

	args := []string{
		"--rate=" + strconv.Itoa(cfg.SampleRate),
		"--channels=" + strconv.Itoa(cfg.Channels),
		"--format=s16le",
		"--raw",
	}
	if cfg.Device != "" {
		args = append(args, "--device="+cfg.Device)
	}

	cmd := exec.Command("parec", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pulse: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pulse: start parec: %w", err)
	}

	s := &Source{
		cfg:    cfg,
		cmd:    cmd,
		stdout: stdout,
		frames: make(chan audio.Frame, frameChannelBuffer),
		gaps:   make(chan audio.Gap, 1),
		done:   make(chan struct{}),
	}

	go s.readLoop()

	slog.Info("pulse: capture started",
		"device", cfg.Device,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"frame_ms", cfg.FrameMs,
	)
	return s, nil
}

// Frames implements audio.Source.
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Gaps implements audio.Source.
func (s *Source) Gaps() <-chan audio.Gap { return s.gaps }

// Close terminates the parec subprocess and closes the Frames channel.
// Safe to call more than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.cmd.Process != nil {
			// Killing parec unblocks the pending Read in readLoop.
			s.closeErr = s.cmd.Process.Kill()
		}
	})
	return s.closeErr
}

// readLoop slices the parec byte stream into frames. It owns the frames
// channel and closes it on exit.
func (s *Source) readLoop() {
	defer close(s.frames)
	defer s.cmd.Wait() //nolint:errcheck // reaps the child; exit status is expected non-zero after Kill

	frameBytes := s.cfg.SampleRate * s.cfg.FrameMs / 1000 * s.cfg.Channels * 2
	buf := make([]byte, frameBytes)
	var elapsed time.Duration
	frameDur := time.Duration(s.cfg.FrameMs) * time.Millisecond

	for {
		if _, err := io.ReadFull(s.stdout, buf); err != nil {
			select {
			case <-s.done:
				// Expected after Close.
			default:
				if !errors.Is(err, io.EOF) {
					slog.Error("pulse: capture read failed", "err", err)
				}
				// Let a consumer blocked on Gaps learn the stream is dead
				// even before observing the Frames close.
				select {
				case s.gaps <- audio.Gap{At: elapsed}:
				default:
				}
			}
			return
		}

		data := make([]byte, frameBytes)
		copy(data, buf)

		frame := audio.Frame{
			Data:       data,
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
			Timestamp:  elapsed,
		}
		elapsed += frameDur

		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}
