package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ExecPlatform records by running an external encoder (ffmpeg by default)
// that writes the encoded container to stdout.
type ExecPlatform struct {
	Binary string
	// AudioFormat and ScreenFormat are ffmpeg input formats
	// (pulse, alsa, avfoundation, x11grab, gdigrab).
	AudioFormat  string
	AudioDevice  string
	ScreenFormat string
	ScreenDevice string
	// Args overrides the generated command line.
	Args func(mode Mode, mimeType string) []string
	// StartupGrace is how long Acquire waits for the encoder to fail fast.
	StartupGrace time.Duration
	// StopGrace bounds the flush after Stop before the process is killed.
	StopGrace time.Duration
}

func NewExecPlatform() *ExecPlatform {
	return &ExecPlatform{
		Binary:       "ffmpeg",
		AudioFormat:  "pulse",
		AudioDevice:  "default",
		ScreenFormat: "x11grab",
		ScreenDevice: ":0.0",
	}
}

var execCodecs = map[string][]string{
	"audio/webm;codecs=opus": {"-c:a", "libopus", "-f", "webm"},
	"audio/webm":             {"-c:a", "libopus", "-f", "webm"},
	"audio/ogg;codecs=opus":  {"-c:a", "libopus", "-f", "ogg"},
	"video/webm;codecs=vp9":  {"-c:v", "libvpx-vp9", "-deadline", "realtime", "-f", "webm"},
	"video/webm;codecs=vp8":  {"-c:v", "libvpx", "-deadline", "realtime", "-f", "webm"},
	"video/webm":             {"-c:v", "libvpx", "-deadline", "realtime", "-f", "webm"},
}

// Supports reports whether the encoder binary is installed and the format can
// be streamed through a pipe. MP4 needs a seekable output and is never offered.
func (p *ExecPlatform) Supports(mode Mode, mimeType string) bool {
	if p.Args == nil {
		if _, ok := execCodecs[mimeType]; !ok {
			return false
		}
	}
	if !strings.HasPrefix(mimeType, mediaPrefix(mode)) {
		return false
	}
	_, err := exec.LookPath(p.binary())
	return err == nil
}

func (p *ExecPlatform) Acquire(ctx context.Context, mode Mode, mimeType string) (Stream, error) {
	bin, err := exec.LookPath(p.binary())
	if err != nil {
		return nil, fmt.Errorf("%w: %s not installed", ErrNotSupported, p.binary())
	}
	args, err := p.args(mode, mimeType)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(bin, args...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	stderr := &syncBuffer{}
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", p.binary(), err)
	}

	s := &execStream{
		cmd:       cmd,
		stdin:     stdin,
		chunks:    make(chan []byte, 16),
		exited:    make(chan struct{}),
		discard:   make(chan struct{}),
		stopGrace: p.StopGrace,
	}
	if s.stopGrace <= 0 {
		s.stopGrace = 5 * time.Second
	}
	go func() {
		s.waitErr = cmd.Wait()
		_ = pw.Close()
		close(s.exited)
	}()
	go s.pump(pr)

	grace := p.StartupGrace
	if grace <= 0 {
		grace = 300 * time.Millisecond
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-s.exited:
		if s.waitErr != nil {
			s.abandon()
			return nil, classifyEncoderFailure(stderr.String(), s.waitErr)
		}
	case <-timer.C:
	case <-ctx.Done():
		_ = s.Release()
		return nil, ctx.Err()
	}
	return s, nil
}

func (p *ExecPlatform) binary() string {
	if p.Binary == "" {
		return "ffmpeg"
	}
	return p.Binary
}

func (p *ExecPlatform) args(mode Mode, mimeType string) ([]string, error) {
	if p.Args != nil {
		return p.Args(mode, mimeType), nil
	}
	codec, ok := execCodecs[mimeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoMimeType, mimeType)
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-nostats"}
	switch mode {
	case ModeVoice:
		args = append(args, "-f", p.AudioFormat, "-i", p.AudioDevice)
	case ModeScreen:
		args = append(args, "-f", p.ScreenFormat, "-framerate", "15", "-i", p.ScreenDevice)
	default:
		return nil, fmt.Errorf("unknown capture mode %q", mode)
	}
	args = append(args, codec...)
	return append(args, "pipe:1"), nil
}

func mediaPrefix(mode Mode) string {
	if mode == ModeScreen {
		return "video/"
	}
	return "audio/"
}

func classifyEncoderFailure(stderr string, waitErr error) error {
	msg := strings.ToLower(stderr)
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = waitErr.Error()
	}
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not authorized"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, detail)
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "cannot open"),
		strings.Contains(msg, "no such device"), strings.Contains(msg, "connection refused"):
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, detail)
	case strings.Contains(msg, "unknown input format"), strings.Contains(msg, "unknown encoder"):
		return fmt.Errorf("%w: %s", ErrNotSupported, detail)
	default:
		return fmt.Errorf("encoder exited: %s", detail)
	}
}

type execStream struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	chunks    chan []byte
	exited    chan struct{}
	waitErr   error
	stopGrace time.Duration
	// discard is closed once nobody will read chunks again; pump then drops
	// output so the encoder can still exit.
	discard chan struct{}

	stopOnce    sync.Once
	releaseOnce sync.Once
	abandonOnce sync.Once
}

func (s *execStream) Chunks() <-chan []byte { return s.chunks }

func (s *execStream) pump(r io.Reader) {
	defer close(s.chunks)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case s.chunks <- append([]byte(nil), buf[:n]...):
			case <-s.discard:
			}
		}
		if err != nil {
			return
		}
	}
}

// Stop sends ffmpeg's interactive quit key so it writes the container
// trailer, then closes stdin. The process is killed if it does not exit in time.
func (s *execStream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		_, werr := io.WriteString(s.stdin, "q")
		cerr := s.stdin.Close()
		err = errors.Join(ignoreClosed(werr), ignoreClosed(cerr))
		go func() {
			timer := time.NewTimer(s.stopGrace)
			defer timer.Stop()
			select {
			case <-s.exited:
			case <-timer.C:
				_ = s.Release()
			}
		}()
	})
	return err
}

func (s *execStream) abandon() {
	s.abandonOnce.Do(func() { close(s.discard) })
}

func (s *execStream) Release() error {
	var err error
	s.releaseOnce.Do(func() {
		s.abandon()
		select {
		case <-s.exited:
			return
		default:
		}
		_ = s.stdin.Close()
		if s.cmd.Process != nil {
			err = s.cmd.Process.Kill()
		}
		<-s.exited
	})
	return err
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, io.ErrClosedPipe) || strings.Contains(err.Error(), "file already closed") ||
		strings.Contains(err.Error(), "broken pipe") {
		return nil
	}
	return err
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
