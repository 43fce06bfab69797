// Package capture drives voice and screen recordings through a small state
// machine: idle, recording, processing, preview. Whatever the outcome, the
// capture device acquired by Start is released on Stop, Cancel and Close.
package capture

import (
	"errors"
	"fmt"
	"time"
)

type Mode string

const (
	ModeVoice  Mode = "voice"
	ModeScreen Mode = "screen"
)

type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StatePreview    State = "preview"
)

const (
	MaxVoiceDuration  = 120 * time.Second
	MaxScreenDuration = 300 * time.Second
)

var (
	ErrPermissionDenied = errors.New("capture permission denied")
	ErrNotSupported     = errors.New("capture not supported")
	ErrDeviceNotFound   = errors.New("capture device not found")
	ErrNoMimeType       = errors.New("no supported recording format")
	ErrBusy             = errors.New("recorder busy")
	ErrNotRecording     = errors.New("not recording")
	ErrNoPreview        = errors.New("nothing to reset")
	ErrCancelled        = errors.New("recording cancelled")
)

var mimePriority = map[Mode][]string{
	ModeVoice: {
		"audio/webm;codecs=opus",
		"audio/webm",
		"audio/ogg;codecs=opus",
		"audio/mp4",
	},
	ModeScreen: {
		"video/webm;codecs=vp9",
		"video/webm;codecs=vp8",
		"video/webm",
		"video/mp4",
	},
}

// MimeTypes returns the encodings tried for mode, best first.
func MimeTypes(mode Mode) []string {
	return append([]string(nil), mimePriority[mode]...)
}

// MaxDuration is the recording length after which Stop is invoked automatically.
func MaxDuration(mode Mode) time.Duration {
	if mode == ModeScreen {
		return MaxScreenDuration
	}
	return MaxVoiceDuration
}

// Negotiate picks the first encoding in the priority list the platform supports.
func Negotiate(p Platform, mode Mode) (string, error) {
	candidates, ok := mimePriority[mode]
	if !ok {
		return "", fmt.Errorf("unknown capture mode %q", mode)
	}
	for _, mime := range candidates {
		if p.Supports(mode, mime) {
			return mime, nil
		}
	}
	return "", fmt.Errorf("%w for %s (tried %d)", ErrNoMimeType, mode, len(candidates))
}

// UserMessage renders a start failure for display.
func UserMessage(mode Mode, err error) string {
	device := "Microphone"
	feature := "Voice recording"
	if mode == ModeScreen {
		device = "Screen recording"
		feature = "Screen recording"
	}
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		if mode == ModeScreen {
			return "Screen recording permission was denied. Allow screen sharing and try again."
		}
		return "Microphone access was denied. Allow microphone access and try again."
	case errors.Is(err, ErrDeviceNotFound):
		if mode == ModeScreen {
			return "No screen or window available to record."
		}
		return "No microphone found. Connect a microphone and try again."
	case errors.Is(err, ErrNotSupported):
		return feature + " is not supported on this platform."
	case errors.Is(err, ErrNoMimeType):
		return feature + " is not supported: no compatible recording format."
	default:
		return fmt.Sprintf("%s could not be started: %v", device, err)
	}
}

// StartError is reported when Start fails; its message is UserMessage.
type StartError struct {
	Mode Mode
	Err  error
}

func (e *StartError) Error() string { return UserMessage(e.Mode, e.Err) }
func (e *StartError) Unwrap() error { return e.Err }

// Recording is the finalized result of a session.
type Recording struct {
	Mode     Mode
	MimeType string
	Data     []byte
	Duration time.Duration
}
