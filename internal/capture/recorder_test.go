package capture

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	chunks   chan []byte
	once     sync.Once
	stops    atomic.Int32
	releases atomic.Int32
}

func newFakeStream() *fakeStream { return &fakeStream{chunks: make(chan []byte, 8)} }

func (s *fakeStream) Chunks() <-chan []byte { return s.chunks }

func (s *fakeStream) Stop() error {
	s.stops.Add(1)
	s.once.Do(func() { close(s.chunks) })
	return nil
}

func (s *fakeStream) Release() error {
	s.releases.Add(1)
	s.once.Do(func() { close(s.chunks) })
	return nil
}

type fakePlatform struct {
	supported map[string]bool
	err       error
	stream    *fakeStream
	acquired  atomic.Int32
}

func (p *fakePlatform) Supports(mode Mode, mime string) bool { return p.supported[mime] }

func (p *fakePlatform) Acquire(ctx context.Context, mode Mode, mime string) (Stream, error) {
	p.acquired.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return p.stream, nil
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestStartDeniedStaysIdle(t *testing.T) {
	p := &fakePlatform{supported: map[string]bool{"audio/webm": true}, err: ErrPermissionDenied}
	var reported error
	r := NewRecorder(p, ModeVoice, Options{OnError: func(err error) { reported = err }})

	err := r.Start(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StateIdle, r.State())
	require.Error(t, reported)
	assert.Contains(t, reported.Error(), "Microphone access was denied")
}

func TestNegotiatePicksFirstSupported(t *testing.T) {
	p := &fakePlatform{supported: map[string]bool{"audio/ogg;codecs=opus": true, "audio/mp4": true}}
	mime, err := Negotiate(p, ModeVoice)
	require.NoError(t, err)
	assert.Equal(t, "audio/ogg;codecs=opus", mime)

	_, err = Negotiate(&fakePlatform{}, ModeScreen)
	assert.ErrorIs(t, err, ErrNoMimeType)
}

func TestStartWithoutFormatNeverAcquires(t *testing.T) {
	p := &fakePlatform{}
	r := NewRecorder(p, ModeScreen, Options{})
	err := r.Start(context.Background())
	require.ErrorIs(t, err, ErrNoMimeType)
	assert.Zero(t, p.acquired.Load())
	assert.Equal(t, StateIdle, r.State())
}

func TestRecordStopPreviewReset(t *testing.T) {
	stream := newFakeStream()
	p := &fakePlatform{supported: map[string]bool{"audio/webm;codecs=opus": true}, stream: stream}
	clock := &stepClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	var (
		states    []State
		completed []Recording
		mu        sync.Mutex
	)
	r := NewRecorder(p, ModeVoice, Options{
		Now:        clock.Now,
		OnState:    func(s State) { mu.Lock(); states = append(states, s); mu.Unlock() },
		OnComplete: func(rec Recording) { completed = append(completed, rec) },
	})

	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, StateRecording, r.State())
	assert.ErrorIs(t, r.Start(context.Background()), ErrBusy)

	stream.chunks <- []byte("abc")
	stream.chunks <- []byte("def")
	clock.Advance(7 * time.Second)
	assert.Equal(t, 7*time.Second, r.Elapsed())

	rec, err := r.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdef"), rec.Data)
	assert.Equal(t, 7*time.Second, rec.Duration)
	assert.Equal(t, "audio/webm;codecs=opus", rec.MimeType)
	assert.Equal(t, StatePreview, r.State())
	assert.EqualValues(t, 1, stream.releases.Load())
	require.Len(t, completed, 1)

	mu.Lock()
	assert.Equal(t, []State{StateRecording, StateProcessing, StatePreview}, states)
	mu.Unlock()

	_, err = r.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRecording)
	require.NoError(t, r.Reset())
	assert.Equal(t, StateIdle, r.State())
	_, ok := r.Result()
	assert.False(t, ok)
	assert.ErrorIs(t, r.Reset(), ErrNoPreview)
}

func TestCancelReleasesWithoutCompletion(t *testing.T) {
	stream := newFakeStream()
	p := &fakePlatform{supported: map[string]bool{"video/webm": true}, stream: stream}
	var completions atomic.Int32
	r := NewRecorder(p, ModeScreen, Options{OnComplete: func(Recording) { completions.Add(1) }})

	require.NoError(t, r.Start(context.Background()))
	stream.chunks <- []byte("frame")
	r.Cancel()

	assert.Equal(t, StateIdle, r.State())
	assert.EqualValues(t, 1, stream.releases.Load())
	assert.Zero(t, completions.Load())
	_, ok := r.Result()
	assert.False(t, ok)
}

func TestAutoStopAtMaxDuration(t *testing.T) {
	stream := newFakeStream()
	p := &fakePlatform{supported: map[string]bool{"audio/webm": true}, stream: stream}
	done := make(chan Recording, 1)
	r := NewRecorder(p, ModeVoice, Options{
		MaxDuration: 20 * time.Millisecond,
		OnComplete:  func(rec Recording) { done <- rec },
	})
	require.NoError(t, r.Start(context.Background()))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop at max duration")
	}
	assert.Equal(t, StatePreview, r.State())
	assert.EqualValues(t, 1, stream.stops.Load())
}

func TestMaxDurationDefaults(t *testing.T) {
	assert.Equal(t, 120*time.Second, MaxDuration(ModeVoice))
	assert.Equal(t, 300*time.Second, MaxDuration(ModeScreen))
}

func TestUserMessageDistinguishesCauses(t *testing.T) {
	denied := UserMessage(ModeVoice, ErrPermissionDenied)
	missing := UserMessage(ModeVoice, ErrDeviceNotFound)
	unsupported := UserMessage(ModeScreen, ErrNotSupported)
	assert.Contains(t, denied, "denied")
	assert.Contains(t, missing, "No microphone")
	assert.Contains(t, unsupported, "not supported")
	assert.NotEqual(t, denied, missing)
	assert.Contains(t, UserMessage(ModeVoice, errors.New("boom")), "boom")
}

func TestExecPlatformStreamsStdout(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	p := &ExecPlatform{
		Binary:       "sh",
		StartupGrace: 20 * time.Millisecond,
		Args: func(Mode, string) []string {
			return []string{"-c", "printf abc; exec cat >/dev/null"}
		},
	}
	r := NewRecorder(p, ModeVoice, Options{})
	require.NoError(t, r.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := r.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(rec.Data))
	assert.Equal(t, "audio/webm;codecs=opus", rec.MimeType)
}

func TestExecPlatformClassifiesPermissionFailure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	p := &ExecPlatform{
		Binary:       "sh",
		StartupGrace: 2 * time.Second,
		Args: func(Mode, string) []string {
			return []string{"-c", "echo 'default: Permission denied' >&2; exit 1"}
		},
	}
	_, err := p.Acquire(context.Background(), ModeVoice, "audio/webm")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestExecPlatformMissingBinary(t *testing.T) {
	p := &ExecPlatform{Binary: "definitely-not-an-encoder-binary"}
	assert.False(t, p.Supports(ModeVoice, "audio/webm"))
	_, err := p.Acquire(context.Background(), ModeVoice, "audio/webm")
	assert.ErrorIs(t, err, ErrNotSupported)
}

func floodingPlatform(grace time.Duration) *ExecPlatform {
	return &ExecPlatform{
		Binary:       "sh",
		StartupGrace: grace,
		Args: func(Mode, string) []string {
			// far more output than the chunk buffer holds, and nobody reads it
			return []string{"-c", "exec head -c 4194304 /dev/zero"}
		},
	}
}

func TestExecStreamReleaseWithUnreadOutput(t *testing.T) {
	if _, err := exec.LookPath("head"); err != nil {
		t.Skip("head not available")
	}
	stream, err := floodingPlatform(50*time.Millisecond).Acquire(context.Background(), ModeVoice, "audio/webm")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- stream.Release() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Release hung while output was unread")
	}
}

func TestExecAcquireCancelledDuringStartup(t *testing.T) {
	if _, err := exec.LookPath("head"); err != nil {
		t.Skip("head not available")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan error, 1)
	go func() {
		_, err := floodingPlatform(10*time.Second).Acquire(ctx, ModeVoice, "audio/webm")
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Acquire hung after cancellation")
	}
}
