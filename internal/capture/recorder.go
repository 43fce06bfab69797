package capture

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Stream is an acquired capture device producing encoded chunks.
type Stream interface {
	// Chunks is closed once the stream has delivered all of its data.
	Chunks() <-chan []byte
	// Stop asks the encoder to flush; Chunks is closed afterwards.
	Stop() error
	// Release frees the device immediately. It may be called more than once.
	Release() error
}

// Platform abstracts the host capture APIs.
type Platform interface {
	Supports(mode Mode, mimeType string) bool
	Acquire(ctx context.Context, mode Mode, mimeType string) (Stream, error)
}

type Options struct {
	// MaxDuration overrides the per-mode limit.
	MaxDuration time.Duration
	OnState     func(State)
	OnComplete  func(Recording)
	OnError     func(error)
	Now         func() time.Time
	Logger      *slog.Logger
}

type Recorder struct {
	platform Platform
	mode     Mode
	opts     Options
	log      *slog.Logger

	mu       sync.Mutex
	state    State
	starting bool
	session  uint64
	stream   Stream
	mime     string
	started  time.Time
	timer    *time.Timer
	buf      bytes.Buffer
	drained  chan struct{}
	result   *Recording
}

func NewRecorder(p Platform, mode Mode, opts Options) *Recorder {
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = MaxDuration(mode)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		platform: p,
		mode:     mode,
		opts:     opts,
		log:      logger.With("component", "capture", "mode", string(mode)),
		state:    StateIdle,
	}
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed is the running duration while recording, or the final one in preview.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateRecording, StateProcessing:
		return r.opts.Now().Sub(r.started)
	case StatePreview:
		if r.result != nil {
			return r.result.Duration
		}
	}
	return 0
}

// Result returns the recording held in preview.
func (r *Recorder) Result() (Recording, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result == nil {
		return Recording{}, false
	}
	return *r.result, true
}

// Start negotiates a format, acquires the device and begins buffering. On
// failure the recorder stays idle and OnError receives a *StartError.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle || r.starting {
		r.mu.Unlock()
		return ErrBusy
	}
	r.starting = true
	session := r.session
	r.mu.Unlock()

	stream, mime, err := r.acquire(ctx)

	r.mu.Lock()
	r.starting = false
	if err != nil {
		r.mu.Unlock()
		serr := &StartError{Mode: r.mode, Err: err}
		r.log.Warn("capture start failed", "err", err)
		if r.opts.OnError != nil {
			r.opts.OnError(serr)
		}
		return serr
	}
	if session != r.session {
		// Cancelled or closed while the permission prompt was open.
		r.mu.Unlock()
		_ = stream.Release()
		return ErrCancelled
	}
	r.session++
	session = r.session
	r.stream = stream
	r.mime = mime
	r.started = r.opts.Now()
	r.buf.Reset()
	r.result = nil
	r.drained = make(chan struct{})
	r.state = StateRecording
	r.timer = time.AfterFunc(r.opts.MaxDuration, func() { r.autoStop(session) })
	drained := r.drained
	r.mu.Unlock()

	go r.collect(session, stream, drained)
	r.emit(StateRecording)
	return nil
}

func (r *Recorder) acquire(ctx context.Context) (Stream, string, error) {
	mime, err := Negotiate(r.platform, r.mode)
	if err != nil {
		return nil, "", err
	}
	stream, err := r.platform.Acquire(ctx, r.mode, mime)
	if err != nil {
		return nil, "", err
	}
	return stream, mime, nil
}

func (r *Recorder) collect(session uint64, stream Stream, drained chan struct{}) {
	defer close(drained)
	for chunk := range stream.Chunks() {
		r.mu.Lock()
		if r.session == session {
			r.buf.Write(chunk)
		}
		r.mu.Unlock()
	}
}

func (r *Recorder) autoStop(session uint64) {
	r.mu.Lock()
	current := r.session == session && r.state == StateRecording
	r.mu.Unlock()
	if !current {
		return
	}
	r.log.Info("max duration reached", "max", r.opts.MaxDuration)
	if _, err := r.Stop(context.Background()); err != nil && !errors.Is(err, ErrNotRecording) {
		r.log.Warn("auto stop failed", "err", err)
	}
}

// Stop finalizes the buffered chunks, moves through processing to preview and
// fires OnComplete. If ctx expires before the encoder flushes, the partial
// data is discarded and the recorder returns to idle.
func (r *Recorder) Stop(ctx context.Context) (Recording, error) {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return Recording{}, ErrNotRecording
	}
	r.state = StateProcessing
	if r.timer != nil {
		r.timer.Stop()
	}
	session, stream, drained := r.session, r.stream, r.drained
	elapsed := r.opts.Now().Sub(r.started)
	r.mu.Unlock()
	r.emit(StateProcessing)

	if err := stream.Stop(); err != nil {
		r.log.Debug("stream stop", "err", err)
	}
	select {
	case <-drained:
	case <-ctx.Done():
		r.Cancel()
		return Recording{}, ctx.Err()
	}
	if err := stream.Release(); err != nil {
		r.log.Debug("stream release", "err", err)
	}

	r.mu.Lock()
	if r.session != session {
		r.mu.Unlock()
		return Recording{}, ErrCancelled
	}
	rec := Recording{
		Mode:     r.mode,
		MimeType: r.mime,
		Data:     append([]byte(nil), r.buf.Bytes()...),
		Duration: elapsed,
	}
	r.buf.Reset()
	r.stream = nil
	r.result = &rec
	r.state = StatePreview
	r.mu.Unlock()

	r.emit(StatePreview)
	if r.opts.OnComplete != nil {
		r.opts.OnComplete(rec)
	}
	return rec, nil
}

// Cancel releases the device synchronously and discards everything buffered.
// No completion callback fires. It is valid in every state.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	r.session++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	stream := r.stream
	r.stream = nil
	r.buf.Reset()
	r.result = nil
	changed := r.state != StateIdle
	r.state = StateIdle
	r.mu.Unlock()

	if stream != nil {
		if err := stream.Release(); err != nil {
			r.log.Debug("stream release", "err", err)
		}
	}
	if changed {
		r.emit(StateIdle)
	}
}

// Reset discards the previewed recording.
func (r *Recorder) Reset() error {
	r.mu.Lock()
	if r.state != StatePreview {
		r.mu.Unlock()
		return ErrNoPreview
	}
	r.result = nil
	r.state = StateIdle
	r.mu.Unlock()
	r.emit(StateIdle)
	return nil
}

// Close is Cancel for owners going away.
func (r *Recorder) Close() error {
	r.Cancel()
	return nil
}

func (r *Recorder) emit(s State) {
	if r.opts.OnState != nil {
		r.opts.OnState(s)
	}
}
