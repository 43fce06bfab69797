// Package chatsync keeps a local, ordered view of a chat room or DM thread in
// step with the backend by polling, and layers optimistic sends on top.
//
// Server state and optimistic sends are kept apart: polls replace the server
// list wholesale (last applied response wins), while unconfirmed sends live in
// a pending table keyed by their temporary id until the backend echoes them.
package chatsync

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"clawlegion/internal/domain"
	clawsdk "clawlegion/sdk/go"
)

const (
	DefaultInterval          = 3 * time.Second
	DefaultReplyRefetchDelay = 1500 * time.Millisecond
	TempIDPrefix             = "temp-"
)

var ErrNoTarget = errors.New("no chat target selected")

// Backend is the slice of the API client the synchronizer needs.
type Backend interface {
	FetchMessages(ctx context.Context, target domain.ChatTarget) ([]domain.ChatMessage, error)
	SendMessage(ctx context.Context, target domain.ChatTarget, req clawsdk.SendRequest) (domain.ChatMessage, error)
}

type Options struct {
	// Interval between background polls. Zero means DefaultInterval.
	Interval time.Duration
	// ReplyRefetchDelay is how long after a confirmed send one extra background
	// fetch runs, to pick up fast agent replies.
	ReplyRefetchDelay time.Duration
	// Disabled turns off background polling; explicit fetches still work.
	Disabled   bool
	SenderID   string
	SenderName string
	Logger     *slog.Logger
	Now        func() time.Time
	NewID      func() string
}

// State is a point-in-time copy of what the view should render.
type State struct {
	Target    domain.ChatTarget
	Messages  []domain.ChatMessage
	IsLoading bool
	IsSending bool
	Err       error
}

type Sync struct {
	backend Backend
	opts    Options
	log     *slog.Logger

	mu        sync.Mutex
	target    domain.ChatTarget
	gen       uint64
	seq       uint64
	applied   uint64
	confirmed []domain.ChatMessage
	pending   []domain.ChatMessage
	loading   int
	sending   bool
	err       error
	paused    bool
	closed    bool
	pollStop  context.CancelFunc
	pollCtx   context.Context
	life      context.Context
	stop      context.CancelFunc
	updates   chan struct{}
	wg        sync.WaitGroup
}

func New(backend Backend, opts Options) *Sync {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ReplyRefetchDelay <= 0 {
		opts.ReplyRefetchDelay = DefaultReplyRefetchDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	life, stop := context.WithCancel(context.Background())
	return &Sync{
		backend: backend,
		opts:    opts,
		log:     logger.With("component", "chatsync"),
		life:    life,
		stop:    stop,
		updates: make(chan struct{}, 1),
	}
}

// Updates signals (coalesced) whenever State may have changed. It is closed by Close.
func (s *Sync) Updates() <-chan struct{} { return s.updates }

// SetTarget switches the conversation. Local state is reset, the previous
// target's poll loop is stopped and responses still in flight for it are
// discarded. The initial fetch is explicit and runs before SetTarget returns.
func (s *Sync) SetTarget(ctx context.Context, target domain.ChatTarget) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("chatsync: closed")
	}
	s.stopPollLocked()
	s.gen++
	s.target = target
	s.confirmed = nil
	s.pending = nil
	s.loading = 0
	s.sending = false
	s.err = nil
	s.applied = 0
	gen := s.gen
	if !target.IsZero() {
		s.startPollLocked(gen)
	}
	s.notifyLocked()
	s.mu.Unlock()

	if target.IsZero() {
		return nil
	}
	return s.fetch(ctx, gen, true)
}

// Refetch runs an explicit fetch (IsLoading is raised while it runs).
func (s *Sync) Refetch(ctx context.Context) error {
	s.mu.Lock()
	gen, target := s.gen, s.target
	s.mu.Unlock()
	if target.IsZero() {
		return ErrNoTarget
	}
	return s.fetch(ctx, gen, true)
}

// Pause stops background polling without touching the displayed state.
func (s *Sync) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	s.stopPollLocked()
}

// Resume restarts background polling and immediately runs one background fetch.
func (s *Sync) Resume() {
	s.mu.Lock()
	if !s.paused || s.closed {
		s.mu.Unlock()
		return
	}
	s.paused = false
	gen := s.gen
	if s.target.IsZero() {
		s.mu.Unlock()
		return
	}
	s.startPollLocked(gen)
	ctx := s.life
	if s.pollStop != nil {
		ctx = s.pollCtx
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		if err := s.fetch(ctx, gen, false); err != nil {
			s.log.Debug("resume fetch failed", "err", err)
		}
	}()
}

// Close stops all background work. The Sync cannot be reused.
func (s *Sync) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	s.stopPollLocked()
	s.stop()
	s.mu.Unlock()
	s.wg.Wait()
	close(s.updates)
}

// State returns a copy of the current view, messages sorted oldest first.
func (s *Sync) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]domain.ChatMessage, 0, len(s.confirmed)+len(s.pending))
	msgs = append(msgs, s.confirmed...)
	msgs = append(msgs, s.pending...)
	SortMessages(msgs)
	return State{
		Target:    s.target,
		Messages:  msgs,
		IsLoading: s.loading > 0,
		IsSending: s.sending,
		Err:       s.err,
	}
}

// Send posts a message optimistically. It returns false without error when
// there is nothing to send or another send is still outstanding.
func (s *Sync) Send(ctx context.Context, content string, attachments []domain.ChatAttachment) (bool, error) {
	text := strings.TrimSpace(content)
	if text == "" && len(attachments) == 0 {
		return false, nil
	}
	s.mu.Lock()
	if s.target.IsZero() {
		s.mu.Unlock()
		return false, ErrNoTarget
	}
	if s.sending {
		s.mu.Unlock()
		return false, nil
	}
	gen, target := s.gen, s.target
	mentions, all := ExtractMentions(text)
	optimistic := domain.ChatMessage{
		ID:           TempIDPrefix + s.opts.NewID(),
		Content:      text,
		SenderType:   domain.SenderHuman,
		SenderID:     s.opts.SenderID,
		SenderName:   s.opts.SenderName,
		Timestamp:    s.opts.Now(),
		Attachments:  append([]domain.ChatAttachment(nil), attachments...),
		Mentions:     mentions,
		MentionedAll: all,
		Pending:      true,
	}
	s.sending = true
	s.pending = append(s.pending, optimistic)
	s.notifyLocked()
	s.mu.Unlock()

	req := clawsdk.SendRequest{
		Content:     text,
		SenderID:    s.opts.SenderID,
		SenderName:  s.opts.SenderName,
		Agents:      mentions,
		Attachments: attachments,
	}
	confirmed, err := s.backend.SendMessage(ctx, target, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		// The view moved on; the new target's state must not see this send.
		return err == nil, err
	}
	s.sending = false
	s.removePendingLocked(optimistic.ID)
	if err != nil {
		s.err = err
		s.notifyLocked()
		return false, err
	}
	if confirmed.ID != "" {
		if confirmed.Timestamp.IsZero() {
			confirmed.Timestamp = optimistic.Timestamp
		}
		confirmed.Pending = false
		s.upsertConfirmedLocked(confirmed)
		// Poll responses issued before this confirmation must not drop it.
		s.seq++
		s.applied = s.seq
	}
	s.err = nil
	s.notifyLocked()
	s.scheduleReplyRefetchLocked(gen)
	return true, nil
}

func (s *Sync) fetch(ctx context.Context, gen uint64, explicit bool) error {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	s.seq++
	seq, target := s.seq, s.target
	if explicit {
		s.loading++
		s.notifyLocked()
	}
	s.mu.Unlock()

	msgs, err := s.backend.FetchMessages(ctx, target)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return nil
	}
	if explicit {
		s.loading--
	}
	defer s.notifyLocked()
	if seq < s.applied {
		return nil
	}
	if err != nil {
		if clawsdk.IsNotFound(err) {
			s.confirmed = nil
			s.err = nil
			s.applied = seq
			return nil
		}
		s.err = err
		return err
	}
	s.confirmed = dedupe(msgs)
	s.err = nil
	s.applied = seq
	return nil
}

func (s *Sync) startPollLocked(gen uint64) {
	if s.opts.Disabled || s.paused {
		return
	}
	ctx, cancel := context.WithCancel(s.life)
	s.pollCtx, s.pollStop = ctx, cancel
	s.wg.Add(1)
	go s.pollLoop(ctx, gen)
}

func (s *Sync) stopPollLocked() {
	if s.pollStop != nil {
		s.pollStop()
		s.pollStop = nil
	}
}

func (s *Sync) pollLoop(ctx context.Context, gen uint64) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.fetch(ctx, gen, false); err != nil && ctx.Err() == nil {
				s.log.Debug("background poll failed", "err", err)
			}
		}
	}
}

func (s *Sync) scheduleReplyRefetchLocked(gen uint64) {
	ctx := s.life
	if s.pollStop != nil {
		ctx = s.pollCtx
	}
	delay := s.opts.ReplyRefetchDelay
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := s.fetch(ctx, gen, false); err != nil && ctx.Err() == nil {
			s.log.Debug("reply refetch failed", "err", err)
		}
	}()
}

func (s *Sync) removePendingLocked(id string) {
	out := s.pending[:0]
	for _, m := range s.pending {
		if m.ID != id {
			out = append(out, m)
		}
	}
	s.pending = out
}

func (s *Sync) upsertConfirmedLocked(msg domain.ChatMessage) {
	for i := range s.confirmed {
		if s.confirmed[i].ID == msg.ID {
			s.confirmed[i] = msg
			return
		}
	}
	s.confirmed = append(s.confirmed, msg)
}

func (s *Sync) notifyLocked() {
	if s.closed {
		return
	}
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// SortMessages orders messages oldest first; equal timestamps keep their order.
func SortMessages(msgs []domain.ChatMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}

// dedupe keeps the last occurrence of each id.
func dedupe(msgs []domain.ChatMessage) []domain.ChatMessage {
	index := make(map[string]int, len(msgs))
	out := make([]domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			out = append(out, m)
			continue
		}
		if i, ok := index[m.ID]; ok {
			out[i] = m
			continue
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}
	return out
}
