// Package dispatch turns a user message into a generated reply: it records
// the message, asks the backend once, splits the reply into chat bubbles
// and commits them in order with a short pause between each.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/Tegami/common/trace"
	"github.com/bdobrica/Tegami/internal/tegami/chat"
	"github.com/bdobrica/Tegami/internal/tegami/host"
	"github.com/bdobrica/Tegami/internal/tegami/kv"
	"github.com/bdobrica/Tegami/internal/tegami/llm"
	"github.com/bdobrica/Tegami/internal/tegami/narrative"
	"github.com/bdobrica/Tegami/internal/tegami/observability"
	"github.com/bdobrica/Tegami/internal/tegami/settings"
)

var (
	// ErrGeneration wraps backend failures passed to Notifier.Failed. The
	// user's message is kept.
	ErrGeneration = errors.New("dispatch: generation failed")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("dispatch: pipeline closed")
)

// StalePolicy decides what happens to reply chunks still pending when the
// user switches to another character or session.
type StalePolicy int

const (
	// CommitToOrigin lands pending chunks in the scope they were generated
	// for, even though it is no longer the active one.
	CommitToOrigin StalePolicy = iota
	// DropStale discards chunks whose scope is no longer active.
	DropStale
)

func (p StalePolicy) String() string {
	if p == DropStale {
		return "drop-stale"
	}
	return "commit-to-origin"
}

// ParseStalePolicy accepts "drop-stale" or "commit-to-origin" (the default
// for anything else).
func ParseStalePolicy(s string) StalePolicy {
	if s == "drop-stale" || s == "drop" {
		return DropStale
	}
	return CommitToOrigin
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	store    *chat.Store
	gen      llm.Generator
	resolver *narrative.Resolver
	settings *settings.Service
	notifier Notifier
	logger   *slog.Logger
	policy   StalePolicy
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	q      *queue

	closeOnce sync.Once
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithNotifier(n Notifier) Option { return func(p *Pipeline) { p.notifier = n } }

func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

func WithStalePolicy(policy StalePolicy) Option { return func(p *Pipeline) { p.policy = policy } }

// WithClock overrides the wall clock used to schedule chunk commits.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// New wires a pipeline. Close releases its delivery goroutines.
func New(store *chat.Store, gen llm.Generator, resolver *narrative.Resolver, st *settings.Service, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		gen:      gen,
		resolver: resolver,
		settings: st,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.notifier == nil {
		p.notifier = LogNotifier{Logger: p.logger}
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.q = newQueue(p.deliver)
	return p
}

// Outcome describes a SendUserMessage call.
type Outcome struct {
	TraceID string       `json:"traceId"`
	Message chat.Message `json:"message"`
	// Queued reports whether a reply was scheduled; false offline.
	Queued bool `json:"queued"`
}

// delivery is one reply round trip: generation followed by the ordered
// commit of its chunks. A lane runs deliveries one at a time.
type delivery struct {
	ctx      context.Context
	handle   *chat.Scoped
	snap     *host.Snapshot
	threadID string
	sent     narrative.Time
	settings settings.Settings
	traceID  string
}

// SendUserMessage records text from the user in threadID and, when online,
// schedules the reply. It returns once the message is committed; the
// backend round trip and chunk delivery run on the pipeline's own
// goroutines and report through the Notifier. snap is the host context at
// send time; nil uses the snapshot h was bound with.
//
// Cancelling ctx after the call returns does not affect the reply.
func (p *Pipeline) SendUserMessage(ctx context.Context, h *chat.Scoped, snap *host.Snapshot, threadID, text string) (Outcome, error) {
	if p.ctx.Err() != nil {
		return Outcome{}, ErrClosed
	}
	if snap == nil {
		snap = h.Snapshot()
	}
	out := Outcome{TraceID: trace.NewID()}
	ctx = trace.WithID(ctx, out.TraceID)
	logger := observability.WithTrace(ctx, p.logger).With("scope", h.Scope().String(), "thread", threadID)

	sent := p.resolver.Resolve(snap)
	msg, err := h.AppendMessage(ctx, threadID, chat.Message{
		Sender:      chat.SenderUser,
		Content:     text,
		Time:        sent.Clock,
		Kind:        chat.KindText,
		EpochMillis: sent.EpochMillis,
		Provenance:  string(sent.Provenance),
	})
	if err != nil {
		return out, err
	}
	out.Message = msg

	st := p.settings.Get(ctx)
	if !st.OnlineMode {
		logger.Debug("dispatch: offline, message recorded only")
		return out, nil
	}

	d := &delivery{
		ctx:      context.WithoutCancel(ctx),
		handle:   h,
		snap:     snap,
		threadID: threadID,
		sent:     sent,
		settings: st,
		traceID:  out.TraceID,
	}
	if !p.q.push(d) {
		return out, ErrClosed
	}
	out.Queued = true
	logger.Debug("dispatch: reply scheduled")
	return out, nil
}

// generate performs the backend round trip for d and turns the reply into
// stamped chat messages. ok is false when the failure was already
// reported or the pipeline is closing.
func (p *Pipeline) generate(ctx context.Context, d *delivery, logger *slog.Logger) ([]chat.Message, time.Time, bool) {
	scope := d.handle.Scope()
	rec, err := d.handle.Record(ctx)
	if err != nil {
		p.notifier.Failed(scope, d.threadID, err)
		return nil, time.Time{}, false
	}
	thread, err := d.handle.Thread(ctx, d.threadID)
	if err != nil {
		p.notifier.Failed(scope, d.threadID, err)
		return nil, time.Time{}, false
	}
	prompt := buildPrompt(promptInput{
		snap:            d.snap,
		record:          rec,
		thread:          thread,
		now:             d.sent,
		transcriptDepth: d.settings.TranscriptDepth,
		historyDepth:    d.settings.HistoryDepth,
	})

	start := time.Now()
	reply, err := p.gen.Generate(llm.WithLimitKey(ctx, scope.String()), prompt)
	if err != nil {
		if p.ctx.Err() != nil {
			logger.Info("dispatch: pipeline closed during generation")
			return nil, time.Time{}, false
		}
		logger.Warn("dispatch: generation failed", "err", err, "elapsed", time.Since(start))
		p.notifier.Failed(scope, d.threadID, fmt.Errorf("%w: %w", ErrGeneration, err))
		return nil, time.Time{}, false
	}
	receivedAt := p.now()

	chunks := SplitReply(reply.Text)
	if len(chunks) == 0 {
		logger.Warn("dispatch: reply had no usable text")
		p.notifier.Failed(scope, d.threadID, fmt.Errorf("%w: %w", ErrGeneration, llm.ErrEmptyReply))
		return nil, time.Time{}, false
	}
	logger.Info("dispatch: reply received", "chunks", len(chunks), "model", reply.Model, "elapsed", time.Since(start))

	t0 := p.resolver.Resolve(d.snap)
	members := memberNames(rec, thread)
	msgs := make([]chat.Message, 0, len(chunks))
	for i, chunk := range chunks {
		stamp := t0.Add(time.Duration(i+1) * time.Minute)
		sender, content := speakerFor(d.snap, thread, members, chunk)
		msgs = append(msgs, chat.Message{
			Sender:      sender,
			Content:     content,
			Time:        stamp.Clock,
			Kind:        chat.KindText,
			Avatar:      avatarFor(rec, thread, sender),
			EpochMillis: stamp.EpochMillis,
			Provenance:  string(stamp.Provenance),
		})
	}
	return msgs, receivedAt, true
}

func speakerFor(snap *host.Snapshot, t chat.Thread, members []string, chunk string) (string, string) {
	if t.Kind != chat.ThreadGroup {
		return t.DisplayName, chunk
	}
	if name, text, ok := splitSpeaker(chunk, members); ok {
		return name, text
	}
	if len(members) > 0 {
		return members[0], chunk
	}
	return snap.CharacterName(), chunk
}

func avatarFor(rec *chat.Record, t chat.Thread, sender string) string {
	if t.Kind != chat.ThreadGroup {
		return t.Avatar
	}
	for _, c := range rec.Contacts {
		if c.DisplayName == sender {
			return c.Avatar
		}
	}
	return ""
}

// deliver runs d's round trip and commits the chunks in order. Chunk i
// lands no earlier than receipt + i×delay and at least delay after the
// chunk before it. The caller's cancellation never reaches here; Close does.
func (p *Pipeline) deliver(d *delivery) {
	ctx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	scope := d.handle.Scope()
	logger := observability.WithTrace(ctx, p.logger).With("scope", scope.String(), "thread", d.threadID)

	msgs, receivedAt, ok := p.generate(ctx, d, logger)
	if !ok {
		return
	}

	committed := 0
	defer func() {
		if committed > 0 {
			p.notifier.Rerender(scope, d.threadID)
		}
	}()

	delay := time.Duration(d.settings.ChunkDelayMillis) * time.Millisecond
	var last time.Time
	for i, msg := range msgs {
		at := receivedAt.Add(time.Duration(i) * delay)
		if i > 0 && last.Add(delay).After(at) {
			at = last.Add(delay)
		}
		if !p.waitUntil(at) {
			logger.Info("dispatch: pipeline closed, dropping pending chunks", "dropped", len(msgs)-i)
			return
		}
		if p.policy == DropStale && !p.store.IsActive(scope) {
			logger.Info("dispatch: scope no longer active, dropping pending chunks", "dropped", len(msgs)-i)
			return
		}
		// a chunk that has started is written even if Close races it
		if _, err := d.handle.AppendMessage(context.WithoutCancel(ctx), d.threadID, msg); err != nil {
			logger.Error("dispatch: commit chunk", "index", i, "err", err)
			if errors.Is(err, kv.ErrQuotaExceeded) {
				p.notifier.Alert(err)
			} else {
				p.notifier.Failed(scope, d.threadID, err)
			}
			return
		}
		last = p.now()
		committed++
	}
}

// waitUntil blocks until the wall clock reaches at or the pipeline closes.
func (p *Pipeline) waitUntil(at time.Time) bool {
	wait := at.Sub(p.now())
	if wait <= 0 {
		return p.ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// Pending counts replies scheduled but not yet started.
func (p *Pipeline) Pending() int { return p.q.pending() }

// Wait blocks until every queued reply has been committed or dropped.
func (p *Pipeline) Wait() { p.q.wait() }

// Close cancels pending chunk commits and waits for delivery goroutines to
// exit. A chunk already being written finishes.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.q.close()
		p.cancel()
		p.q.wait()
	})
	return nil
}
