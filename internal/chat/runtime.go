// Package chat orchestrates one chat turn: it assembles the prompt from
// long-term memory, recent session history and the current request, streams
// the model output as incremental deltas and persists completed turns in the
// background.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/qmuntal/stateless"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/comigor/localchat/internal/config"
	"github.com/comigor/localchat/internal/history"
	"github.com/comigor/localchat/internal/llm"
	"github.com/comigor/localchat/internal/logger"
	"github.com/comigor/localchat/internal/memory"
	"github.com/comigor/localchat/internal/observe"
)

// ErrNoMessages is returned for a request without messages.
var ErrNoMessages = errors.New("chat: messages must not be empty")

// ErrorNoticePrefix starts the inline notice streamed when a turn fails.
const ErrorNoticePrefix = "\n[error] "

// DefaultHistoryLimit is the number of recent session messages added to a
// prompt when Options.HistoryLimit is unset.
const DefaultHistoryLimit = 6

// Request is one chat completion request.
type Request struct {
	// SessionID defaults to Options.DefaultSession when empty.
	SessionID   string
	Messages    []llm.Message
	Temperature *float32
	MaxTokens   int
}

type Options struct {
	HistoryLimit   int
	DefaultSession string
	SearchTimeout  time.Duration
	PersistTimeout time.Duration
	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// NewOptions maps the application configuration onto Options.
func NewOptions(chat config.ChatConfig, mem config.MemoryConfig) Options {
	return Options{
		HistoryLimit:   chat.HistoryLimit,
		DefaultSession: chat.DefaultSession,
		SearchTimeout:  mem.SearchTimeout,
		PersistTimeout: chat.PersistTimeout,
	}
}

// Runtime is safe for concurrent use; every turn runs in its own goroutine.
type Runtime struct {
	model   llm.Streamer
	store   history.Store
	memory  memory.Handle
	opts    Options
	metrics *observe.Metrics

	persisting sync.WaitGroup
	now        func() time.Time
}

func New(model llm.Streamer, store history.Store, mem memory.Handle, opts Options) *Runtime {
	if opts.DefaultSession == "" {
		opts.DefaultSession = "default"
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 30 * time.Second
	}
	m := opts.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Runtime{
		model:   model,
		store:   store,
		memory:  mem,
		opts:    opts,
		metrics: m,
		now:     time.Now,
	}
}

// Stream starts a turn. The turn stops when ctx is cancelled or Turn.Cancel
// is called; a cancelled turn is not persisted.
func (r *Runtime) Stream(ctx context.Context, req Request) (*Turn, error) {
	if len(req.Messages) == 0 {
		return nil, ErrNoMessages
	}
	if req.SessionID == "" {
		req.SessionID = r.opts.DefaultSession
	}

	ctx, cancel := context.WithCancel(ctx)
	t := newTurn(req.SessionID, cancel)
	go r.run(ctx, t, req)
	return t, nil
}

// Complete runs a turn to its end and returns the aggregated result. Model
// failures are returned as errors rather than inline notices.
func (r *Runtime) Complete(ctx context.Context, req Request) (Result, error) {
	t, err := r.Stream(ctx, req)
	if err != nil {
		return Result{}, err
	}
	for range t.Deltas() {
	}
	res := t.Wait()
	return res, res.Err
}

// Close waits for background persistence to finish or ctx to expire.
func (r *Runtime) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.persisting.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chat: waiting for persistence: %w", ctx.Err())
	}
}

func (r *Runtime) run(ctx context.Context, t *Turn, req Request) {
	start := r.now()
	ctx, span := observe.StartSpan(ctx, "chat.turn")
	span.SetAttributes(attribute.String("session.id", req.SessionID))
	log := logger.FromContext(ctx).With("session_id", req.SessionID)

	query := userQuery(req.Messages)
	var (
		prompt string
		text   strings.Builder
		usage  *llm.Usage
	)

	fsm := newMachine(
		func(_ context.Context, tr stateless.Transition) {
			log.Debug("turn transition", "from", tr.Source, "to", tr.Destination, "trigger", tr.Trigger)
		},
		func(ctx context.Context) error {
			r.persist(ctx, req.SessionID, query, text.String())
			return nil
		},
	)

	finish := func(trig trigger, err error) {
		if ferr := fsm.FireCtx(ctx, trig); ferr != nil {
			log.Error("turn state machine", "error", ferr)
		}
		state := fsm.MustState().(State)

		t.result = Result{Text: text.String(), State: state, Err: err}
		if usage != nil {
			t.result.Usage = *usage
		} else if state == StateCompleted {
			t.result.Usage = estimateUsage(prompt, t.result.Text)
		}

		if err != nil && state == StateFailed {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error("chat turn failed", "error", err)
			// Failures still end the stream cleanly, with a visible notice.
			t.emit(ctx, ErrorNoticePrefix+err.Error())
		}
		span.SetAttributes(attribute.String("turn.state", string(state)))
		span.End()

		r.metrics.RecordTurn(context.WithoutCancel(ctx), string(state), r.now().Sub(start))
		close(t.deltas)
		close(t.done)
		t.Cancel()
	}

	abort := func(err error) {
		if ctx.Err() != nil {
			finish(triggerCancel, ctx.Err())
			return
		}
		finish(triggerFail, err)
	}

	prompt, err := r.assemble(ctx, req.SessionID, query, req.Messages)
	if err != nil {
		abort(err)
		return
	}
	if err := fsm.FireCtx(ctx, triggerContextReady); err != nil {
		abort(err)
		return
	}

	stream, err := r.model.Stream(ctx, llm.Request{
		Messages:    []llm.Message{{Role: history.RoleUser, Content: prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		abort(err)
		return
	}
	defer stream.Close()

	if err := fsm.FireCtx(ctx, triggerModelStarted); err != nil {
		abort(err)
		return
	}
	r.metrics.ActiveStreams.Add(ctx, 1)
	defer r.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)

	var tracker deltaTracker
	for {
		if ctx.Err() != nil {
			finish(triggerCancel, ctx.Err())
			return
		}
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			abort(err)
			return
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		delta := tracker.next(chunk)
		if delta == "" {
			continue
		}
		text.WriteString(delta)
		if !t.emit(ctx, delta) {
			finish(triggerCancel, ctx.Err())
			return
		}
	}

	finish(triggerModelDone, nil)
}

// persist writes a completed turn to history and long-term memory in the
// background. The two writes are independent and only logged on failure.
func (r *Runtime) persist(ctx context.Context, sessionID, user, assistant string) {
	log := logger.FromContext(ctx).With("session_id", sessionID)
	if user == "" {
		log.Warn("turn has no user message; not persisting")
		return
	}
	base := context.WithoutCancel(ctx)
	at := r.now()

	r.persisting.Add(1)
	go func() {
		defer r.persisting.Done()
		ctx, cancel := context.WithTimeout(base, r.opts.PersistTimeout)
		defer cancel()

		if _, err := r.store.Append(ctx, sessionID, history.RoleUser, user); err != nil {
			log.Error("failed to store user message", "error", err)
			r.metrics.RecordPersistError(ctx, "history")
			return
		}
		if _, err := r.store.Append(ctx, sessionID, history.RoleAssistant, assistant); err != nil {
			log.Error("failed to store assistant message", "error", err)
			r.metrics.RecordPersistError(ctx, "history")
		}
	}()

	mem, ok := r.memory.Get()
	if !ok {
		return
	}
	r.persisting.Add(1)
	go func() {
		defer r.persisting.Done()
		ctx, cancel := context.WithTimeout(base, r.opts.PersistTimeout)
		defer cancel()

		if err := mem.AddEpisode(ctx, memory.NewEpisode(user, assistant, sessionID, at)); err != nil {
			log.Warn("failed to add memory episode", "error", err)
			r.metrics.RecordPersistError(ctx, "memory")
		}
	}()
}
