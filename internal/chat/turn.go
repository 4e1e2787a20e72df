package chat

import (
	"context"
	"sync"

	"github.com/qmuntal/stateless"

	"github.com/comigor/localchat/internal/llm"
)

// State is the lifecycle state of a turn.
type State string

const (
	StateReceived         State = "Received"
	StateContextAssembled State = "ContextAssembled"
	StateStreaming        State = "Streaming"
	StateCompleted        State = "Completed" // Terminal: full response produced
	StateCancelled        State = "Cancelled" // Terminal: consumer went away
	StateFailed           State = "Failed"    // Terminal: assembly or model error
)

type trigger string

const (
	triggerContextReady trigger = "ContextReady"
	triggerModelStarted trigger = "ModelStarted"
	triggerModelDone    trigger = "ModelDone"
	triggerCancel       trigger = "Cancel"
	triggerFail         trigger = "Fail"
)

// Result is the outcome of a finished turn. Text excludes any inline error
// notice sent to the stream.
type Result struct {
	Text  string
	Usage llm.Usage
	State State
	Err   error
}

// Turn is one in-flight generation. Deltas must be drained by a single
// consumer until it is closed, or the turn cancelled.
type Turn struct {
	SessionID string

	deltas     chan string
	done       chan struct{}
	cancel     context.CancelFunc
	cancelOnce sync.Once
	result     Result
}

func newTurn(sessionID string, cancel context.CancelFunc) *Turn {
	return &Turn{
		SessionID: sessionID,
		deltas:    make(chan string, 16),
		done:      make(chan struct{}),
		cancel:    cancel,
	}
}

// Deltas yields response fragments in model order. It is closed when the
// turn reaches a terminal state.
func (t *Turn) Deltas() <-chan string { return t.deltas }

// Cancel abandons the turn. It is safe to call more than once.
func (t *Turn) Cancel() {
	t.cancelOnce.Do(t.cancel)
}

// Wait blocks until the turn is finished.
func (t *Turn) Wait() Result {
	<-t.done
	return t.result
}

// emit hands a fragment to the consumer unless the turn is cancelled first.
func (t *Turn) emit(ctx context.Context, s string) bool {
	select {
	case t.deltas <- s:
		return true
	case <-ctx.Done():
		return false
	}
}

// newMachine wires the turn lifecycle. onCompleted runs on entry to
// StateCompleted.
func newMachine(onTransition func(context.Context, stateless.Transition), onCompleted func(context.Context) error) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateReceived)

	fsm.Configure(StateReceived).
		Permit(triggerContextReady, StateContextAssembled).
		Permit(triggerCancel, StateCancelled).
		Permit(triggerFail, StateFailed)

	fsm.Configure(StateContextAssembled).
		Permit(triggerModelStarted, StateStreaming).
		Permit(triggerCancel, StateCancelled).
		Permit(triggerFail, StateFailed)

	fsm.Configure(StateStreaming).
		Permit(triggerModelDone, StateCompleted).
		Permit(triggerCancel, StateCancelled).
		Permit(triggerFail, StateFailed)

	fsm.Configure(StateCompleted).
		OnEntry(func(ctx context.Context, _ ...any) error {
			return onCompleted(ctx)
		})

	fsm.Configure(StateCancelled)
	fsm.Configure(StateFailed)

	fsm.OnTransitioned(onTransition)
	return fsm
}
