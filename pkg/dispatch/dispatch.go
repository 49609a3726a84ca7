// Package dispatch provides the owner-context capability used by sessions.
//
// A session's state is owned by exactly one execution context. Renderer
// callbacks, bridge messages and timers arrive on arbitrary goroutines and
// are posted to the owner through an Executor before they touch state.
//
//   - Loop runs a single goroutine draining a mailbox; production hosts use it.
//   - Immediate runs work synchronously on the caller; tests use it together
//     with ManualClock to get deterministic, single-threaded sessions.
package dispatch

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned when posting to a loop that has been stopped.
var ErrStopped = errors.New("dispatch loop stopped")

// Executor runs work on the owner context.
type Executor interface {
	// Post schedules fn on the owner context. It never blocks on fn itself.
	Post(fn func()) error
}

// Immediate runs posted work synchronously on the calling goroutine.
//
// Reentrant posts (work posted from inside posted work) are queued and run
// after the current item finishes, which mirrors how a real main loop
// would order them.
type Immediate struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

// NewImmediate creates a synchronous executor.
func NewImmediate() *Immediate {
	return &Immediate{}
}

// Post implements Executor.
func (e *Immediate) Post(fn func()) error {
	if fn == nil {
		return nil
	}
	e.mu.Lock()
	e.queue = append(e.queue, fn)
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.running = false
			e.mu.Unlock()
			return nil
		}
		next := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()
		next()
	}
}

// Loop is a single-goroutine owner context with a buffered mailbox.
type Loop struct {
	inbox   chan func()
	onPanic func(recovered any)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithMailboxSize sets the mailbox buffer size.
func WithMailboxSize(n int) LoopOption {
	return func(l *Loop) {
		if n <= 0 {
			return
		}
		l.inbox = make(chan func(), n)
	}
}

// WithPanicHandler recovers panics raised by posted work and reports them.
// Without a handler, panics propagate and crash the process.
func WithPanicHandler(fn func(recovered any)) LoopOption {
	return func(l *Loop) { l.onPanic = fn }
}

// NewLoop creates a loop. Call Start before posting work.
func NewLoop(opts ...LoopOption) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		inbox:  make(chan func(), 256),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the loop goroutine. It is safe to call more than once.
func (l *Loop) Start() {
	l.once.Do(func() {
		go l.run()
	})
}

// Post implements Executor. It blocks only while the mailbox is full.
func (l *Loop) Post(fn func()) error {
	if fn == nil {
		return nil
	}
	select {
	case <-l.ctx.Done():
		return ErrStopped
	default:
	}
	select {
	case l.inbox <- fn:
		return nil
	case <-l.ctx.Done():
		return ErrStopped
	}
}

// Stop ends the loop. Work still in the mailbox is dropped.
func (l *Loop) Stop() {
	l.cancel()
	l.once.Do(func() { close(l.done) })
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			return
		case fn := <-l.inbox:
			l.invoke(fn)
		}
	}
}

func (l *Loop) invoke(fn func()) {
	if l.onPanic != nil {
		defer func() {
			if r := recover(); r != nil {
				l.onPanic(r)
			}
		}()
	}
	fn()
}
