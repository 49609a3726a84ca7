package bus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/visitbridge/pkg/telemetry"
)

const (
	defaultMemoryBuffer    = 256
	defaultMemoryRetention = 64
)

// MemoryBus is an in-process MessageBus for single-process hosts and tests.
// Session events published on it are kept in a small per-session window so
// late subscribers can replay them. The window is dropped when the session
// closes.
type MemoryBus struct {
	subjects   Subjects
	bufferSize int
	retention  int

	mu       sync.RWMutex
	subs     []*memorySubscription
	retained map[string][][]byte
	closed   atomic.Bool
}

// MemoryOption configures a MemoryBus.
type MemoryOption func(*MemoryBus)

// WithRetention keeps the last perSession events of every session published
// under prefix. Zero disables retention.
func WithRetention(prefix string, perSession int) MemoryOption {
	return func(b *MemoryBus) {
		b.subjects = Subjects{Prefix: prefix}
		if perSession >= 0 {
			b.retention = perSession
		}
	}
}

// NewMemoryBus creates an in-memory bus.
func NewMemoryBus(opts ...MemoryOption) *MemoryBus {
	b := &MemoryBus{
		bufferSize: defaultMemoryBuffer,
		retention:  defaultMemoryRetention,
		retained:   make(map[string][][]byte),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.retain(subject, data)
	b.deliver(&Message{Subject: subject, Data: data})
	return nil
}

func (b *MemoryBus) retain(subject string, data []byte) {
	if b.retention == 0 {
		return
	}
	session, ok := b.subjects.EventSession(subject)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if subject == b.subjects.Event(session, string(telemetry.EventSessionClosed)) {
		delete(b.retained, session)
		return
	}
	window := append(b.retained[session], data)
	if len(window) > b.retention {
		window = window[len(window)-b.retention:]
	}
	b.retained[session] = window
}

// deliver hands msg to every matching subscription and reports whether any
// accepted it. A subscription whose queue is full misses the message.
func (b *MemoryBus) deliver(msg *Message) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	accepted := false
	for _, sub := range b.subs {
		if !matchSubject(sub.subject, msg.Subject) {
			continue
		}
		select {
		case sub.queue <- msg:
			accepted = true
		default:
		}
	}
	return accepted
}

func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	sub := &memorySubscription{
		bus:     b,
		subject: subject,
		queue:   make(chan *Message, b.bufferSize),
		handler: handler,
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go sub.run(ctx)
	return sub, nil
}

func (b *MemoryBus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	inbox := "_INBOX." + ulid.Make().String()
	replies := make(chan []byte, 1)
	sub, err := b.Subscribe(ctx, inbox, func(msg *Message) []byte {
		select {
		case replies <- msg.Data:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if !b.deliver(&Message{Subject: subject, Data: data, ReplyTo: inbox}) {
		return nil, ErrNoResponders
	}

	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-replies:
		return reply, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Replay returns up to limit retained events for sessionID, oldest first.
func (b *MemoryBus) Replay(ctx context.Context, sessionID string, limit int) ([][]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	window := b.retained[token(sessionID)]
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	return append([][]byte(nil), window...), nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Swap(true) {
		return ErrClosed
	}
	for _, sub := range b.subs {
		sub.stop()
	}
	b.subs = nil
	b.retained = make(map[string][][]byte)
	return nil
}

type memorySubscription struct {
	bus     *MemoryBus
	subject string
	queue   chan *Message
	handler MessageHandler
	done    chan struct{}
	once    sync.Once
}

func (s *memorySubscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i:i], s.bus.subs[i+1:]...)
			break
		}
	}
	s.stop()
	return nil
}

func (s *memorySubscription) Subject() string {
	return s.subject
}

func (s *memorySubscription) run(ctx context.Context) {
	for {
		select {
		case msg := <-s.queue:
			reply := s.handler(msg)
			if reply != nil && msg.ReplyTo != "" {
				s.bus.deliver(&Message{Subject: msg.ReplyTo, Data: reply})
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// matchSubject reports whether subject matches pattern. "*" matches one
// token and a trailing ">" matches one or more tokens.
func matchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	want := strings.Split(pattern, ".")
	got := strings.Split(subject, ".")
	for i, tok := range want {
		if tok == ">" {
			return i == len(want)-1 && len(got) > i
		}
		if i >= len(got) {
			return false
		}
		if tok != "*" && tok != got[i] {
			return false
		}
	}
	return len(want) == len(got)
}
