// Package bus carries session lifecycle events and remote visit commands
// between visitbridge processes. It supports publish/subscribe and
// request/reply. Production deployments use NATS; the in-memory bus serves
// single-process hosts and tests.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned when a request times out waiting for a response.
	ErrTimeout = errors.New("request timeout")

	// ErrNoResponders is returned when no subscribers are available to handle a request.
	ErrNoResponders = errors.New("no responders available")

	// ErrClosed is returned when operating on a closed bus or subscription.
	ErrClosed = errors.New("bus or subscription closed")

	// ErrReplayUnavailable is returned by Replay when the bus keeps no events.
	ErrReplayUnavailable = errors.New("event replay not enabled")
)

// MessageBus moves session traffic between processes.
// Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends data to every subscriber of subject. It does not wait
	// for delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers handler for subject. Wildcards follow NATS:
	// "*" matches one token and ">" matches the rest.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Request sends data and waits for a single reply.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Replayer is implemented by buses that retain session events.
type Replayer interface {
	// Replay returns up to limit retained events for sessionID, oldest first.
	Replay(ctx context.Context, sessionID string, limit int) ([][]byte, error)
}

// MessageHandler processes an incoming message. A non-nil return value is
// sent back when the sender expects a reply.
type MessageHandler func(msg *Message) []byte

// Message is an incoming message.
type Message struct {
	Subject string
	Data    []byte
	ReplyTo string
}

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
	Subject() string
}

// Config holds configuration for creating a MessageBus.
type Config struct {
	// URL is the NATS server URL. Ignored by the in-memory bus.
	URL string

	// Name is a client identifier for monitoring.
	Name string

	// Prefix is the first subject token. Defaults to "visitbridge".
	Prefix string

	// Timeout is the default timeout for operations.
	Timeout time.Duration

	// Persist retains published session events in a JetStream stream.
	Persist bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Name:    "visitbridge",
		Prefix:  "visitbridge",
		Timeout: 10 * time.Second,
	}
}

// Subjects builds the subject names used for session traffic.
type Subjects struct {
	Prefix string
}

func (s Subjects) prefix() string {
	if s.Prefix == "" {
		return "visitbridge"
	}
	return s.Prefix
}

// Event is the subject a session event of kind is published on, for
// example visitbridge.session.abc.event.visit.started.
func (s Subjects) Event(sessionID, kind string) string {
	return fmt.Sprintf("%s.session.%s.event.%s", s.prefix(), token(sessionID), kind)
}

// AllEvents matches every session event.
func (s Subjects) AllEvents() string {
	return s.prefix() + ".session.*.event.>"
}

// Visit is the request subject that asks a session to visit a location.
func (s Subjects) Visit(sessionID string) string {
	return fmt.Sprintf("%s.session.%s.visit", s.prefix(), token(sessionID))
}

// AllVisits matches the visit requests of every session.
func (s Subjects) AllVisits() string {
	return s.prefix() + ".session.*.visit"
}

// SessionFromSubject extracts the session token from a session subject.
func (s Subjects) SessionFromSubject(subject string) (string, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) < 3 || parts[0] != s.prefix() || parts[1] != "session" {
		return "", false
	}
	return parts[2], true
}

// EventSession returns the session token of an event subject.
func (s Subjects) EventSession(subject string) (string, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) < 5 || parts[3] != "event" {
		return "", false
	}
	return s.SessionFromSubject(subject)
}

// token keeps ids usable as a single subject token.
func token(id string) string {
	if id == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(id)
}
