package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSBus implements MessageBus using NATS. With Config.Persist set, session
// events are also retained in a JetStream stream so late subscribers can
// replay recent visits.
type NATSBus struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	config Config
	stream jetstream.Stream
	closed atomic.Bool
}

// NewNATSBus connects to the server named in cfg.
func NewNATSBus(ctx context.Context, cfg Config) (*NATSBus, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	b, err := NewNATSBusFromConn(ctx, conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

// NewNATSBusFromConn wraps an existing connection.
func NewNATSBusFromConn(ctx context.Context, conn *nats.Conn, cfg Config) (*NATSBus, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	b := &NATSBus{conn: conn, js: js, config: cfg}
	if cfg.Persist {
		if err := b.ensureEventStream(ctx); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// EventStreamName is the JetStream stream that retains session events.
func EventStreamName(prefix string) string {
	if prefix == "" {
		prefix = "visitbridge"
	}
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(prefix)) + "_EVENTS"
}

func (b *NATSBus) ensureEventStream(ctx context.Context) error {
	subjects := Subjects{Prefix: b.config.Prefix}
	stream, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      EventStreamName(b.config.Prefix),
		Subjects:  []string{subjects.AllEvents()},
		Retention: jetstream.LimitsPolicy,
		MaxMsgs:   100000,
		MaxBytes:  256 * 1024 * 1024,
		Discard:   jetstream.DiscardOld,
		MaxAge:    24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("event stream: %w", err)
	}
	b.stream = stream
	return nil
}

func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.conn.Publish(subject, data)
}

func (b *NATSBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		reply := handler(&Message{
			Subject: msg.Subject,
			Data:    msg.Data,
			ReplyTo: msg.Reply,
		})
		if reply != nil && msg.Reply != "" {
			_ = msg.Respond(reply)
		}
	})
	if err != nil {
		return nil, err
	}

	return &natsSubscription{sub: sub}, nil
}

func (b *NATSBus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := b.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		switch {
		case errors.Is(err, nats.ErrNoResponders):
			return nil, ErrNoResponders
		case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			return nil, ErrTimeout
		}
		return nil, err
	}

	return msg.Data, nil
}

// Replay returns up to limit retained events for sessionID, oldest first.
// It requires Config.Persist.
func (b *NATSBus) Replay(ctx context.Context, sessionID string, limit int) ([][]byte, error) {
	if b.stream == nil {
		return nil, ErrReplayUnavailable
	}
	subjects := Subjects{Prefix: b.config.Prefix}
	consumer, err := b.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subjects.Event(sessionID, ">")},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("replay consumer: %w", err)
	}

	batch, err := consumer.FetchNoWait(limit)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for msg := range batch.Messages() {
		out = append(out, msg.Data())
	}
	return out, batch.Error()
}

func (b *NATSBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	b.conn.Close()
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Subject() string {
	return s.sub.Subject
}
