package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix namespaces every subject published by the service.
const DefaultSubjectPrefix = "allfixer"

// Connect dials NATS with reconnect settings suited to a long-running server.
func Connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: connect to NATS: %w", err)
	}
	return conn, nil
}

// NATS publishes events as JSON on core NATS subjects so that every API node
// sees writes made by its peers.
type NATS struct {
	conn   *nats.Conn
	prefix string
	buffer int
	logger *slog.Logger
}

func NewNATS(conn *nats.Conn, prefix string) *NATS {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATS{conn: conn, prefix: prefix, buffer: defaultBuffer, logger: slog.Default()}
}

func (n *NATS) WithLogger(logger *slog.Logger) *NATS {
	if logger != nil {
		n.logger = logger
	}
	return n
}

func (n *NATS) subject(topic string) string {
	return n.prefix + "." + topic
}

func (n *NATS) Publish(ctx context.Context, topic string, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.conn.IsClosed() {
		return ErrClosed
	}
	ev.Topic = topic
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	if err := n.conn.Publish(n.subject(topic), body); err != nil {
		return fmt.Errorf("notify: publish %s: %w", topic, err)
	}
	return nil
}

func (n *NATS) Subscribe(topic string) (Subscription, error) {
	if n.conn.IsClosed() {
		return nil, ErrClosed
	}
	sub := &natsSub{ch: make(chan Event, n.buffer)}
	ns, err := n.conn.Subscribe(n.subject(topic), func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			n.logger.Warn("notify: dropping undecodable event", "subject", msg.Subject, "error", err)
			return
		}
		sub.deliver(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("notify: subscribe %s: %w", topic, err)
	}
	sub.sub = ns
	return sub, nil
}

type natsSub struct {
	sub *nats.Subscription

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *natsSub) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
	}
}

func (s *natsSub) Events() <-chan Event { return s.ch }

func (s *natsSub) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("notify: unsubscribe: %w", err)
	}
	return nil
}
