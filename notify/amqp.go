package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange used when none is configured.
const DefaultExchange = "allfixer.events"

// AMQP publishes events to a topic exchange. Every subscription binds its own
// exclusive queue, so each API node receives every event for the topics its
// clients watch.
type AMQP struct {
	conn     *amqp091.Connection
	exchange string
	buffer   int
	logger   *slog.Logger

	mu  sync.Mutex
	pub *amqp091.Channel
}

// DialAMQP connects and declares the exchange.
func DialAMQP(url, exchange string) (*AMQP, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("notify: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: declare exchange %s: %w", exchange, err)
	}
	return &AMQP{
		conn:     conn,
		exchange: exchange,
		buffer:   defaultBuffer,
		logger:   slog.Default(),
		pub:      ch,
	}, nil
}

func (a *AMQP) WithLogger(logger *slog.Logger) *AMQP {
	if logger != nil {
		a.logger = logger
	}
	return a
}

func (a *AMQP) Publish(ctx context.Context, topic string, ev Event) error {
	if a.conn.IsClosed() {
		return ErrClosed
	}
	ev.Topic = topic
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pub == nil || a.pub.IsClosed() {
		ch, err := a.conn.Channel()
		if err != nil {
			return fmt.Errorf("notify: reopen amqp channel: %w", err)
		}
		a.pub = ch
	}
	err = a.pub.PublishWithContext(ctx, a.exchange, topic, false, false, amqp091.Publishing{
		ContentType: "application/json",
		MessageId:   ev.ID,
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("notify: publish %s: %w", topic, err)
	}
	return nil
}

func (a *AMQP) Subscribe(topic string) (Subscription, error) {
	if a.conn.IsClosed() {
		return nil, ErrClosed
	}
	ch, err := a.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("notify: open amqp channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("notify: declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, topic, a.exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("notify: bind %s: %w", topic, err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("notify: consume %s: %w", topic, err)
	}

	sub := &amqpSub{ch: ch, events: make(chan Event, a.buffer), done: make(chan struct{})}
	go sub.pump(deliveries, a.logger)
	return sub, nil
}

// Close closes the connection, which ends every open subscription.
func (a *AMQP) Close() error {
	err := a.conn.Close()
	if errors.Is(err, amqp091.ErrClosed) {
		return nil
	}
	return err
}

type amqpSub struct {
	ch     *amqp091.Channel
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func (s *amqpSub) pump(in <-chan amqp091.Delivery, logger *slog.Logger) {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case d, ok := <-in:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				logger.Warn("notify: dropping undecodable event", "routing_key", d.RoutingKey, "error", err)
				continue
			}
			select {
			case s.events <- ev:
			default:
			}
		}
	}
}

func (s *amqpSub) Events() <-chan Event { return s.events }

func (s *amqpSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if cerr := s.ch.Close(); cerr != nil && !errors.Is(cerr, amqp091.ErrClosed) {
			err = fmt.Errorf("notify: close amqp channel: %w", cerr)
		}
	})
	return err
}
