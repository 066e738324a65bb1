package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis parses a redis:// URL and checks the server answers.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("notify: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("notify: ping redis: %w", err)
	}
	return client, nil
}

// Redis publishes events on Redis pub/sub channels. Delivery is at most once,
// which is enough because subscribers re-read the store on every signal.
type Redis struct {
	client *redis.Client
	prefix string
	buffer int
	logger *slog.Logger
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Redis{client: client, prefix: prefix, buffer: defaultBuffer, logger: slog.Default()}
}

func (r *Redis) WithLogger(logger *slog.Logger) *Redis {
	if logger != nil {
		r.logger = logger
	}
	return r
}

func (r *Redis) channel(topic string) string {
	return r.prefix + ":" + topic
}

func (r *Redis) Publish(ctx context.Context, topic string, ev Event) error {
	ev.Topic = topic
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel(topic), body).Err(); err != nil {
		if err == redis.ErrClosed {
			return ErrClosed
		}
		return fmt.Errorf("notify: publish %s: %w", topic, err)
	}
	return nil
}

func (r *Redis) Subscribe(topic string) (Subscription, error) {
	ctx := context.Background()
	ps := r.client.Subscribe(ctx, r.channel(topic))
	// Receive blocks until the server confirms the subscription.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		if err == redis.ErrClosed {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("notify: subscribe %s: %w", topic, err)
	}

	sub := &redisSub{ps: ps, ch: make(chan Event, r.buffer), done: make(chan struct{})}
	go sub.pump(ps.Channel(), r.logger)
	return sub, nil
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func (s *redisSub) pump(in <-chan *redis.Message, logger *slog.Logger) {
	defer close(s.ch)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn("notify: dropping undecodable event", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case s.ch <- ev:
			default:
			}
		}
	}
}

func (s *redisSub) Events() <-chan Event { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if cerr := s.ps.Close(); cerr != nil {
			err = fmt.Errorf("notify: unsubscribe: %w", cerr)
		}
	})
	return err
}
