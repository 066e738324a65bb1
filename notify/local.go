package notify

import (
	"context"
	"sync"
)

const defaultBuffer = 16

// Local is an in-process Notifier used by tests and single-node deployments.
type Local struct {
	mu     sync.RWMutex
	subs   map[string]map[*localSub]struct{}
	buffer int
	closed bool
}

func NewLocal() *Local {
	return &Local{
		subs:   make(map[string]map[*localSub]struct{}),
		buffer: defaultBuffer,
	}
}

// WithBuffer sets the per-subscription channel capacity.
func (l *Local) WithBuffer(n int) *Local {
	if n > 0 {
		l.buffer = n
	}
	return l
}

func (l *Local) Publish(ctx context.Context, topic string, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev.Topic = topic

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	for sub := range l.subs[topic] {
		select {
		case sub.ch <- ev:
		default:
			// subscriber is behind and already has a pending event
		}
	}
	return nil
}

func (l *Local) Subscribe(topic string) (Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	sub := &localSub{hub: l, topic: topic, ch: make(chan Event, l.buffer)}
	set, ok := l.subs[topic]
	if !ok {
		set = make(map[*localSub]struct{})
		l.subs[topic] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

// Close ends every open subscription.
func (l *Local) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for topic, set := range l.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(l.subs, topic)
	}
}

func (l *Local) remove(sub *localSub) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.subs[sub.topic]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(l.subs, sub.topic)
	}
	close(sub.ch)
}

type localSub struct {
	hub   *Local
	topic string
	ch    chan Event
	once  sync.Once
}

func (s *localSub) Events() <-chan Event { return s.ch }

func (s *localSub) Close() error {
	s.once.Do(func() { s.hub.remove(s) })
	return nil
}
