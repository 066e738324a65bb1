// Package actors drives the marketplace services the way competing clients
// would during a stress run.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"allfixer/agreement"
	"allfixer/chat"
	"allfixer/review"
)

// Tally counts outcomes across all actors of a run.
type Tally struct {
	Applied   atomic.Int64
	Rejected  atomic.Int64
	Transient atomic.Int64
}

func (t *Tally) String() string {
	return fmt.Sprintf("applied=%d rejected=%d transient=%d", t.Applied.Load(), t.Rejected.Load(), t.Transient.Load())
}

// record sorts err into the tally. Errors listed in expected are part of the
// protocol; anything else is treated as transient infrastructure noise, since
// chaos kills backends mid-transaction.
func (t *Tally) record(err error, expected ...error) {
	if err == nil {
		t.Applied.Add(1)
		return
	}
	for _, e := range expected {
		if errors.Is(err, e) {
			t.Rejected.Add(1)
			return
		}
	}
	t.Transient.Add(1)
}

func jitter(minMS, spreadMS int) time.Duration {
	return time.Duration(minMS+rand.Intn(spreadMS)) * time.Millisecond
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// Acceptor repeatedly accepts the job on behalf of actor.
func Acceptor(ctx context.Context, svc *agreement.Service, tally *Tally, conversationID, actor string, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, err := svc.Accept(ctx, conversationID, actor)
		tally.record(err, agreement.ErrTooManyConflicts)
		time.Sleep(jitter(5, 20))
	}
	return nil
}

// Finisher races Acceptor: it may run before both sides accepted.
func Finisher(ctx context.Context, svc *agreement.Service, tally *Tally, conversationID, actor string, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, err := svc.MarkFinished(ctx, conversationID, actor)
		tally.record(err, agreement.ErrAcceptancePending, agreement.ErrTooManyConflicts)
		time.Sleep(jitter(10, 30))
	}
	return nil
}

// Messenger appends numbered messages from sender.
func Messenger(ctx context.Context, svc *chat.Service, tally *Tally, conversationID, sender string, stop <-chan struct{}) error {
	for i := 0; !stopped(ctx, stop); i++ {
		_, err := svc.SendMessage(ctx, conversationID, sender, fmt.Sprintf("%s #%d", sender, i))
		tally.record(err)
		time.Sleep(jitter(10, 40))
	}
	return nil
}

// Reviewer keeps trying to review until the job completes. Only the first
// successful submission may ever be stored.
func Reviewer(ctx context.Context, svc *review.Service, tally *Tally, conversationID, reviewer string, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, err := svc.Submit(ctx, review.SubmitParams{
			ConversationID: conversationID,
			Reviewer:       reviewer,
			Rating:         1 + rand.Intn(5),
			Feedback:       "stress",
		})
		tally.record(err, review.ErrJobNotCompleted, review.ErrAlreadyReviewed)
		time.Sleep(jitter(20, 60))
	}
	return nil
}

// Watcher follows the message feed and fails if a snapshot ever shrinks or
// reorders the messages already seen.
func Watcher(ctx context.Context, feed *chat.Feed, conversationID, actor string, stop <-chan struct{}) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := feed.WatchMessages(ctx, conversationID, actor)
	if err != nil {
		return fmt.Errorf("watch messages: %w", err)
	}
	defer stream.Stop()

	var seen []string
	for {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		case snap, ok := <-stream.Updates():
			if !ok {
				return nil
			}
			if len(snap) < len(seen) {
				return fmt.Errorf("watcher: feed shrank from %d to %d messages", len(seen), len(snap))
			}
			for i, id := range seen {
				if snap[i].ID != id {
					return fmt.Errorf("watcher: message %d changed from %s to %s", i, id, snap[i].ID)
				}
			}
			seen = seen[:0]
			for _, m := range snap {
				seen = append(seen, m.ID)
			}
		}
	}
}
