package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/classguard/classguard"
)

// Broker fans committed events out to live subscribers. Publish never
// blocks on a slow consumer: each subscription buffers its backlog and
// drains it from its own goroutine, so one stalled client cannot delay
// another, while per-subscriber delivery stays in publish order.
type Broker struct {
	filter *Filter

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewBroker returns a broker delivering through the given filter.
func NewBroker(filter *Filter) *Broker {
	return &Broker{
		filter: filter,
		subs:   make(map[uint64]*Subscription),
	}
}

// Subscription is one live consumer. Events arrive on C in commit order,
// already filtered and masked for the subscribing actor.
type Subscription struct {
	id     uint64
	broker *Broker
	actor  classguard.Actor
	tables map[string]struct{}
	out    chan Delivery
	quit   chan struct{}

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	done   bool
	err    error
	cancel sync.Once
}

// ErrBrokerClosed is returned by Subscribe after Close.
var ErrBrokerClosed = errors.New("classguard/stream: broker closed")

// Subscribe registers a consumer for the given tables (none means all
// tables). The subscription ends when ctx is done, Cancel is called, or
// the broker closes; pending undelivered events are dropped at teardown.
func (b *Broker) Subscribe(ctx context.Context, actor classguard.Actor, tables ...string) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	b.nextID++
	s := &Subscription{
		id:     b.nextID,
		broker: b,
		actor:  actor,
		out:    make(chan Delivery, 16),
		quit:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	if len(tables) > 0 {
		s.tables = make(map[string]struct{}, len(tables))
		for _, t := range tables {
			s.tables[t] = struct{}{}
		}
	}
	b.subs[s.id] = s
	b.mu.Unlock()

	go s.run(ctx)
	go func() {
		select {
		case <-ctx.Done():
			s.Cancel()
		case <-s.quit:
		}
	}()
	return s, nil
}

// Publish enqueues the event for every matching subscriber and returns
// without waiting for delivery.
func (b *Broker) Publish(_ context.Context, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.tables != nil {
			if _, ok := s.tables[ev.Table]; !ok {
				continue
			}
		}
		s.enqueue(ev)
	}
}

// Run pumps a feed into the broker until the context ends or the feed
// fails. The usual wiring reads the store's outbox through this.
func (b *Broker) Run(ctx context.Context, feed Feed) error {
	for {
		ev, err := feed.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return classguard.NewUnavailableError("change feed", err)
		}
		b.Publish(ctx, ev)
	}
}

// Close tears down all subscriptions. In-flight events are dropped, not
// flushed.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}
}

func (b *Broker) unsubscribe(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// C is the delivery channel. It closes when the subscription ends; check
// Err afterwards to distinguish teardown from a filter fault.
func (s *Subscription) C() <-chan Delivery {
	return s.out
}

// Err returns the terminal error of a subscription whose channel closed,
// or nil for an orderly teardown.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel ends the subscription and drops any undelivered backlog.
func (s *Subscription) Cancel() {
	s.cancel.Do(func() {
		s.mu.Lock()
		s.done = true
		s.queue = nil
		s.mu.Unlock()
		s.cond.Signal()
		close(s.quit)
		s.broker.unsubscribe(s.id)
	})
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	if !s.done {
		s.queue = append(s.queue, ev)
	}
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.Cancel()
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.done {
			s.cond.Wait()
		}
		if s.done {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		d, ok, err := s.broker.filter.Apply(ctx, s.actor, ev)
		if err != nil {
			// A dependency fault poisons the stream; dropping the event
			// silently would desynchronize the subscriber from reads.
			s.fail(err)
			return
		}
		if !ok {
			continue
		}
		select {
		case s.out <- d:
		case <-s.quit:
			return
		}
	}
}
