package store

import (
	"context"
	"time"

	"github.com/classguard/classguard"
	"github.com/classguard/classguard/stream"
)

// defaultPollInterval is how often an idle feed checks the outbox.
const defaultPollInterval = 50 * time.Millisecond

// Feed reads committed changes from the outbox in commit order. It
// implements stream.Feed; the broker's Run loop is the usual consumer.
type Feed struct {
	s        *Store
	after    uint64
	interval time.Duration
	buf      []stream.Event
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithPollInterval sets the idle polling interval.
func WithPollInterval(d time.Duration) FeedOption {
	return func(f *Feed) { f.interval = d }
}

// NewFeed returns a feed delivering changes with sequence numbers greater
// than after. Pass 0 to start from the beginning of the outbox.
func (s *Store) NewFeed(after uint64, opts ...FeedOption) *Feed {
	f := &Feed{s: s, after: after, interval: defaultPollInterval}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Next blocks until a change is available or the context ends. Events
// carry the outbox id as their sequence number, so a restarted consumer
// resumes from the last sequence it processed.
func (f *Feed) Next(ctx context.Context) (stream.Event, error) {
	for {
		if len(f.buf) > 0 {
			ev := f.buf[0]
			f.buf = f.buf[1:]
			f.after = ev.Seq
			return ev, nil
		}
		if err := f.fill(ctx); err != nil {
			return stream.Event{}, err
		}
		if len(f.buf) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return stream.Event{}, ctx.Err()
		case <-time.After(f.interval):
		}
	}
}

func (f *Feed) fill(ctx context.Context) error {
	query := f.s.dialect.rebind(
		"SELECT id, payload FROM changes WHERE id > ? ORDER BY id LIMIT 64")
	rows, err := f.s.db.QueryContext(ctx, query, f.after)
	if err != nil {
		return classguard.NewUnavailableError("read outbox", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id      uint64
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return classguard.NewUnavailableError("read outbox", err)
		}
		ev, err := stream.DecodeEvent(payload)
		if err != nil {
			return err
		}
		ev.Seq = id
		f.buf = append(f.buf, ev)
	}
	if err := rows.Err(); err != nil {
		return classguard.NewUnavailableError("read outbox", err)
	}
	return nil
}
