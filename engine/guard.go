package engine

import (
	"context"
	"sync"

	"github.com/classguard/classguard"
	"github.com/classguard/classguard/stream"
)

// Tx is one transactional unit of the storage collaborator. Current must
// return the committed row image under a lock that holds until Commit or
// Rollback, so the image the guard evaluates is the image the write
// applies to.
type Tx interface {
	Current(ctx context.Context, table, id string) (classguard.Record, error)
	Apply(ctx context.Context, m classguard.Mutation) error
	// Commit commits and returns the commit sequence number of the
	// written change.
	Commit(ctx context.Context) (uint64, error)
	Rollback() error
}

// TxStore opens transactions. Implemented by the storage collaborator.
type TxStore interface {
	Begin(ctx context.Context) (Tx, error)
}

// TxStoreFunc adapts a transaction-opening function to TxStore, so a
// store returning its concrete transaction type plugs in without an
// intermediate wrapper type.
type TxStoreFunc func(ctx context.Context) (Tx, error)

// Begin implements TxStore.
func (f TxStoreFunc) Begin(ctx context.Context) (Tx, error) {
	return f(ctx)
}

// Sink consumes committed events synchronously; the access index is one.
type Sink interface {
	Apply(ev stream.Event)
}

// Publisher fans committed events out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev stream.Event)
}

// Guard wraps writes so policy evaluation and the mutation happen as one
// atomic unit. The row is re-read inside the transaction, evaluated
// against its committed state and mutated under the same lock, so no
// actor can exploit a window between check and effect.
type Guard struct {
	ev    *Evaluator
	store TxStore
	index Sink
	pub   Publisher

	// emitMu serializes commit and event emission. Conflicting writers
	// are already serialized by the store's row locks; this only keeps
	// emission order equal to commit order for subscribers.
	emitMu sync.Mutex
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithIndex wires a synchronous sink, typically the access index. Events
// reach it before Do returns, so an index query after a committed
// enrollment change reflects that change.
func WithIndex(s Sink) GuardOption {
	return func(g *Guard) { g.index = s }
}

// WithPublisher wires the change broker for live delivery.
func WithPublisher(p Publisher) GuardOption {
	return func(g *Guard) { g.pub = p }
}

// NewGuard returns a mutation guard over the evaluator and store.
func NewGuard(ev *Evaluator, store TxStore, opts ...GuardOption) *Guard {
	g := &Guard{ev: ev, store: store}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do authorizes and applies a mutation atomically. On denial or fault the
// transaction is rolled back and no partial state change occurs; the
// returned error keeps the denial matchable through any rollback wrapper.
func (g *Guard) Do(ctx context.Context, actor classguard.Actor, m classguard.Mutation) error {
	tx, err := g.store.Begin(ctx)
	if err != nil {
		return classguard.NewUnavailableError("begin transaction", err)
	}

	if m.Op.Is(classguard.OpUpdate | classguard.OpDelete) {
		id := rowID(m)
		cur, err := tx.Current(ctx, m.Table(), id)
		if err != nil {
			return rollback(tx, err)
		}
		// Evaluate against committed state, not caller-supplied values.
		m.Old = cur
		if m.Op.Is(classguard.OpDelete) {
			// A delete has no new image; the caller's record is only an
			// id carrier.
			m.Record = nil
		}
	}

	if _, err := g.ev.AuthorizeWrite(ctx, actor, m); err != nil {
		return rollback(tx, err)
	}

	if err := tx.Apply(ctx, m); err != nil {
		return rollback(tx, err)
	}

	g.emitMu.Lock()
	defer g.emitMu.Unlock()
	seq, err := tx.Commit(ctx)
	if err != nil {
		return classguard.NewUnavailableError("commit transaction", err)
	}

	ev := stream.Event{Seq: seq, Table: m.Table(), Op: m.Op}
	switch {
	case m.Op.Is(classguard.OpInsert):
		ev.After = m.Record
	case m.Op.Is(classguard.OpDelete):
		ev.Before = m.Old
	default:
		ev.Before, ev.After = m.Old, m.Record
	}

	if g.index != nil {
		g.index.Apply(ev)
	}
	if g.pub != nil {
		g.pub.Publish(ctx, ev)
	}
	return nil
}

func rowID(m classguard.Mutation) string {
	if m.Record != nil {
		return m.Record.RecordID()
	}
	if m.Old != nil {
		return m.Old.RecordID()
	}
	return ""
}

func rollback(tx Tx, cause error) error {
	if err := tx.Rollback(); err != nil {
		return &classguard.RollbackError{Err: err, Cause: cause}
	}
	return cause
}
