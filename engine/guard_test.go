package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classguard/classguard"
	"github.com/classguard/classguard/engine"
	"github.com/classguard/classguard/schema"
	"github.com/classguard/classguard/stream"
)

// memStore is an in-memory TxStore with one global lock standing in for
// row locks. A transaction holds the lock from Begin until Commit or
// Rollback, which gives the same isolation the guard relies on.
type memStore struct {
	mu   sync.Mutex
	rows map[string]map[string]classguard.Record
	seq  uint64

	beginErr  error
	commitErr error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]map[string]classguard.Record)}
}

func (s *memStore) put(table string, rec classguard.Record) {
	if s.rows[table] == nil {
		s.rows[table] = make(map[string]classguard.Record)
	}
	s.rows[table][rec.RecordID()] = rec
}

func (s *memStore) get(table, id string) (classguard.Record, bool) {
	rec, ok := s.rows[table][id]
	return rec, ok
}

func (s *memStore) Begin(_ context.Context) (engine.Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	s.mu.Lock()
	return &memTx{s: s}, nil
}

type memTx struct {
	s       *memStore
	pending []classguard.Mutation
	done    bool
}

func (tx *memTx) Current(_ context.Context, table, id string) (classguard.Record, error) {
	rec, ok := tx.s.rows[table][id]
	if !ok {
		return nil, classguard.NewNotFoundError(table, id)
	}
	return rec, nil
}

func (tx *memTx) Apply(_ context.Context, m classguard.Mutation) error {
	tx.pending = append(tx.pending, m)
	return nil
}

func (tx *memTx) Commit(_ context.Context) (uint64, error) {
	if tx.done {
		return 0, errors.New("transaction already finished")
	}
	tx.done = true
	defer tx.s.mu.Unlock()
	if tx.s.commitErr != nil {
		return 0, tx.s.commitErr
	}
	for _, m := range tx.pending {
		switch {
		case m.Op.Is(classguard.OpDelete):
			delete(tx.s.rows[m.Table()], m.Old.RecordID())
		default:
			tx.s.put(m.Table(), m.Record)
		}
	}
	tx.s.seq++
	return tx.s.seq, nil
}

func (tx *memTx) Rollback() error {
	if tx.done {
		return errors.New("transaction already finished")
	}
	tx.done = true
	tx.s.mu.Unlock()
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []stream.Event
}

func (s *recordingSink) Apply(ev stream.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) Publish(_ context.Context, ev stream.Event) {
	s.Apply(ev)
}

func (s *recordingSink) all() []stream.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stream.Event(nil), s.events...)
}

func guardWorld(t *testing.T) (*engine.Guard, *memStore, *recordingSink) {
	t.Helper()
	ev, _ := testWorld(t)
	store := newMemStore()
	store.put(schema.TableProgress, &schema.Progress{
		ID: "p-1", UserID: "s-1", AssignmentID: "a-1", CompletionPercentage: 40,
	})
	store.put(schema.TableAssignments, &schema.Assignment{
		ID: "a-1", ClassroomID: "c-1", Status: schema.StatusPublished,
	})
	sink := &recordingSink{}
	g := engine.NewGuard(ev, store, engine.WithIndex(sink), engine.WithPublisher(sink))
	return g, store, sink
}

func TestGuardAllowedUpdate(t *testing.T) {
	g, store, sink := guardWorld(t)

	updated := &schema.Progress{ID: "p-1", UserID: "s-1", AssignmentID: "a-1", CompletionPercentage: 80}
	err := g.Do(context.Background(), student("s-1"), classguard.Mutation{
		Op:      classguard.OpUpdate,
		Record:  updated,
		Columns: []string{schema.ProgressFieldCompletionPercentage},
	})
	require.NoError(t, err)

	got, ok := store.get(schema.TableProgress, "p-1")
	require.True(t, ok)
	assert.Equal(t, updated, got)

	events := sink.all()
	// One committed change reaches both the index sink and the publisher.
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, classguard.OpUpdate, events[0].Op)
	assert.Equal(t, 40, events[0].Before.(*schema.Progress).CompletionPercentage)
	assert.Equal(t, 80, events[0].After.(*schema.Progress).CompletionPercentage)
}

func TestGuardDeniedWriteLeavesNoTrace(t *testing.T) {
	g, store, sink := guardWorld(t)

	err := g.Do(context.Background(), student("s-1"), classguard.Mutation{
		Op:      classguard.OpUpdate,
		Record:  &schema.Progress{ID: "p-1", UserID: "s-1", AssignmentID: "a-1"},
		Columns: []string{schema.ProgressFieldGrade},
	})
	require.Error(t, err)
	assert.True(t, classguard.IsDenied(err))

	got, _ := store.get(schema.TableProgress, "p-1")
	assert.Equal(t, 40, got.(*schema.Progress).CompletionPercentage)
	assert.Empty(t, sink.all())
}

func TestGuardReReadsCommittedImage(t *testing.T) {
	g, store, _ := guardWorld(t)

	// The caller claims the row belongs to them; the committed image says
	// otherwise and the committed image wins.
	smuggled := &schema.Progress{ID: "p-1", UserID: "s-2", AssignmentID: "a-1", CompletionPercentage: 100}
	err := g.Do(context.Background(), student("s-2"), classguard.Mutation{
		Op:      classguard.OpUpdate,
		Record:  smuggled,
		Old:     smuggled,
		Columns: []string{schema.ProgressFieldCompletionPercentage},
	})
	require.Error(t, err)
	assert.True(t, classguard.IsDenied(err))

	got, _ := store.get(schema.TableProgress, "p-1")
	assert.Equal(t, "s-1", got.(*schema.Progress).UserID)
}

func TestGuardDeleteUsesPreImage(t *testing.T) {
	g, store, sink := guardWorld(t)

	err := g.Do(context.Background(), teacher("t-1"), classguard.Mutation{
		Op:     classguard.OpDelete,
		Record: &schema.Assignment{ID: "a-1"},
	})
	require.NoError(t, err)

	_, ok := store.get(schema.TableAssignments, "a-1")
	assert.False(t, ok)

	events := sink.all()
	require.Len(t, events, 2)
	assert.Nil(t, events[0].After)
	require.NotNil(t, events[0].Before)
	assert.Equal(t, "c-1", events[0].Before.(*schema.Assignment).ClassroomID)
}

func TestGuardUpdateMissingRow(t *testing.T) {
	g, _, sink := guardWorld(t)

	err := g.Do(context.Background(), student("s-1"), classguard.Mutation{
		Op:      classguard.OpUpdate,
		Record:  &schema.Progress{ID: "p-missing", UserID: "s-1", AssignmentID: "a-1"},
		Columns: []string{schema.ProgressFieldStatus},
	})
	require.Error(t, err)
	assert.True(t, classguard.IsNotFound(err))
	assert.Empty(t, sink.all())
}

func TestGuardInsert(t *testing.T) {
	g, store, sink := guardWorld(t)

	rec := &schema.Progress{ID: "p-2", UserID: "s-1", AssignmentID: "a-1", Status: schema.ProgressInProgress}
	err := g.Do(context.Background(), student("s-1"), classguard.Mutation{
		Op:     classguard.OpInsert,
		Record: rec,
	})
	require.NoError(t, err)

	_, ok := store.get(schema.TableProgress, "p-2")
	assert.True(t, ok)

	events := sink.all()
	require.Len(t, events, 2)
	assert.Nil(t, events[0].Before)
	assert.Equal(t, rec, events[0].After)
}

func TestGuardStoreFaults(t *testing.T) {
	t.Run("begin", func(t *testing.T) {
		g, store, _ := guardWorld(t)
		store.beginErr = errors.New("pool exhausted")
		err := g.Do(context.Background(), student("s-1"), classguard.Mutation{
			Op:     classguard.OpInsert,
			Record: &schema.Progress{ID: "p-2", UserID: "s-1", AssignmentID: "a-1"},
		})
		assert.True(t, classguard.IsUnavailable(err))
		assert.False(t, classguard.IsDenied(err))
	})

	t.Run("commit", func(t *testing.T) {
		g, store, sink := guardWorld(t)
		store.commitErr = errors.New("disk full")
		err := g.Do(context.Background(), student("s-1"), classguard.Mutation{
			Op:     classguard.OpInsert,
			Record: &schema.Progress{ID: "p-2", UserID: "s-1", AssignmentID: "a-1"},
		})
		assert.True(t, classguard.IsUnavailable(err))
		assert.Empty(t, sink.all())
	})
}

func TestGuardRollbackFailureKeepsCause(t *testing.T) {
	ev, _ := testWorld(t)
	store := &failingRollbackStore{}
	g := engine.NewGuard(ev, store)

	err := g.Do(context.Background(), classguard.Anonymous(), classguard.Mutation{
		Op:     classguard.OpInsert,
		Record: &schema.Progress{ID: "p-2", UserID: "s-1", AssignmentID: "a-1"},
	})
	require.Error(t, err)

	var rb *classguard.RollbackError
	require.True(t, errors.As(err, &rb))
	// The original denial stays matchable through the rollback wrapper.
	assert.True(t, classguard.IsDenied(err))
}

type failingRollbackStore struct{}

func (failingRollbackStore) Begin(context.Context) (engine.Tx, error) {
	return failingRollbackTx{}, nil
}

type failingRollbackTx struct{}

func (failingRollbackTx) Current(context.Context, string, string) (classguard.Record, error) {
	return nil, classguard.NewNotFoundError("row", "none")
}

func (failingRollbackTx) Apply(context.Context, classguard.Mutation) error { return nil }

func (failingRollbackTx) Commit(context.Context) (uint64, error) { return 0, nil }

func (failingRollbackTx) Rollback() error { return errors.New("connection lost") }

func TestGuardEmissionOrderMatchesCommitOrder(t *testing.T) {
	g, _, sink := guardWorld(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := g.Do(context.Background(), student("s-1"), classguard.Mutation{
				Op: classguard.OpInsert,
				Record: &schema.Progress{
					ID: schema.NewID(), UserID: "s-1", AssignmentID: "a-1",
				},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	events := sink.all()
	require.Len(t, events, 16)
	// Each commit produces an index apply then a publish with the same
	// sequence number, and sequence numbers never regress.
	var last uint64
	for i := 0; i < len(events); i += 2 {
		assert.Equal(t, events[i].Seq, events[i+1].Seq)
		assert.Greater(t, events[i].Seq, last)
		last = events[i].Seq
	}
}
