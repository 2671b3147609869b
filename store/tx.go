package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/classguard/classguard"
	"github.com/classguard/classguard/schema"
	"github.com/classguard/classguard/stream"
)

// Begin opens a mutation transaction. Rows read through it are locked
// until commit or rollback on dialects that support row locks.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classguard.NewUnavailableError("begin transaction", err)
	}
	return &Tx{s: s, tx: tx}, nil
}

// Tx is one guarded write: reads under lock, staged mutations, and an
// outbox row per mutation written at commit so the change feed observes
// exactly the committed changes in commit order.
type Tx struct {
	s      *Store
	tx     *sql.Tx
	staged []classguard.Mutation
}

// Current returns the committed image of a row, locked for the duration
// of the transaction where the dialect supports it. Enrollment ids are
// the composite user:classroom key.
func (t *Tx) Current(ctx context.Context, table, id string) (classguard.Record, error) {
	if schema.Columns(table) == nil {
		return nil, fmt.Errorf("classguard/store: unknown table %q", table)
	}
	query := "SELECT " + columnList(table) + " FROM " + table + " WHERE " + keyClause(table)
	if t.s.dialect.supportsRowLock() {
		query += " FOR UPDATE"
	}
	args, err := keyArgs(table, id)
	if err != nil {
		return nil, err
	}
	rec, err := scanRecord(table, t.tx.QueryRowContext(ctx, t.s.dialect.rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, classguard.NewNotFoundError(table, id)
	}
	if err != nil {
		return nil, classguard.NewUnavailableError("load "+table, err)
	}
	return rec, nil
}

// Apply stages and executes the mutation inside the transaction. A
// foreign key violation surfaces as an invalid reference, a duplicate key
// as a constraint error; both leave the transaction rollback-only at the
// caller's discretion.
func (t *Tx) Apply(ctx context.Context, m classguard.Mutation) error {
	var err error
	switch {
	case m.Op.Is(classguard.OpInsert):
		err = t.insert(ctx, m)
	case m.Op.Is(classguard.OpUpdate):
		err = t.update(ctx, m)
	case m.Op.Is(classguard.OpDelete):
		err = t.delete(ctx, m)
	default:
		return fmt.Errorf("classguard/store: unsupported mutation op %s", m.Op)
	}
	if err != nil {
		return translateConstraint(m.Table(), err)
	}
	t.staged = append(t.staged, m)
	return nil
}

// Commit writes the outbox rows for the staged mutations and commits.
// The returned sequence number is the outbox id of the last change.
func (t *Tx) Commit(ctx context.Context) (uint64, error) {
	var seq uint64
	for _, m := range t.staged {
		ev := stream.Event{Table: m.Table(), Op: m.Op}
		switch {
		case m.Op.Is(classguard.OpInsert):
			ev.After = m.Record
		case m.Op.Is(classguard.OpDelete):
			ev.Before = m.Old
		default:
			ev.Before, ev.After = m.Old, m.Record
		}
		payload, err := stream.EncodeEvent(ev)
		if err != nil {
			return 0, err
		}
		seq, err = t.insertChange(ctx, payload)
		if err != nil {
			return 0, classguard.NewUnavailableError("write outbox", err)
		}
	}
	if err := t.tx.Commit(); err != nil {
		return 0, classguard.NewUnavailableError("commit transaction", err)
	}
	return seq, nil
}

// Rollback discards the transaction.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return err
	}
	return nil
}

func (t *Tx) insert(ctx context.Context, m classguard.Mutation) error {
	table := m.Table()
	cols := schema.Columns(table)
	args := make([]any, 0, len(cols))
	for _, col := range cols {
		v, _ := m.Record.Field(col)
		args = append(args, v)
	}
	query := "INSERT INTO " + table + " (" + columnList(table) + ") VALUES (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	_, err := t.tx.ExecContext(ctx, t.s.dialect.rebind(query), args...)
	return err
}

func (t *Tx) update(ctx context.Context, m classguard.Mutation) error {
	table := m.Table()
	cols := m.Columns
	if len(cols) == 0 {
		return fmt.Errorf("classguard/store: update without columns on %s", table)
	}
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+2)
	for _, col := range cols {
		v, ok := m.Record.Field(col)
		if !ok {
			return fmt.Errorf("classguard/store: unknown column %q on %s", col, table)
		}
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	keyVals, err := keyArgs(table, m.Record.RecordID())
	if err != nil {
		return err
	}
	args = append(args, keyVals...)
	query := "UPDATE " + table + " SET " + strings.Join(sets, ", ") + " WHERE " + keyClause(table)
	res, err := t.tx.ExecContext(ctx, t.s.dialect.rebind(query), args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return classguard.NewNotFoundError(table, m.Record.RecordID())
	}
	return nil
}

func (t *Tx) delete(ctx context.Context, m classguard.Mutation) error {
	table := m.Table()
	id := m.Old.RecordID()
	args, err := keyArgs(table, id)
	if err != nil {
		return err
	}
	query := "DELETE FROM " + table + " WHERE " + keyClause(table)
	res, err := t.tx.ExecContext(ctx, t.s.dialect.rebind(query), args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return classguard.NewNotFoundError(table, id)
	}
	return nil
}

func (t *Tx) insertChange(ctx context.Context, payload []byte) (uint64, error) {
	if t.s.dialect == Postgres {
		var id uint64
		err := t.tx.QueryRowContext(ctx,
			"INSERT INTO changes (payload) VALUES ($1) RETURNING id", payload).Scan(&id)
		return id, err
	}
	res, err := t.tx.ExecContext(ctx, "INSERT INTO changes (payload) VALUES (?)", payload)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return uint64(id), err
}

// keyClause returns the WHERE clause of a table's primary key.
func keyClause(table string) string {
	if table == schema.TableEnrollments {
		return "user_id = ? AND classroom_id = ?"
	}
	return "id = ?"
}

// keyArgs splits a record id into key values. Enrollments carry a
// composite user:classroom id.
func keyArgs(table, id string) ([]any, error) {
	if table != schema.TableEnrollments {
		return []any{id}, nil
	}
	userID, classroomID, ok := strings.Cut(id, ":")
	if !ok {
		return nil, fmt.Errorf("classguard/store: malformed enrollment id %q", id)
	}
	return []any{userID, classroomID}, nil
}
