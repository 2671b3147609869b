// Package store is the SQL storage collaborator: transactional row access
// for the mutation guard, table scans for access index rebuilds, the
// assignment join lookup, and the outbox feed that carries committed
// changes to the broker. It speaks Postgres, MySQL and SQLite through
// database/sql.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/classguard/classguard"
	"github.com/classguard/classguard/schema"
)

// Dialect selects the SQL flavor for placeholders, row locks and DDL.
type Dialect string

// Supported dialects.
const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// supportsRowLock reports whether SELECT ... FOR UPDATE is available.
// SQLite serializes writers at the connection level instead.
func (d Dialect) supportsRowLock() bool {
	return d == Postgres || d == MySQL
}

// rebind rewrites ? placeholders into the dialect's native form.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DialectFor maps a database/sql driver name to a dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "pgx":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("classguard/store: unsupported driver %q", driver)
}

// Store is a SQL-backed storage collaborator. It implements the
// transactional boundary of the mutation guard, the rebuild source of the
// access index and the assignment join resolver of the policy rules.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open opens a database by driver name and wraps it.
func Open(driver, dsn string) (*Store, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("classguard/store: open %s: %w", driver, err)
	}
	return New(db, dialect), nil
}

// New wraps an existing database handle.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB exposes the underlying handle, mainly for migrations and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ClassroomForAssignment implements the policy resolver: the owning
// classroom of an assignment, or classguard.ErrNotFound for a dangling
// reference.
func (s *Store) ClassroomForAssignment(ctx context.Context, assignmentID string) (string, error) {
	query := s.dialect.rebind("SELECT classroom_id FROM assignments WHERE id = ?")
	var classroomID string
	err := s.db.QueryRowContext(ctx, query, assignmentID).Scan(&classroomID)
	switch {
	case err == sql.ErrNoRows:
		return "", classguard.NewNotFoundError("assignment", assignmentID)
	case err != nil:
		return "", classguard.NewUnavailableError("assignment lookup", err)
	}
	return classroomID, nil
}

// ClassroomTeacher returns the owning teacher of a classroom, or
// classguard.ErrNotFound for an unknown classroom.
func (s *Store) ClassroomTeacher(ctx context.Context, classroomID string) (string, error) {
	query := s.dialect.rebind("SELECT teacher_id FROM classrooms WHERE id = ?")
	var teacherID string
	err := s.db.QueryRowContext(ctx, query, classroomID).Scan(&teacherID)
	switch {
	case err == sql.ErrNoRows:
		return "", classguard.NewNotFoundError("classroom", classroomID)
	case err != nil:
		return "", classguard.NewUnavailableError("classroom lookup", err)
	}
	return teacherID, nil
}

// Classrooms implements the access index rebuild source.
func (s *Store) Classrooms(ctx context.Context) ([]*schema.Classroom, error) {
	query := "SELECT " + columnList(schema.TableClassrooms) + " FROM classrooms"
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("classguard/store: scan classrooms: %w", err)
	}
	defer rows.Close()

	var out []*schema.Classroom
	for rows.Next() {
		c, err := scanClassroom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Enrollments implements the access index rebuild source.
func (s *Store) Enrollments(ctx context.Context) ([]*schema.Enrollment, error) {
	query := "SELECT " + columnList(schema.TableEnrollments) + " FROM classroom_enrollments"
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("classguard/store: scan enrollments: %w", err)
	}
	defer rows.Close()

	var out []*schema.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Rows returns all rows of a table, for query surfaces that filter
// through the evaluator afterwards.
func (s *Store) Rows(ctx context.Context, table string) ([]classguard.Record, error) {
	if schema.Columns(table) == nil {
		return nil, fmt.Errorf("classguard/store: unknown table %q", table)
	}
	query := "SELECT " + columnList(table) + " FROM " + table
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classguard.NewUnavailableError("scan "+table, err)
	}
	defer rows.Close()

	var out []classguard.Record
	for rows.Next() {
		rec, err := scanRecord(table, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func columnList(table string) string {
	return strings.Join(schema.Columns(table), ", ")
}

// scanner is the common surface of *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(table string, sc scanner) (classguard.Record, error) {
	switch table {
	case schema.TableUsers:
		return scanUser(sc)
	case schema.TableClassrooms:
		return scanClassroom(sc)
	case schema.TableEnrollments:
		return scanEnrollment(sc)
	case schema.TableAssignments:
		return scanAssignment(sc)
	case schema.TableProgress:
		return scanProgress(sc)
	}
	return nil, fmt.Errorf("classguard/store: unknown table %q", table)
}

func scanUser(sc scanner) (*schema.User, error) {
	var (
		u    schema.User
		role string
	)
	if err := sc.Scan(&u.ID, &u.Email, &u.FullName, &role); err != nil {
		return nil, fmt.Errorf("classguard/store: scan user: %w", err)
	}
	u.Role = classguard.Role(role)
	return &u, nil
}

func scanClassroom(sc scanner) (*schema.Classroom, error) {
	var c schema.Classroom
	if err := sc.Scan(&c.ID, &c.Name, &c.Description, &c.TeacherID); err != nil {
		return nil, fmt.Errorf("classguard/store: scan classroom: %w", err)
	}
	return &c, nil
}

func scanEnrollment(sc scanner) (*schema.Enrollment, error) {
	var e schema.Enrollment
	if err := sc.Scan(&e.UserID, &e.ClassroomID); err != nil {
		return nil, fmt.Errorf("classguard/store: scan enrollment: %w", err)
	}
	return &e, nil
}

func scanAssignment(sc scanner) (*schema.Assignment, error) {
	var (
		a       schema.Assignment
		status  string
		dueDate sql.NullTime
	)
	if err := sc.Scan(&a.ID, &a.ClassroomID, &a.Title, &a.Description, &status, &a.MaxPoints, &dueDate); err != nil {
		return nil, fmt.Errorf("classguard/store: scan assignment: %w", err)
	}
	a.Status = schema.AssignmentStatus(status)
	if dueDate.Valid {
		t := dueDate.Time
		a.DueDate = &t
	}
	return &a, nil
}

func scanProgress(sc scanner) (*schema.Progress, error) {
	var (
		p        schema.Progress
		status   string
		grade    sql.NullString
		points   sql.NullInt64
		feedback sql.NullString
		gradedAt sql.NullTime
	)
	err := sc.Scan(&p.ID, &p.UserID, &p.AssignmentID, &p.CompletionPercentage,
		&status, &grade, &points, &feedback, &gradedAt)
	if err != nil {
		return nil, fmt.Errorf("classguard/store: scan progress: %w", err)
	}
	p.Status = schema.ProgressStatus(status)
	if grade.Valid {
		v := grade.String
		p.Grade = &v
	}
	if points.Valid {
		v := int(points.Int64)
		p.PointsEarned = &v
	}
	if feedback.Valid {
		v := feedback.String
		p.Feedback = &v
	}
	if gradedAt.Valid {
		t := gradedAt.Time
		p.GradedAt = &t
	}
	return &p, nil
}
