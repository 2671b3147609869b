package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/classguard/classguard"
	"github.com/classguard/classguard/access"
	"github.com/classguard/classguard/engine"
	"github.com/classguard/classguard/policy"
	"github.com/classguard/classguard/schema"
	"github.com/classguard/classguard/store"
	"github.com/classguard/classguard/stream"
)

type world struct {
	store  *store.Store
	index  *access.Index
	ev     *engine.Evaluator
	guard  *engine.Guard
	broker *stream.Broker
}

// openWorld wires the full stack on a live SQLite database: store,
// access index, policy set, evaluator, guard and broker.
func openWorld(t *testing.T) *world {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "classguard.db") +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	st, err := store.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	ix := access.NewIndex()
	ev := engine.New(policy.NewSet(ix, st))
	broker := stream.NewBroker(stream.NewFilter(ev))
	t.Cleanup(broker.Close)
	guard := engine.NewGuard(ev,
		engine.TxStoreFunc(func(ctx context.Context) (engine.Tx, error) { return st.Begin(ctx) }),
		engine.WithIndex(ix),
		engine.WithPublisher(broker),
	)
	return &world{store: st, index: ix, ev: ev, guard: guard, broker: broker}
}

func (w *world) seedUsers(t *testing.T) {
	t.Helper()
	for _, u := range []*schema.User{
		{ID: "t-1", Email: "t1@school.test", FullName: "Teacher One", Role: classguard.RoleTeacher},
		{ID: "s-1", Email: "s1@school.test", FullName: "Student One", Role: classguard.RoleStudent},
		{ID: "s-2", Email: "s2@school.test", FullName: "Student Two", Role: classguard.RoleStudent},
	} {
		_, err := w.store.DB().Exec(
			"INSERT INTO users (id, email, full_name, role) VALUES (?, ?, ?, ?)",
			u.ID, u.Email, u.FullName, string(u.Role))
		require.NoError(t, err)
	}
}

func student(id string) classguard.Actor {
	return classguard.Actor{ID: id, Role: classguard.RoleStudent}
}

func teacher(id string) classguard.Actor {
	return classguard.Actor{ID: id, Role: classguard.RoleTeacher}
}

func TestEndToEnd(t *testing.T) {
	w := openWorld(t)
	w.seedUsers(t)
	ctx := context.Background()

	// Teacher sets up the classroom, enrollment and a published
	// assignment through the guard; the index learns each change before
	// the next write needs it.
	require.NoError(t, w.guard.Do(ctx, teacher("t-1"), classguard.Mutation{
		Op:     classguard.OpInsert,
		Record: &schema.Classroom{ID: "c-1", Name: "Math", TeacherID: "t-1"},
	}))

	sub, err := w.broker.Subscribe(ctx, student("s-1"))
	require.NoError(t, err)

	require.NoError(t, w.guard.Do(ctx, teacher("t-1"), classguard.Mutation{
		Op:     classguard.OpInsert,
		Record: &schema.Enrollment{UserID: "s-1", ClassroomID: "c-1"},
	}))
	require.NoError(t, w.guard.Do(ctx, teacher("t-1"), classguard.Mutation{
		Op: classguard.OpInsert,
		Record: &schema.Assignment{
			ID: "a-1", ClassroomID: "c-1", Title: "Fractions",
			Status: schema.StatusPublished, MaxPoints: 100,
		},
	}))

	// Student starts working.
	require.NoError(t, w.guard.Do(ctx, student("s-1"), classguard.Mutation{
		Op: classguard.OpInsert,
		Record: &schema.Progress{
			ID: "p-1", UserID: "s-1", AssignmentID: "a-1",
			CompletionPercentage: 10, Status: schema.ProgressInProgress,
		},
	}))

	t.Run("student_cannot_grade_self", func(t *testing.T) {
		grade := "A+"
		err := w.guard.Do(ctx, student("s-1"), classguard.Mutation{
			Op: classguard.OpUpdate,
			Record: &schema.Progress{
				ID: "p-1", UserID: "s-1", AssignmentID: "a-1",
				CompletionPercentage: 100, Grade: &grade,
			},
			Columns: []string{schema.ProgressFieldCompletionPercentage, schema.ProgressFieldGrade},
		})
		require.Error(t, err)
		assert.True(t, classguard.IsDenied(err))

		// The whole write was rejected: completion is untouched.
		rows := w.visibleProgress(t, student("s-1"))
		require.Len(t, rows, 1)
		assert.Equal(t, 10, rows[0].(*schema.Progress).CompletionPercentage)
	})

	t.Run("student_advances_completion", func(t *testing.T) {
		require.NoError(t, w.guard.Do(ctx, student("s-1"), classguard.Mutation{
			Op: classguard.OpUpdate,
			Record: &schema.Progress{
				ID: "p-1", UserID: "s-1", AssignmentID: "a-1",
				CompletionPercentage: 100, Status: schema.ProgressCompleted,
			},
			Columns: []string{schema.ProgressFieldCompletionPercentage, schema.ProgressFieldStatus},
		}))
	})

	t.Run("teacher_grades", func(t *testing.T) {
		grade := "A"
		points := 95
		require.NoError(t, w.guard.Do(ctx, teacher("t-1"), classguard.Mutation{
			Op: classguard.OpUpdate,
			Record: &schema.Progress{
				ID: "p-1", UserID: "s-1", AssignmentID: "a-1",
				Grade: &grade, PointsEarned: &points,
			},
			Columns: []string{schema.ProgressFieldGrade, schema.ProgressFieldPointsEarned},
		}))

		rows := w.visibleProgress(t, teacher("t-1"))
		require.Len(t, rows, 1)
		p := rows[0].(*schema.Progress)
		require.NotNil(t, p.Grade)
		assert.Equal(t, "A", *p.Grade)
		assert.Equal(t, 100, p.CompletionPercentage)
	})

	t.Run("other_student_sees_nothing", func(t *testing.T) {
		assert.Empty(t, w.visibleProgress(t, student("s-2")))
		assert.Empty(t, w.visibleProgress(t, classguard.Anonymous()))
	})

	t.Run("subscriber_saw_own_changes_in_order", func(t *testing.T) {
		// s-1 observes: their enrollment, the published assignment, and
		// every progress change; the classroom insert predates their
		// enrollment so visibility at event time excluded it.
		deliveries := drain(t, sub, 5)
		tables := make([]string, len(deliveries))
		var lastSeq uint64
		for i, d := range deliveries {
			tables[i] = d.Table
			assert.Greater(t, d.Seq, lastSeq)
			lastSeq = d.Seq
		}
		assert.Equal(t, []string{
			schema.TableEnrollments,
			schema.TableAssignments,
			schema.TableProgress,
			schema.TableProgress,
			schema.TableProgress,
		}, tables)

		// The final progress delivery carries the graded row.
		last := deliveries[len(deliveries)-1]
		assert.Equal(t, classguard.OpUpdate, last.Op)
		assert.Equal(t, "A", last.Fields[schema.ProgressFieldGrade])
	})

	t.Run("deliveries_match_direct_reads", func(t *testing.T) {
		// Every progress row the stream delivered to s-1 is a row a
		// fresh filtered read returns, with identical field values.
		visible := w.visibleProgress(t, student("s-1"))
		require.Len(t, visible, 1)
		fields := schema.Fields(visible[0])
		assert.Equal(t, "A", fields[schema.ProgressFieldGrade])

		teacherID, err := w.store.ClassroomTeacher(ctx, "c-1")
		require.NoError(t, err)
		assert.Equal(t, "t-1", teacherID)
	})

	t.Run("outbox_feed_replays_commits", func(t *testing.T) {
		feed := w.store.NewFeed(0, store.WithPollInterval(10*time.Millisecond))
		var seqs []uint64
		for i := 0; i < 6; i++ {
			fctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			ev, err := feed.Next(fctx)
			cancel()
			require.NoError(t, err)
			seqs = append(seqs, ev.Seq)
		}
		for i := 1; i < len(seqs); i++ {
			assert.Greater(t, seqs[i], seqs[i-1])
		}
	})

	t.Run("index_rebuild_matches_incremental_state", func(t *testing.T) {
		fresh := access.NewIndex()
		require.NoError(t, fresh.Rebuild(ctx, w.store))
		assert.Equal(t, w.index.OwnedClassrooms("t-1"), fresh.OwnedClassrooms("t-1"))
		assert.Equal(t, w.index.EnrolledClassrooms("s-1"), fresh.EnrolledClassrooms("s-1"))
	})
}

func TestForeignKeyViolationIsInvalidReference(t *testing.T) {
	w := openWorld(t)
	w.seedUsers(t)
	ctx := context.Background()

	require.NoError(t, w.guard.Do(ctx, teacher("t-1"), classguard.Mutation{
		Op:     classguard.OpInsert,
		Record: &schema.Classroom{ID: "c-1", Name: "Math", TeacherID: "t-1"},
	}))
	// Enrollment of a user the database does not know. The policy only
	// checks classroom ownership, so authorization passes and the
	// foreign key rejects the write.
	err := w.guard.Do(ctx, teacher("t-1"), classguard.Mutation{
		Op:     classguard.OpInsert,
		Record: &schema.Enrollment{UserID: "ghost", ClassroomID: "c-1"},
	})
	require.Error(t, err)
	assert.True(t, classguard.IsInvalidReference(err))
	assert.False(t, classguard.IsDenied(err))

	var n int
	require.NoError(t, w.store.DB().QueryRow("SELECT COUNT(*) FROM classroom_enrollments").Scan(&n))
	assert.Zero(t, n)
}

func TestDuplicateEnrollmentIsConstraintError(t *testing.T) {
	w := openWorld(t)
	w.seedUsers(t)
	ctx := context.Background()

	require.NoError(t, w.guard.Do(ctx, teacher("t-1"), classguard.Mutation{
		Op:     classguard.OpInsert,
		Record: &schema.Classroom{ID: "c-1", Name: "Math", TeacherID: "t-1"},
	}))
	enroll := classguard.Mutation{
		Op:     classguard.OpInsert,
		Record: &schema.Enrollment{UserID: "s-1", ClassroomID: "c-1"},
	}
	require.NoError(t, w.guard.Do(ctx, teacher("t-1"), enroll))

	err := w.guard.Do(ctx, teacher("t-1"), enroll)
	require.Error(t, err)
	assert.True(t, store.IsConstraintError(err))
	assert.False(t, classguard.IsDenied(err))
}

func (w *world) visibleProgress(t *testing.T, actor classguard.Actor) []classguard.Record {
	t.Helper()
	rows, err := w.store.Rows(context.Background(), schema.TableProgress)
	require.NoError(t, err)
	visible, err := w.ev.FilterRows(context.Background(), actor, rows)
	require.NoError(t, err)
	return visible
}

func drain(t *testing.T, sub *stream.Subscription, n int) []stream.Delivery {
	t.Helper()
	out := make([]stream.Delivery, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case d, ok := <-sub.C():
			if !ok {
				t.Fatalf("subscription closed after %d of %d deliveries: %v", len(out), n, sub.Err())
			}
			out = append(out, d)
		case <-timeout:
			t.Fatalf("timed out after %d of %d deliveries", len(out), n)
		}
	}
	return out
}
