// Package access maintains the per-actor reachability sets the policy rules
// test membership against: which classrooms a teacher owns and which
// classrooms a student is enrolled in. The sets are precomputed and updated
// incrementally from committed change events, so join-dependent predicates
// never traverse relationships at evaluation time.
package access

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/classguard/classguard"
	"github.com/classguard/classguard/schema"
	"github.com/classguard/classguard/stream"
)

// Set is an immutable snapshot of classroom ids. Callers receive copies;
// mutating a returned Set never affects the index.
type Set map[string]struct{}

// Contains reports whether id is a member of the set.
func (s Set) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Source provides the table scans a full index rebuild needs. Implemented
// by the storage collaborator.
type Source interface {
	Classrooms(ctx context.Context) ([]*schema.Classroom, error)
	Enrollments(ctx context.Context) ([]*schema.Enrollment, error)
}

// Index answers ownership and enrollment membership in O(1) amortized.
// It is safe for concurrent use; updates are idempotent and safe to apply
// out of order for a given actor (membership is last-writer-wins on the
// set, not ordering-sensitive state).
type Index struct {
	mu       sync.RWMutex
	owned    map[string]Set    // teacher id -> owned classroom ids
	enrolled map[string]Set    // student id -> enrolled classroom ids
	owner    map[string]string // classroom id -> current owner, for re-apply safety
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		owned:    make(map[string]Set),
		enrolled: make(map[string]Set),
		owner:    make(map[string]string),
	}
}

// OwnedClassrooms returns a snapshot of the classrooms owned by the actor.
func (ix *Index) OwnedClassrooms(actorID string) Set {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.owned[actorID].clone()
}

// EnrolledClassrooms returns a snapshot of the classrooms the actor is
// enrolled in.
func (ix *Index) EnrolledClassrooms(actorID string) Set {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.enrolled[actorID].clone()
}

// Apply updates the index from a committed change event. Events for tables
// the index does not track are ignored. Re-applying a delivered event is a
// no-op.
func (ix *Index) Apply(ev stream.Event) {
	switch ev.Table {
	case schema.TableEnrollments:
		ix.applyEnrollment(ev)
	case schema.TableClassrooms:
		ix.applyClassroom(ev)
	}
}

func (ix *Index) applyEnrollment(ev stream.Event) {
	img := ev.Image()
	if img == nil {
		return
	}
	userID, _ := stringField(img, schema.EnrollmentFieldUserID)
	classroomID, _ := stringField(img, schema.EnrollmentFieldClassroomID)
	if userID == "" || classroomID == "" {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	switch {
	case ev.Op.Is(classguard.OpDelete):
		delete(ix.enrolled[userID], classroomID)
	default:
		ix.addEnrolled(userID, classroomID)
	}
}

func (ix *Index) applyClassroom(ev stream.Event) {
	img := ev.Image()
	if img == nil {
		return
	}
	classroomID := img.RecordID()
	teacherID, _ := stringField(img, schema.ClassroomFieldTeacherID)
	if classroomID == "" {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	switch {
	case ev.Op.Is(classguard.OpDelete):
		if owner, ok := ix.owner[classroomID]; ok {
			delete(ix.owned[owner], classroomID)
			delete(ix.owner, classroomID)
		}
	default:
		// Ownership never transfers in this domain, but a re-homed
		// classroom in the event feed must not leave a stale entry.
		if prev, ok := ix.owner[classroomID]; ok && prev != teacherID {
			delete(ix.owned[prev], classroomID)
		}
		if teacherID != "" {
			ix.addOwned(teacherID, classroomID)
		}
	}
}

// Rebuild reloads the index from the source, replacing all current state.
// The two table scans run concurrently.
func (ix *Index) Rebuild(ctx context.Context, src Source) error {
	var (
		classrooms  []*schema.Classroom
		enrollments []*schema.Enrollment
	)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		classrooms, err = src.Classrooms(ctx)
		return err
	})
	eg.Go(func() error {
		var err error
		enrollments, err = src.Enrollments(ctx)
		return err
	})
	if err := eg.Wait(); err != nil {
		return classguard.NewUnavailableError("access index rebuild", err)
	}

	owned := make(map[string]Set)
	owner := make(map[string]string)
	for _, c := range classrooms {
		if owned[c.TeacherID] == nil {
			owned[c.TeacherID] = make(Set)
		}
		owned[c.TeacherID][c.ID] = struct{}{}
		owner[c.ID] = c.TeacherID
	}
	enrolled := make(map[string]Set)
	for _, e := range enrollments {
		if enrolled[e.UserID] == nil {
			enrolled[e.UserID] = make(Set)
		}
		enrolled[e.UserID][e.ClassroomID] = struct{}{}
	}

	ix.mu.Lock()
	ix.owned, ix.enrolled, ix.owner = owned, enrolled, owner
	ix.mu.Unlock()
	return nil
}

func (ix *Index) addOwned(teacherID, classroomID string) {
	if ix.owned[teacherID] == nil {
		ix.owned[teacherID] = make(Set)
	}
	ix.owned[teacherID][classroomID] = struct{}{}
	ix.owner[classroomID] = teacherID
}

func (ix *Index) addEnrolled(userID, classroomID string) {
	if ix.enrolled[userID] == nil {
		ix.enrolled[userID] = make(Set)
	}
	ix.enrolled[userID][classroomID] = struct{}{}
}

func (s Set) clone() Set {
	if len(s) == 0 {
		return Set{}
	}
	out := make(Set, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

func stringField(r classguard.Record, name string) (string, bool) {
	v, ok := r.Field(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
