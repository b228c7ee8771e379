package calendarsync

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ripetizioni-cloud/store"
)

// memoryLedger is an in-memory Ledger for reconciler tests.
type memoryLedger struct {
	lessons  []*store.Lesson
	students []*store.Student
	nextID   int64
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{nextID: 1}
}

func (m *memoryLedger) LessonByEventID(_ context.Context, eventID string) (*store.Lesson, error) {
	for _, l := range m.lessons {
		if l.EventID != nil && *l.EventID == eventID {
			return l, nil
		}
	}
	return nil, nil
}

func (m *memoryLedger) UnlinkedLessonByNameAndStart(_ context.Context, name string, start time.Time) (*store.Lesson, error) {
	for _, l := range m.lessons {
		if l.EventID == nil && l.StudentName == name && l.StartTime.Equal(start) {
			return l, nil
		}
	}
	return nil, nil
}

func (m *memoryLedger) UpdateLessonEventFields(_ context.Context, id int64, name string, start, end time.Time) error {
	for _, l := range m.lessons {
		if l.ID == id {
			l.StudentName = name
			l.StartTime = start
			l.EndTime = end
		}
	}
	return nil
}

func (m *memoryLedger) AttachLessonEvent(_ context.Context, id int64, eventID string) error {
	for _, l := range m.lessons {
		if l.ID == id {
			l.EventID = &eventID
		}
	}
	return nil
}

func (m *memoryLedger) InsertLesson(_ context.Context, lesson *store.Lesson) error {
	lesson.ID = m.nextID
	m.nextID++
	m.lessons = append(m.lessons, lesson)
	return nil
}

func (m *memoryLedger) DeleteLesson(_ context.Context, id int64) error {
	kept := m.lessons[:0]
	for _, l := range m.lessons {
		if l.ID != id {
			kept = append(kept, l)
		}
	}
	m.lessons = kept
	return nil
}

func (m *memoryLedger) LinkedLessonsInWindow(_ context.Context, from, to time.Time) ([]*store.Lesson, error) {
	var linked []*store.Lesson
	for _, l := range m.lessons {
		if l.EventID != nil && !l.StartTime.Before(from) && !l.StartTime.After(to) {
			linked = append(linked, l)
		}
	}
	return linked, nil
}

func (m *memoryLedger) StudentByFullName(_ context.Context, fullName string) (*store.Student, error) {
	for _, s := range m.students {
		if strings.EqualFold(s.FullName(), strings.TrimSpace(fullName)) {
			return s, nil
		}
	}
	return nil, nil
}

func (m *memoryLedger) InsertStudent(_ context.Context, student *store.Student) error {
	student.ID = m.nextID
	m.nextID++
	m.students = append(m.students, student)
	return nil
}

func testWindow() (time.Time, time.Time) {
	now := time.Now().UTC()
	return now.Add(-SyncLookback), now.Add(SyncLookahead)
}

func remoteSet(ids ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func candidateAt(eventID, name string, start time.Time) *LessonCandidate {
	return &LessonCandidate{
		EventID:     eventID,
		StudentName: name,
		Start:       start,
		End:         start.Add(time.Hour),
	}
}

func TestReconcileCreatesLessonAndStudent(t *testing.T) {
	ledger := newMemoryLedger()
	r := NewReconciler(zap.NewNop().Sugar())
	from, to := testWindow()
	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)

	result, err := r.Reconcile(context.Background(), ledger, []*LessonCandidate{candidateAt("evt-1", "Mario Rossi", start)}, remoteSet("evt-1"), from, to)
	require.NoError(t, err)
	require.Equal(t, 1, result.Created)
	require.Len(t, ledger.lessons, 1)
	require.Len(t, ledger.students, 1)
	require.Equal(t, "Mario", ledger.students[0].FirstName)
	require.Equal(t, "Rossi", ledger.students[0].LastName)
	require.Nil(t, ledger.students[0].HourlyRate)
	require.False(t, ledger.lessons[0].Paid)
	require.NotNil(t, ledger.lessons[0].EventID)
	require.Equal(t, "evt-1", *ledger.lessons[0].EventID)
}

func TestReconcileCapturesStudentRate(t *testing.T) {
	ledger := newMemoryLedger()
	rate := 25.0
	ledger.students = append(ledger.students, &store.Student{ID: 99, FirstName: "Mario", LastName: "Rossi", HourlyRate: &rate})
	r := NewReconciler(zap.NewNop().Sugar())
	from, to := testWindow()
	start := time.Now().UTC().Add(24 * time.Hour)

	_, err := r.Reconcile(context.Background(), ledger, []*LessonCandidate{candidateAt("evt-1", "Mario Rossi", start)}, remoteSet("evt-1"), from, to)
	require.NoError(t, err)
	require.Len(t, ledger.students, 1)
	require.NotNil(t, ledger.lessons[0].HourlyRate)
	require.Equal(t, 25.0, *ledger.lessons[0].HourlyRate)

	// Raising the student's rate later must not touch the captured rate.
	newRate := 40.0
	ledger.students[0].HourlyRate = &newRate
	_, err = r.Reconcile(context.Background(), ledger, []*LessonCandidate{candidateAt("evt-1", "Mario Rossi", start)}, remoteSet("evt-1"), from, to)
	require.NoError(t, err)
	require.Equal(t, 25.0, *ledger.lessons[0].HourlyRate)
}

func TestReconcileIsIdempotent(t *testing.T) {
	ledger := newMemoryLedger()
	r := NewReconciler(zap.NewNop().Sugar())
	from, to := testWindow()
	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)
	candidates := []*LessonCandidate{
		candidateAt("evt-1", "Mario Rossi", start),
		candidateAt("evt-2", "Anna Verdi", start.Add(2*time.Hour)),
	}

	first, err := r.Reconcile(context.Background(), ledger, candidates, remoteSet("evt-1", "evt-2"), from, to)
	require.NoError(t, err)
	require.Equal(t, 2, first.Created)

	second, err := r.Reconcile(context.Background(), ledger, candidates, remoteSet("evt-1", "evt-2"), from, to)
	require.NoError(t, err)
	require.Equal(t, &Result{}, second)
	require.Len(t, ledger.lessons, 2)
}

func TestReconcileUpdatesMovedEventWithoutTouchingPaidState(t *testing.T) {
	ledger := newMemoryLedger()
	r := NewReconciler(zap.NewNop().Sugar())
	from, to := testWindow()
	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	paidAt := time.Now().UTC()
	eventID := "evt-1"
	rate := 20.0
	ledger.lessons = append(ledger.lessons, &store.Lesson{
		ID: 1, StudentName: "Mario Rossi", StartTime: start, EndTime: start.Add(time.Hour),
		Paid: true, PaidAt: &paidAt, AlreadyPaid: true, EventID: &eventID, HourlyRate: &rate,
	})
	ledger.nextID = 2

	moved := candidateAt("evt-1", "Mario Rossi", start.Add(time.Hour))
	result, err := r.Reconcile(context.Background(), ledger, []*LessonCandidate{moved}, remoteSet("evt-1"), from, to)
	require.NoError(t, err)
	require.Equal(t, 1, result.Updated)
	require.Len(t, ledger.lessons, 1)

	lesson := ledger.lessons[0]
	require.True(t, lesson.StartTime.Equal(moved.Start))
	require.True(t, lesson.Paid)
	require.True(t, lesson.AlreadyPaid)
	require.NotNil(t, lesson.PaidAt)
	require.Equal(t, 20.0, *lesson.HourlyRate)
}

func TestReconcileLinksLocalLessonInsteadOfDuplicating(t *testing.T) {
	ledger := newMemoryLedger()
	r := NewReconciler(zap.NewNop().Sugar())
	from, to := testWindow()
	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	ledger.lessons = append(ledger.lessons, &store.Lesson{
		ID: 1, StudentName: "Mario Rossi", StartTime: start, EndTime: start.Add(time.Hour),
	})
	ledger.nextID = 2

	result, err := r.Reconcile(context.Background(), ledger, []*LessonCandidate{candidateAt("evt-7", "Mario Rossi", start)}, remoteSet("evt-7"), from, to)
	require.NoError(t, err)
	require.Equal(t, 1, result.Linked)
	require.Equal(t, 0, result.Created)
	require.Len(t, ledger.lessons, 1)
	require.NotNil(t, ledger.lessons[0].EventID)
	require.Equal(t, "evt-7", *ledger.lessons[0].EventID)
}

func TestReconcileDeletesLinkedLessonWhoseEventVanished(t *testing.T) {
	ledger := newMemoryLedger()
	r := NewReconciler(zap.NewNop().Sugar())
	from, to := testWindow()
	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)

	gone := "evt-gone"
	ledger.lessons = append(ledger.lessons,
		&store.Lesson{ID: 1, StudentName: "Mario Rossi", StartTime: start, EndTime: start.Add(time.Hour), EventID: &gone},
		// A pure local lesson is never deleted by reconciliation.
		&store.Lesson{ID: 2, StudentName: "Anna Verdi", StartTime: start, EndTime: start.Add(time.Hour)},
	)
	ledger.nextID = 3

	result, err := r.Reconcile(context.Background(), ledger, nil, nil, from, to)
	require.NoError(t, err)
	require.Equal(t, 1, result.Deleted)
	require.Len(t, ledger.lessons, 1)
	require.Equal(t, "Anna Verdi", ledger.lessons[0].StudentName)
}

func TestReconcileSparesLessonWhoseEventWasRetitled(t *testing.T) {
	ledger := newMemoryLedger()
	r := NewReconciler(zap.NewNop().Sugar())
	from, to := testWindow()
	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)

	eventID := "evt-1"
	paidAt := time.Now().UTC()
	rate := 25.0
	ledger.lessons = append(ledger.lessons, &store.Lesson{
		ID: 1, StudentName: "Mario Rossi", StartTime: start, EndTime: start.Add(time.Hour),
		Paid: true, PaidAt: &paidAt, EventID: &eventID, HourlyRate: &rate,
	})
	ledger.nextID = 2

	// The event still exists but was retitled to something that does not
	// parse as a lesson, so there is no candidate for it. Its lesson must
	// survive with paid state and rate intact.
	result, err := r.Reconcile(context.Background(), ledger, nil, remoteSet("evt-1"), from, to)
	require.NoError(t, err)
	require.Equal(t, 0, result.Deleted)
	require.Len(t, ledger.lessons, 1)
	require.True(t, ledger.lessons[0].Paid)
	require.Equal(t, 25.0, *ledger.lessons[0].HourlyRate)
}
