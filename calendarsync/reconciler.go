package calendarsync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ripetizioni-cloud/store"
)

// Ledger is the slice of the store the reconciler needs. Both the plain
// store and its transactional form satisfy it; reconciliation always runs
// against the transactional one so a failed pass leaves no partial state.
type Ledger interface {
	LessonByEventID(ctx context.Context, eventID string) (*store.Lesson, error)
	UnlinkedLessonByNameAndStart(ctx context.Context, name string, start time.Time) (*store.Lesson, error)
	UpdateLessonEventFields(ctx context.Context, id int64, name string, start, end time.Time) error
	AttachLessonEvent(ctx context.Context, id int64, eventID string) error
	InsertLesson(ctx context.Context, lesson *store.Lesson) error
	DeleteLesson(ctx context.Context, id int64) error
	LinkedLessonsInWindow(ctx context.Context, from, to time.Time) ([]*store.Lesson, error)
	StudentByFullName(ctx context.Context, fullName string) (*store.Student, error)
	InsertStudent(ctx context.Context, student *store.Student) error
}

// Result summarizes one reconciliation pass.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Linked  int `json:"linked"`
	Deleted int `json:"deleted"`
}

// Reconciler applies a snapshot of calendar events to the ledger.
type Reconciler struct {
	logger *zap.SugaredLogger
}

func NewReconciler(logger *zap.SugaredLogger) *Reconciler {
	return &Reconciler{logger: logger}
}

// Reconcile folds the parsed candidates into the ledger and then removes
// linked lessons whose event disappeared from the window. remoteIDs must
// hold the id of every event in the snapshot, lesson or not: an event that
// was retitled away from the lesson format still exists, and its lesson
// must survive the deletion pass. Candidates must all fall inside
// [from, to]; the deletion pass only trusts the snapshot within that
// window.
func (r *Reconciler) Reconcile(ctx context.Context, ledger Ledger, candidates []*LessonCandidate, remoteIDs map[string]struct{}, from, to time.Time) (*Result, error) {
	result := &Result{}
	seen := make(map[string]struct{}, len(remoteIDs)+len(candidates))
	for id := range remoteIDs {
		seen[id] = struct{}{}
	}

	for _, candidate := range candidates {
		seen[candidate.EventID] = struct{}{}
		if err := r.applyCandidate(ctx, ledger, candidate, result); err != nil {
			return nil, err
		}
	}

	linked, err := ledger.LinkedLessonsInWindow(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load linked lessons: %w", err)
	}
	for _, lesson := range linked {
		if lesson.EventID == nil {
			continue
		}
		if _, ok := seen[*lesson.EventID]; ok {
			continue
		}
		if err := ledger.DeleteLesson(ctx, lesson.ID); err != nil {
			return nil, fmt.Errorf("delete lesson %d for removed event: %w", lesson.ID, err)
		}
		result.Deleted++
	}

	return result, nil
}

func (r *Reconciler) applyCandidate(ctx context.Context, ledger Ledger, candidate *LessonCandidate, result *Result) error {
	existing, err := ledger.LessonByEventID(ctx, candidate.EventID)
	if err != nil {
		return fmt.Errorf("lookup by event id: %w", err)
	}
	if existing != nil {
		if lessonMatchesCandidate(existing, candidate) {
			return nil
		}
		if err := ledger.UpdateLessonEventFields(ctx, existing.ID, candidate.StudentName, candidate.Start, candidate.End); err != nil {
			return err
		}
		result.Updated++
		return nil
	}

	// A lesson created locally before the event landed: adopt the event
	// instead of duplicating the row.
	unlinked, err := ledger.UnlinkedLessonByNameAndStart(ctx, candidate.StudentName, candidate.Start)
	if err != nil {
		return fmt.Errorf("lookup by name and start: %w", err)
	}
	if unlinked != nil {
		if err := ledger.AttachLessonEvent(ctx, unlinked.ID, candidate.EventID); err != nil {
			return err
		}
		if !lessonMatchesCandidate(unlinked, candidate) {
			if err := ledger.UpdateLessonEventFields(ctx, unlinked.ID, candidate.StudentName, candidate.Start, candidate.End); err != nil {
				return err
			}
		}
		result.Linked++
		return nil
	}

	student, err := r.resolveOrCreateStudent(ctx, ledger, candidate.StudentName)
	if err != nil {
		return err
	}

	eventID := candidate.EventID
	lesson := &store.Lesson{
		StudentName: candidate.StudentName,
		StartTime:   candidate.Start,
		EndTime:     candidate.End,
		EventID:     &eventID,
		HourlyRate:  student.HourlyRate,
	}
	if err := ledger.InsertLesson(ctx, lesson); err != nil {
		return err
	}
	result.Created++
	return nil
}

func (r *Reconciler) resolveOrCreateStudent(ctx context.Context, ledger Ledger, fullName string) (*store.Student, error) {
	student, err := ledger.StudentByFullName(ctx, fullName)
	if err != nil {
		return nil, fmt.Errorf("lookup student: %w", err)
	}
	if student != nil {
		return student, nil
	}

	first, last := SplitFullName(fullName)
	student = &store.Student{FirstName: first, LastName: last}
	if err := ledger.InsertStudent(ctx, student); err != nil {
		return nil, fmt.Errorf("create student %q: %w", fullName, err)
	}
	r.logger.Infow("created student from calendar event", "student", fullName)
	return student, nil
}

func lessonMatchesCandidate(lesson *store.Lesson, candidate *LessonCandidate) bool {
	return lesson.StudentName == candidate.StudentName &&
		lesson.StartTime.Equal(candidate.Start) &&
		lesson.EndTime.Equal(candidate.End)
}
