package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const lessonColumns = `id, student_name, start_time, end_time, paid, paid_at, already_paid, event_id, hourly_rate, created_at`

func scanLesson(row pgx.Row) (*Lesson, error) {
	var l Lesson
	err := row.Scan(&l.ID, &l.StudentName, &l.StartTime, &l.EndTime, &l.Paid, &l.PaidAt, &l.AlreadyPaid, &l.EventID, &l.HourlyRate, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (q *queries) collectLessons(rows pgx.Rows) ([]*Lesson, error) {
	defer rows.Close()
	var lessons []*Lesson
	for rows.Next() {
		lesson, err := scanLesson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		lessons = append(lessons, lesson)
	}
	return lessons, rows.Err()
}

func (q *queries) InsertLesson(ctx context.Context, lesson *Lesson) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO lessons (student_name, start_time, end_time, paid, paid_at, already_paid, event_id, hourly_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		lesson.StudentName, lesson.StartTime, lesson.EndTime, lesson.Paid, lesson.PaidAt,
		lesson.AlreadyPaid, lesson.EventID, lesson.HourlyRate,
	).Scan(&lesson.ID, &lesson.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert lesson: %w", err)
	}
	return nil
}

func (q *queries) LessonByID(ctx context.Context, id int64) (*Lesson, error) {
	row := q.db.QueryRow(ctx, `SELECT `+lessonColumns+` FROM lessons WHERE id = $1`, id)
	lesson, err := scanLesson(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get lesson by id: %w", err)
	}
	return lesson, nil
}

func (q *queries) ListLessons(ctx context.Context) ([]*Lesson, error) {
	rows, err := q.db.Query(ctx, `SELECT `+lessonColumns+` FROM lessons ORDER BY start_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	return q.collectLessons(rows)
}

func (q *queries) LessonsInRange(ctx context.Context, from, to time.Time) ([]*Lesson, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+lessonColumns+` FROM lessons
		WHERE start_time >= $1 AND start_time <= $2
		ORDER BY start_time`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("list lessons in range: %w", err)
	}
	return q.collectLessons(rows)
}

func (q *queries) LessonsByIDs(ctx context.Context, ids []int64) ([]*Lesson, error) {
	rows, err := q.db.Query(ctx, `SELECT `+lessonColumns+` FROM lessons WHERE id = ANY($1) ORDER BY start_time`, ids)
	if err != nil {
		return nil, fmt.Errorf("list lessons by ids: %w", err)
	}
	return q.collectLessons(rows)
}

func (q *queries) LessonsByStudentName(ctx context.Context, name string) ([]*Lesson, error) {
	rows, err := q.db.Query(ctx, `SELECT `+lessonColumns+` FROM lessons WHERE student_name = $1 ORDER BY start_time`, name)
	if err != nil {
		return nil, fmt.Errorf("list lessons by student: %w", err)
	}
	return q.collectLessons(rows)
}

// LessonByEventID looks a lesson up by its calendar event marker.
func (q *queries) LessonByEventID(ctx context.Context, eventID string) (*Lesson, error) {
	row := q.db.QueryRow(ctx, `SELECT `+lessonColumns+` FROM lessons WHERE event_id = $1`, eventID)
	lesson, err := scanLesson(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get lesson by event id: %w", err)
	}
	return lesson, nil
}

// UnlinkedLessonByNameAndStart finds a locally created lesson (no event
// marker yet) matching a candidate by name and exact start timestamp.
func (q *queries) UnlinkedLessonByNameAndStart(ctx context.Context, name string, start time.Time) (*Lesson, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+lessonColumns+` FROM lessons
		WHERE student_name = $1 AND start_time = $2 AND event_id IS NULL
		LIMIT 1`,
		name, start)
	lesson, err := scanLesson(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get lesson by name and start: %w", err)
	}
	return lesson, nil
}

// UpdateLessonEventFields overwrites only the fields mirrored from the
// calendar event. Paid state, captured rate and the externally-settled flag
// are deliberately untouched.
func (q *queries) UpdateLessonEventFields(ctx context.Context, id int64, name string, start, end time.Time) error {
	_, err := q.db.Exec(ctx, `
		UPDATE lessons SET student_name = $1, start_time = $2, end_time = $3 WHERE id = $4`,
		name, start, end, id)
	if err != nil {
		return fmt.Errorf("update lesson event fields: %w", err)
	}
	return nil
}

func (q *queries) AttachLessonEvent(ctx context.Context, id int64, eventID string) error {
	_, err := q.db.Exec(ctx, `UPDATE lessons SET event_id = $1 WHERE id = $2`, eventID, id)
	if err != nil {
		return fmt.Errorf("attach lesson event: %w", err)
	}
	return nil
}

func (q *queries) SetLessonEventID(ctx context.Context, id int64, eventID *string) error {
	_, err := q.db.Exec(ctx, `UPDATE lessons SET event_id = $1 WHERE id = $2`, eventID, id)
	if err != nil {
		return fmt.Errorf("set lesson event id: %w", err)
	}
	return nil
}

func (q *queries) UpdateLesson(ctx context.Context, lesson *Lesson) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE lessons
		SET student_name = $1, start_time = $2, end_time = $3, already_paid = $4
		WHERE id = $5`,
		lesson.StudentName, lesson.StartTime, lesson.EndTime, lesson.AlreadyPaid, lesson.ID)
	if err != nil {
		return fmt.Errorf("update lesson: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lesson not found")
	}
	return nil
}

func (q *queries) SetLessonPaid(ctx context.Context, id int64, paid bool, paidAt *time.Time) error {
	tag, err := q.db.Exec(ctx, `UPDATE lessons SET paid = $1, paid_at = $2 WHERE id = $3`, paid, paidAt, id)
	if err != nil {
		return fmt.Errorf("set lesson paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lesson not found")
	}
	return nil
}

func (q *queries) DeleteLesson(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM lessons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete lesson: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lesson not found")
	}
	return nil
}

func (q *queries) DeleteLessons(ctx context.Context, ids []int64) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM lessons WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete lessons: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LinkedLessonsInWindow returns lessons in the sync window carrying an
// event marker; the deletion pass of reconciliation runs over these only.
func (q *queries) LinkedLessonsInWindow(ctx context.Context, from, to time.Time) ([]*Lesson, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+lessonColumns+` FROM lessons
		WHERE event_id IS NOT NULL AND start_time >= $1 AND start_time <= $2`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("list linked lessons in window: %w", err)
	}
	return q.collectLessons(rows)
}

func (q *queries) DistinctStudentNames(ctx context.Context) ([]string, error) {
	rows, err := q.db.Query(ctx, `SELECT DISTINCT student_name FROM lessons WHERE student_name <> '' ORDER BY student_name`)
	if err != nil {
		return nil, fmt.Errorf("list distinct student names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan student name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
