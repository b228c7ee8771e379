package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

const studentColumns = `id, first_name, last_name, contact_name, contact_via, contact_info, payment_method, hourly_rate, notes, created_at`

func scanStudent(row pgx.Row) (*Student, error) {
	var s Student
	err := row.Scan(&s.ID, &s.FirstName, &s.LastName, &s.ContactName, &s.ContactVia, &s.ContactInfo, &s.PaymentMethod, &s.HourlyRate, &s.Notes, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (q *queries) InsertStudent(ctx context.Context, student *Student) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO students (first_name, last_name, contact_name, contact_via, contact_info, payment_method, hourly_rate, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		student.FirstName, student.LastName, student.ContactName, student.ContactVia,
		student.ContactInfo, student.PaymentMethod, student.HourlyRate, student.Notes,
	).Scan(&student.ID, &student.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert student: %w", err)
	}
	return nil
}

func (q *queries) StudentByID(ctx context.Context, id int64) (*Student, error) {
	row := q.db.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
	student, err := scanStudent(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get student by id: %w", err)
	}
	return student, nil
}

func (q *queries) ListStudents(ctx context.Context) ([]*Student, error) {
	rows, err := q.db.Query(ctx, `SELECT `+studentColumns+` FROM students ORDER BY last_name, first_name`)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var students []*Student
	for rows.Next() {
		student, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, student)
	}
	return students, rows.Err()
}

// StudentByFullName matches on the case-insensitive concatenation of first
// and last name. Duplicates resolve to the oldest record.
func (q *queries) StudentByFullName(ctx context.Context, fullName string) (*Student, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+studentColumns+` FROM students
		WHERE lower(btrim(first_name || ' ' || last_name)) = lower($1)
		ORDER BY id
		LIMIT 1`,
		strings.TrimSpace(fullName))
	student, err := scanStudent(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get student by full name: %w", err)
	}
	return student, nil
}

func (q *queries) UpdateStudent(ctx context.Context, student *Student) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE students
		SET first_name = $1, last_name = $2, contact_name = $3, contact_via = $4,
		    contact_info = $5, payment_method = $6, hourly_rate = $7, notes = $8
		WHERE id = $9`,
		student.FirstName, student.LastName, student.ContactName, student.ContactVia,
		student.ContactInfo, student.PaymentMethod, student.HourlyRate, student.Notes, student.ID)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("student not found")
	}
	return nil
}

func (q *queries) DeleteStudent(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("student not found")
	}
	return nil
}
