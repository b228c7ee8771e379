package store

import (
	"context"
	"fmt"
)

func (q *queries) InsertTopic(ctx context.Context, topic *Topic) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO topics (student_id, lesson_id, title, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		topic.StudentID, topic.LessonID, topic.Title, topic.Description,
	).Scan(&topic.ID, &topic.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert topic: %w", err)
	}
	return nil
}

func (q *queries) TopicsByStudent(ctx context.Context, studentID int64) ([]*Topic, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, student_id, lesson_id, title, description, created_at
		FROM topics
		WHERE student_id = $1
		ORDER BY created_at DESC`,
		studentID)
	if err != nil {
		return nil, fmt.Errorf("list topics by student: %w", err)
	}
	defer rows.Close()

	var topics []*Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.StudentID, &t.LessonID, &t.Title, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, &t)
	}
	return topics, rows.Err()
}

func (q *queries) DeleteTopic(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM topics WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete topic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("topic not found")
	}
	return nil
}
