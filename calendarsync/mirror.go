package calendarsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

// Mirror pushes locally created lessons out to the calendar so that both
// sides show the same schedule. Mirrored events use the same title prefix
// the parser recognizes, which is what links them back on the next sync.
type Mirror struct {
	logger *zap.SugaredLogger
}

func NewMirror(logger *zap.SugaredLogger) *Mirror {
	return &Mirror{logger: logger}
}

// CreateEvent writes a lesson event to the primary calendar and returns
// the new event id.
func (m *Mirror) CreateEvent(ctx context.Context, service *calendar.Service, studentName string, start, end time.Time) (string, error) {
	event := &calendar.Event{
		Summary:     "Lesson: " + studentName,
		Description: "Lesson for " + studentName,
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}
	created, err := service.Events.Insert(primaryCalendar, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create mirrored event: %w", err)
	}
	m.logger.Infow("mirrored lesson to calendar", "event_id", created.Id, "student", studentName)
	return created.Id, nil
}

// UpdateEvent rewrites the mirrored event after a local edit.
func (m *Mirror) UpdateEvent(ctx context.Context, service *calendar.Service, eventID, studentName string, start, end time.Time) error {
	event := &calendar.Event{
		Summary: "Lesson: " + studentName,
		Start:   &calendar.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:     &calendar.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}
	if _, err := service.Events.Update(primaryCalendar, eventID, event).Context(ctx).Do(); err != nil {
		return fmt.Errorf("update mirrored event %s: %w", eventID, err)
	}
	return nil
}

// DeleteEvent removes the mirrored event. A 404 or 410 from the API means
// the event is already gone, which is fine.
func (m *Mirror) DeleteEvent(ctx context.Context, service *calendar.Service, eventID string) error {
	err := service.Events.Delete(primaryCalendar, eventID).Context(ctx).Do()
	if err != nil {
		if isGoneError(err) {
			return nil
		}
		return fmt.Errorf("delete mirrored event %s: %w", eventID, err)
	}
	return nil
}

func isGoneError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 404 || apiErr.Code == 410
	}
	return false
}
