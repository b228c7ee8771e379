package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Account owns the calendar integration state for one tutor login.
// GoogleCredentials holds the encrypted OAuth token blob, GoogleChannel the
// JSON push-notification channel descriptor; both are nil when disconnected.
type Account struct {
	ID                int64     `json:"id"`
	Email             string    `json:"email"`
	APIToken          string    `json:"-"`
	GoogleCredentials *string   `json:"-"`
	GoogleChannel     *string   `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
}

// ChannelDescriptor mirrors the watch response from the calendar API.
// Expiration is epoch milliseconds, as Google reports it.
type ChannelDescriptor struct {
	ID         string `json:"id"`
	ResourceID string `json:"resourceId"`
	Expiration int64  `json:"expiration"`
}

func (d *ChannelDescriptor) ExpiresAt() time.Time {
	return time.UnixMilli(d.Expiration)
}

func (d *ChannelDescriptor) Encode() (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ParseChannelDescriptor decodes a stored channel descriptor. Malformed or
// missing JSON is reported as absent rather than as an error: a descriptor
// that cannot be read is indistinguishable from no registration, and the
// account must stay usable either way.
func ParseChannelDescriptor(raw *string) (*ChannelDescriptor, bool) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, false
	}
	var desc ChannelDescriptor
	if err := json.Unmarshal([]byte(*raw), &desc); err != nil {
		return nil, false
	}
	if desc.ID == "" {
		return nil, false
	}
	return &desc, true
}

// Lesson is one ledger row. StudentName is a denormalized display name, not
// a foreign key: lessons keep their historical name even if the student is
// later renamed. EventID links the row to its calendar event when it
// originated from (or was matched to) one. HourlyRate is captured at
// creation time so later rate changes never reprice old lessons.
type Lesson struct {
	ID          int64      `json:"id"`
	StudentName string     `json:"student_name"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	Paid        bool       `json:"paid"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	AlreadyPaid bool       `json:"already_paid"`
	EventID     *string    `json:"event_id,omitempty"`
	HourlyRate  *float64   `json:"hourly_rate,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (l *Lesson) DurationHours() float64 {
	return l.EndTime.Sub(l.StartTime).Hours()
}

// Price computes the lesson price from its own stored rate, falling back to
// the student's current rate when none was captured, then to zero.
func (l *Lesson) Price(studentRate *float64) float64 {
	rate := l.HourlyRate
	if rate == nil {
		rate = studentRate
	}
	if rate == nil {
		return 0
	}
	return *rate * l.DurationHours()
}

// Student holds billing attributes and free-form contact metadata. The pair
// first name + last name is the soft matching key used by the sync logic;
// it is deliberately not a unique constraint.
type Student struct {
	ID            int64     `json:"id"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	ContactName   *string   `json:"contact_name,omitempty"`
	ContactVia    *string   `json:"contact_via,omitempty"`
	ContactInfo   *string   `json:"contact_info,omitempty"`
	PaymentMethod *string   `json:"payment_method,omitempty"`
	HourlyRate    *float64  `json:"hourly_rate,omitempty"`
	Notes         *string   `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s *Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// Topic records a subject covered with a student, optionally tied to the
// lesson it was covered in.
type Topic struct {
	ID          int64     `json:"id"`
	StudentID   int64     `json:"student_id"`
	LessonID    *int64    `json:"lesson_id,omitempty"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
