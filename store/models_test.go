package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLessonPriceFallbackChain(t *testing.T) {
	lesson := &Lesson{
		StartTime: time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 1, 15, 15, 30, 0, 0, time.UTC),
	}

	// No rate anywhere.
	require.Equal(t, 0.0, lesson.Price(nil))

	// Student rate used when the lesson captured none.
	studentRate := 20.0
	require.Equal(t, 30.0, lesson.Price(&studentRate))

	// The captured rate wins over the student's current rate.
	captured := 25.0
	lesson.HourlyRate = &captured
	require.Equal(t, 37.5, lesson.Price(&studentRate))
}

func TestLessonDurationHours(t *testing.T) {
	lesson := &Lesson{
		StartTime: time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 1, 15, 16, 0, 0, 0, time.UTC),
	}
	require.Equal(t, 2.0, lesson.DurationHours())
}

func TestChannelDescriptorRoundTrip(t *testing.T) {
	desc := &ChannelDescriptor{ID: "chan-1", ResourceID: "res-1", Expiration: 1700000000000}
	encoded, err := desc.Encode()
	require.NoError(t, err)

	parsed, ok := ParseChannelDescriptor(&encoded)
	require.True(t, ok)
	require.Equal(t, desc, parsed)
	require.Equal(t, time.UnixMilli(1700000000000), parsed.ExpiresAt())
}

func TestParseChannelDescriptorAbsent(t *testing.T) {
	_, ok := ParseChannelDescriptor(nil)
	require.False(t, ok)

	empty := "   "
	_, ok = ParseChannelDescriptor(&empty)
	require.False(t, ok)

	// Malformed JSON reads as absent, not as an error.
	broken := "{not json"
	_, ok = ParseChannelDescriptor(&broken)
	require.False(t, ok)

	noID := `{"resourceId":"res-1","expiration":1}`
	_, ok = ParseChannelDescriptor(&noID)
	require.False(t, ok)
}

func TestStudentFullName(t *testing.T) {
	s := &Student{FirstName: "Mario", LastName: "Rossi"}
	require.Equal(t, "Mario Rossi", s.FullName())

	single := &Student{FirstName: "Mario"}
	require.Equal(t, "Mario", single.FullName())
}
