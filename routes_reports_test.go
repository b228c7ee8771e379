package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ripetizioni-cloud/store"
)

// stubReportLedger serves a fixed lesson set for report aggregation.
type stubReportLedger struct {
	lessons []*store.Lesson
	rates   map[string]*float64
	from    time.Time
	to      time.Time
}

func (s *stubReportLedger) AccountByToken(_ context.Context, _ string) (*store.Account, error) {
	return nil, nil
}

func (s *stubReportLedger) LessonsInRange(_ context.Context, from, to time.Time) ([]*store.Lesson, error) {
	s.from, s.to = from, to
	return s.lessons, nil
}

func (s *stubReportLedger) StudentByFullName(_ context.Context, fullName string) (*store.Student, error) {
	rate, ok := s.rates[fullName]
	if !ok {
		return nil, nil
	}
	return &store.Student{FirstName: fullName, HourlyRate: rate}, nil
}

func reportFor(t *testing.T, ledger *stubReportLedger, target string) (monthlyReport, *httptest.ResponseRecorder) {
	t.Helper()
	handler := NewReportsHandler(ledger, zap.NewNop().Sugar())
	rr := httptest.NewRecorder()
	handler.handleMonthly(rr, httptest.NewRequest("GET", target, nil))
	var report monthlyReport
	if rr.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	}
	return report, rr
}

func TestMonthlyReportLabelsAreContiguous(t *testing.T) {
	report, rr := reportFor(t, &stubReportLedger{}, "/reports?months=3")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, report.Labels, 3)
	require.Len(t, report.Hours, 3)
	require.Len(t, report.Revenue, 3)

	now := time.Now().UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -2, 0)
	for i, label := range report.Labels {
		require.Equal(t, first.AddDate(0, i, 0).Format("2006-01"), label)
	}
	// Months with no lessons still report zeros.
	for i := range report.Labels {
		require.Equal(t, 0.0, report.Hours[i])
		require.Equal(t, 0.0, report.Revenue[i])
	}
}

func TestMonthlyReportCountsHoursAlwaysRevenueWhenPaid(t *testing.T) {
	rate := 20.0
	now := time.Now().UTC()
	thisMonth := time.Date(now.Year(), now.Month(), 10, 15, 0, 0, 0, time.UTC)
	ledger := &stubReportLedger{lessons: []*store.Lesson{
		{
			StudentName: "Mario Rossi",
			StartTime:   thisMonth,
			EndTime:     thisMonth.Add(2 * time.Hour),
			Paid:        true,
			HourlyRate:  &rate,
		},
		{
			StudentName: "Mario Rossi",
			StartTime:   thisMonth.Add(24 * time.Hour),
			EndTime:     thisMonth.Add(25 * time.Hour),
			Paid:        false,
			HourlyRate:  &rate,
		},
	}}

	report, rr := reportFor(t, ledger, "/reports?months=1")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, report.Labels, 1)
	// Both lessons count toward hours, only the paid one toward revenue.
	require.Equal(t, 3.0, report.Hours[0])
	require.Equal(t, 40.0, report.Revenue[0])
}

func TestMonthlyReportFallsBackToStudentRate(t *testing.T) {
	rate := 15.0
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 5, 10, 0, 0, 0, time.UTC)
	ledger := &stubReportLedger{
		lessons: []*store.Lesson{{
			StudentName: "Anna Verdi",
			StartTime:   start,
			EndTime:     start.Add(time.Hour),
			Paid:        true,
		}},
		rates: map[string]*float64{"Anna Verdi": &rate},
	}

	report, rr := reportFor(t, ledger, "/reports?months=1")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 15.0, report.Revenue[0])
}

func TestMonthlyReportValidatesRange(t *testing.T) {
	_, rr := reportFor(t, &stubReportLedger{}, "/reports?months=0")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	_, rr = reportFor(t, &stubReportLedger{}, "/reports?months=37")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	_, rr = reportFor(t, &stubReportLedger{}, "/reports?months=abc")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMonthlyReportDefaultWindow(t *testing.T) {
	ledger := &stubReportLedger{}
	report, rr := reportFor(t, ledger, "/reports")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, report.Labels, defaultReportMonths)
	require.True(t, ledger.to.After(ledger.from))
}
