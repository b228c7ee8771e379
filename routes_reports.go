package main

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ripetizioni-cloud/store"
)

const defaultReportMonths = 6

// reportLedger is the store slice the report surface reads from.
type reportLedger interface {
	AccountSource
	LessonsInRange(ctx context.Context, from, to time.Time) ([]*store.Lesson, error)
	StudentByFullName(ctx context.Context, fullName string) (*store.Student, error)
}

// ReportsHandler aggregates taught hours and collected revenue per month.
type ReportsHandler struct {
	ledger reportLedger
	logger *zap.SugaredLogger
}

func NewReportsHandler(ledger reportLedger, logger *zap.SugaredLogger) *ReportsHandler {
	return &ReportsHandler{ledger: ledger, logger: logger}
}

func (h *ReportsHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/reports", RequireAccount(h.ledger, h.logger, h.handleMonthly)).Methods("GET")
}

type monthlyReport struct {
	Labels  []string  `json:"labels"`
	Hours   []float64 `json:"hours"`
	Revenue []float64 `json:"revenue"`
}

// handleMonthly reports the last N months, including empty ones, so chart
// axes stay contiguous.
func (h *ReportsHandler) handleMonthly(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	months := defaultReportMonths
	if raw := r.URL.Query().Get("months"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 36 {
			http.Error(w, "months must be between 1 and 36", http.StatusBadRequest)
			return
		}
		months = parsed
	}

	now := time.Now().UTC()
	labels := make([]string, 0, months)
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)
	for i := 0; i < months; i++ {
		labels = append(labels, first.AddDate(0, i, 0).Format("2006-01"))
	}
	from := first
	to := first.AddDate(0, months, 0).Add(-time.Second)

	lessons, err := h.ledger.LessonsInRange(ctx, from, to)
	if err != nil {
		h.logger.Errorw("failed to load lessons for report", "error", err)
		http.Error(w, "failed to build report", http.StatusInternalServerError)
		return
	}

	hoursByMonth := make(map[string]float64)
	revenueByMonth := make(map[string]float64)
	rateCache := make(map[string]*float64)
	for _, lesson := range lessons {
		key := lesson.StartTime.Format("2006-01")
		hoursByMonth[key] += lesson.DurationHours()
		if lesson.Paid {
			revenueByMonth[key] += lesson.Price(h.studentRate(ctx, lesson, rateCache))
		}
	}

	report := monthlyReport{
		Labels:  labels,
		Hours:   make([]float64, len(labels)),
		Revenue: make([]float64, len(labels)),
	}
	for i, label := range labels {
		report.Hours[i] = round2(hoursByMonth[label])
		report.Revenue[i] = round2(revenueByMonth[label])
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *ReportsHandler) studentRate(ctx context.Context, lesson *store.Lesson, cache map[string]*float64) *float64 {
	if lesson.HourlyRate != nil {
		return nil
	}
	if rate, ok := cache[lesson.StudentName]; ok {
		return rate
	}
	var rate *float64
	student, err := h.ledger.StudentByFullName(ctx, lesson.StudentName)
	if err != nil {
		h.logger.Warnw("rate lookup failed", "student", lesson.StudentName, "error", err)
	} else if student != nil {
		rate = student.HourlyRate
	}
	cache[lesson.StudentName] = rate
	return rate
}

func round2(v float64) float64 {
	rounded := math.Round(v*100) / 100
	if rounded == 0 {
		return 0
	}
	return rounded
}
