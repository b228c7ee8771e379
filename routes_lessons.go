package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ripetizioni-cloud/calendarsync"
	"ripetizioni-cloud/fintrack"
	"ripetizioni-cloud/store"
)

// lessonLedger is the store slice the lesson surface uses.
type lessonLedger interface {
	AccountSource
	InsertLesson(ctx context.Context, lesson *store.Lesson) error
	LessonByID(ctx context.Context, id int64) (*store.Lesson, error)
	ListLessons(ctx context.Context) ([]*store.Lesson, error)
	LessonsInRange(ctx context.Context, from, to time.Time) ([]*store.Lesson, error)
	LessonsByIDs(ctx context.Context, ids []int64) ([]*store.Lesson, error)
	UpdateLesson(ctx context.Context, lesson *store.Lesson) error
	SetLessonPaid(ctx context.Context, id int64, paid bool, paidAt *time.Time) error
	SetLessonEventID(ctx context.Context, id int64, eventID *string) error
	DeleteLesson(ctx context.Context, id int64) error
	DeleteLessons(ctx context.Context, ids []int64) (int64, error)
	StudentByFullName(ctx context.Context, fullName string) (*store.Student, error)
}

// financeNotifier dispatches best-effort FinTrack jobs.
type financeNotifier interface {
	EnqueueRecord(payment fintrack.Payment)
	EnqueueDelete(payment fintrack.Payment)
}

// calendarMirror pushes local lesson changes out to the account's calendar.
type calendarMirror interface {
	MirrorCreate(ctx context.Context, account *store.Account, studentName string, start, end time.Time) (string, error)
	MirrorUpdate(ctx context.Context, account *store.Account, eventID, studentName string, start, end time.Time) error
	MirrorDelete(ctx context.Context, account *store.Account, eventID string) error
}

// LessonsHandler is the lessons ledger surface.
type LessonsHandler struct {
	ledger  lessonLedger
	finance financeNotifier
	mirror  calendarMirror
	logger  *zap.SugaredLogger
}

func NewLessonsHandler(ledger lessonLedger, finance financeNotifier, mirror calendarMirror, logger *zap.SugaredLogger) *LessonsHandler {
	return &LessonsHandler{
		ledger:  ledger,
		finance: finance,
		mirror:  mirror,
		logger:  logger,
	}
}

func (h *LessonsHandler) RegisterRoutes(r *mux.Router) {
	auth := func(fn http.HandlerFunc) http.HandlerFunc {
		return RequireAccount(h.ledger, h.logger, fn)
	}
	r.HandleFunc("/lessons", auth(h.handleList)).Methods("GET")
	r.HandleFunc("/lessons", auth(h.handleCreate)).Methods("POST")
	r.HandleFunc("/lessons/mark_paid", auth(h.handleMarkMultiplePaid)).Methods("POST")
	r.HandleFunc("/lessons/delete", auth(h.handleBulkDelete)).Methods("POST")
	r.HandleFunc("/lessons/{id:[0-9]+}", auth(h.handleUpdate)).Methods("PUT")
	r.HandleFunc("/lessons/{id:[0-9]+}", auth(h.handleDelete)).Methods("DELETE")
	r.HandleFunc("/lessons/{id:[0-9]+}/toggle_paid", auth(h.handleTogglePaid)).Methods("POST")
	r.HandleFunc("/lessons/{id:[0-9]+}/add_to_calendar", auth(h.handleAddToCalendar)).Methods("POST")
}

type lessonPayload struct {
	ID          int64      `json:"id"`
	StudentName string     `json:"student_name"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	Paid        bool       `json:"paid"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	AlreadyPaid bool       `json:"already_paid"`
	EventID     *string    `json:"event_id,omitempty"`
	HourlyRate  *float64   `json:"hourly_rate,omitempty"`
	Price       float64    `json:"price"`
}

func (h *LessonsHandler) lessonPayload(ctx context.Context, lesson *store.Lesson) lessonPayload {
	return lessonPayload{
		ID:          lesson.ID,
		StudentName: lesson.StudentName,
		StartTime:   lesson.StartTime,
		EndTime:     lesson.EndTime,
		Paid:        lesson.Paid,
		PaidAt:      lesson.PaidAt,
		AlreadyPaid: lesson.AlreadyPaid,
		EventID:     lesson.EventID,
		HourlyRate:  lesson.HourlyRate,
		Price:       h.lessonPrice(ctx, lesson),
	}
}

// lessonPrice resolves the price basis: the rate captured on the lesson,
// else the student's current rate, else zero.
func (h *LessonsHandler) lessonPrice(ctx context.Context, lesson *store.Lesson) float64 {
	var studentRate *float64
	if lesson.HourlyRate == nil {
		student, err := h.ledger.StudentByFullName(ctx, lesson.StudentName)
		if err != nil {
			h.logger.Warnw("rate lookup failed", "student", lesson.StudentName, "error", err)
		} else if student != nil {
			studentRate = student.HourlyRate
		}
	}
	return lesson.Price(studentRate)
}

func (h *LessonsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		lessons []*store.Lesson
		err     error
	)
	fromRaw, toRaw := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if fromRaw != "" && toRaw != "" {
		from, fromErr := time.Parse(time.RFC3339, fromRaw)
		to, toErr := time.Parse(time.RFC3339, toRaw)
		if fromErr != nil || toErr != nil {
			http.Error(w, "from and to must be RFC3339 timestamps", http.StatusBadRequest)
			return
		}
		lessons, err = h.ledger.LessonsInRange(ctx, from, to)
	} else {
		lessons, err = h.ledger.ListLessons(ctx)
	}
	if err != nil {
		h.logger.Errorw("failed to list lessons", "error", err)
		http.Error(w, "failed to list lessons", http.StatusInternalServerError)
		return
	}

	payloads := make([]lessonPayload, 0, len(lessons))
	for _, lesson := range lessons {
		payloads = append(payloads, h.lessonPayload(ctx, lesson))
	}
	writeJSON(w, http.StatusOK, payloads)
}

type createLessonRequest struct {
	StudentName   string    `json:"student_name"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	DurationHours float64   `json:"duration_hours"`
	AlreadyPaid   bool      `json:"already_paid"`
	AddToCalendar bool      `json:"add_to_calendar"`
}

func (h *LessonsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createLessonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	name := calendarsync.NormalizeName(req.StudentName)
	if name == "" {
		http.Error(w, "student_name is required", http.StatusBadRequest)
		return
	}
	if req.StartTime.IsZero() {
		http.Error(w, "start_time is required", http.StatusBadRequest)
		return
	}
	end, err := resolveEndTime(req.StartTime, req.EndTime, req.DurationHours)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Capture the student's current rate so later rate changes never
	// reprice this lesson.
	var rate *float64
	student, err := h.ledger.StudentByFullName(ctx, name)
	if err != nil {
		h.logger.Warnw("rate capture lookup failed", "student", name, "error", err)
	} else if student != nil {
		rate = student.HourlyRate
	}

	lesson := &store.Lesson{
		StudentName: name,
		StartTime:   req.StartTime,
		EndTime:     end,
		AlreadyPaid: req.AlreadyPaid,
		HourlyRate:  rate,
	}
	if err := h.ledger.InsertLesson(ctx, lesson); err != nil {
		h.logger.Errorw("failed to create lesson", "error", err)
		http.Error(w, "failed to create lesson", http.StatusInternalServerError)
		return
	}

	// Mirroring is best-effort: the lesson exists locally either way and a
	// later sync pass can still link it.
	if req.AddToCalendar {
		h.mirrorLesson(ctx, lesson)
	}

	writeJSON(w, http.StatusCreated, h.lessonPayload(ctx, lesson))
}

func (h *LessonsHandler) mirrorLesson(ctx context.Context, lesson *store.Lesson) {
	account := accountFromContext(ctx)
	eventID, err := h.mirror.MirrorCreate(ctx, account, lesson.StudentName, lesson.StartTime, lesson.EndTime)
	if err != nil {
		h.logger.Warnw("failed to mirror lesson to calendar", "lesson_id", lesson.ID, "error", err)
		return
	}
	if err := h.ledger.SetLessonEventID(ctx, lesson.ID, &eventID); err != nil {
		h.logger.Errorw("failed to store mirrored event id", "lesson_id", lesson.ID, "error", err)
		return
	}
	lesson.EventID = &eventID
}

// resolveEndTime derives the end timestamp from an explicit value or a
// duration. A duration that crosses midnight is clamped to 23:59 the same
// day, matching how lessons are entered in practice.
func resolveEndTime(start, end time.Time, durationHours float64) (time.Time, error) {
	if !end.IsZero() {
		if end.Before(start) {
			return time.Time{}, errors.New("end_time must not precede start_time")
		}
		return end, nil
	}
	if durationHours <= 0 {
		return time.Time{}, errors.New("end_time or a positive duration_hours is required")
	}
	computed := start.Add(time.Duration(durationHours * float64(time.Hour)))
	if computed.YearDay() != start.YearDay() || computed.Year() != start.Year() {
		computed = time.Date(start.Year(), start.Month(), start.Day(), 23, 59, 0, 0, start.Location())
	}
	return computed, nil
}

type updateLessonRequest struct {
	StudentName string    `json:"student_name"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	AlreadyPaid *bool     `json:"already_paid"`
}

func (h *LessonsHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lesson, ok := h.loadLesson(w, r)
	if !ok {
		return
	}

	var req updateLessonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.StudentName != "" {
		lesson.StudentName = calendarsync.NormalizeName(req.StudentName)
	}
	if !req.StartTime.IsZero() {
		lesson.StartTime = req.StartTime
	}
	if !req.EndTime.IsZero() {
		lesson.EndTime = req.EndTime
	}
	if req.AlreadyPaid != nil {
		lesson.AlreadyPaid = *req.AlreadyPaid
	}
	if lesson.EndTime.Before(lesson.StartTime) {
		http.Error(w, "end_time must not precede start_time", http.StatusBadRequest)
		return
	}

	if err := h.ledger.UpdateLesson(ctx, lesson); err != nil {
		h.logger.Errorw("failed to update lesson", "lesson_id", lesson.ID, "error", err)
		http.Error(w, "failed to update lesson", http.StatusInternalServerError)
		return
	}

	if lesson.EventID != nil {
		account := accountFromContext(ctx)
		if err := h.mirror.MirrorUpdate(ctx, account, *lesson.EventID, lesson.StudentName, lesson.StartTime, lesson.EndTime); err != nil {
			h.logger.Warnw("failed to update mirrored event", "lesson_id", lesson.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, h.lessonPayload(ctx, lesson))
}

func (h *LessonsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lesson, ok := h.loadLesson(w, r)
	if !ok {
		return
	}

	h.deleteMirroredEvent(ctx, lesson)

	if err := h.ledger.DeleteLesson(ctx, lesson.ID); err != nil {
		h.logger.Errorw("failed to delete lesson", "lesson_id", lesson.ID, "error", err)
		http.Error(w, "failed to delete lesson", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *LessonsHandler) deleteMirroredEvent(ctx context.Context, lesson *store.Lesson) {
	if lesson.EventID == nil {
		return
	}
	account := accountFromContext(ctx)
	if err := h.mirror.MirrorDelete(ctx, account, *lesson.EventID); err != nil {
		h.logger.Warnw("failed to delete mirrored event", "lesson_id", lesson.ID, "error", err)
	}
}

type bulkLessonRequest struct {
	LessonIDs []int64 `json:"lesson_ids"`
}

func (h *LessonsHandler) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req bulkLessonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.LessonIDs) == 0 {
		http.Error(w, "lesson_ids is required", http.StatusBadRequest)
		return
	}

	lessons, err := h.ledger.LessonsByIDs(ctx, req.LessonIDs)
	if err != nil {
		h.logger.Errorw("failed to load lessons for delete", "error", err)
		http.Error(w, "failed to delete lessons", http.StatusInternalServerError)
		return
	}
	for _, lesson := range lessons {
		h.deleteMirroredEvent(ctx, lesson)
	}

	deleted, err := h.ledger.DeleteLessons(ctx, req.LessonIDs)
	if err != nil {
		h.logger.Errorw("failed to delete lessons", "error", err)
		http.Error(w, "failed to delete lessons", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *LessonsHandler) handleTogglePaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lesson, ok := h.loadLesson(w, r)
	if !ok {
		return
	}

	if lesson.Paid {
		// The delete call must use the same date the record call used,
		// which is the paid_at we are about to clear.
		deleteDate := lesson.StartTime
		if lesson.PaidAt != nil {
			deleteDate = *lesson.PaidAt
		}
		if err := h.ledger.SetLessonPaid(ctx, lesson.ID, false, nil); err != nil {
			h.logger.Errorw("failed to mark lesson unpaid", "lesson_id", lesson.ID, "error", err)
			http.Error(w, "failed to update lesson", http.StatusInternalServerError)
			return
		}
		lesson.Paid = false
		lesson.PaidAt = nil

		if !lesson.AlreadyPaid {
			h.finance.EnqueueDelete(fintrack.Payment{
				Notes: fintrack.PaymentNotes(lesson.StudentName, lesson.StartTime),
				Date:  deleteDate,
			})
		}
	} else {
		paidAt := time.Now().UTC()
		if err := h.ledger.SetLessonPaid(ctx, lesson.ID, true, &paidAt); err != nil {
			h.logger.Errorw("failed to mark lesson paid", "lesson_id", lesson.ID, "error", err)
			http.Error(w, "failed to update lesson", http.StatusInternalServerError)
			return
		}
		lesson.Paid = true
		lesson.PaidAt = &paidAt

		// Externally settled lessons never reach FinTrack.
		if !lesson.AlreadyPaid {
			h.finance.EnqueueRecord(fintrack.Payment{
				Amount: h.lessonPrice(ctx, lesson),
				Notes:  fintrack.PaymentNotes(lesson.StudentName, lesson.StartTime),
				Date:   paidAt,
			})
		}
	}

	writeJSON(w, http.StatusOK, h.lessonPayload(ctx, lesson))
}

func (h *LessonsHandler) handleMarkMultiplePaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req bulkLessonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.LessonIDs) == 0 {
		http.Error(w, "lesson_ids is required", http.StatusBadRequest)
		return
	}

	lessons, err := h.ledger.LessonsByIDs(ctx, req.LessonIDs)
	if err != nil {
		h.logger.Errorw("failed to load lessons", "error", err)
		http.Error(w, "failed to mark lessons paid", http.StatusInternalServerError)
		return
	}

	paidAt := time.Now().UTC()
	byStudent := make(map[string][]*store.Lesson)
	marked := 0
	for _, lesson := range lessons {
		if lesson.Paid {
			continue
		}
		if err := h.ledger.SetLessonPaid(ctx, lesson.ID, true, &paidAt); err != nil {
			h.logger.Errorw("failed to mark lesson paid", "lesson_id", lesson.ID, "error", err)
			continue
		}
		marked++
		byStudent[lesson.StudentName] = append(byStudent[lesson.StudentName], lesson)
	}

	// One grouped FinTrack transaction per student keeps the finance side
	// readable when settling a stack of lessons at once.
	students := make([]string, 0, len(byStudent))
	for name := range byStudent {
		students = append(students, name)
	}
	sort.Strings(students)
	for _, name := range students {
		h.enqueueGroupedPayment(ctx, name, byStudent[name], paidAt)
	}

	writeJSON(w, http.StatusOK, map[string]int{"marked": marked})
}

func (h *LessonsHandler) enqueueGroupedPayment(ctx context.Context, studentName string, lessons []*store.Lesson, paidAt time.Time) {
	billable := lessons[:0:0]
	for _, lesson := range lessons {
		if !lesson.AlreadyPaid {
			billable = append(billable, lesson)
		}
	}
	if len(billable) == 0 {
		return
	}
	sort.Slice(billable, func(i, j int) bool { return billable[i].StartTime.Before(billable[j].StartTime) })

	total := 0.0
	for _, lesson := range billable {
		total += h.lessonPrice(ctx, lesson)
	}
	if total == 0 {
		h.logger.Warnw("skipping fintrack for student with no rate", "student", studentName)
		return
	}

	dateRange := billable[0].StartTime.Format("02/01/2006")
	if len(billable) > 1 {
		dateRange = fmt.Sprintf("%s - %s",
			billable[0].StartTime.Format("02/01"),
			billable[len(billable)-1].StartTime.Format("02/01/2006"))
	}
	h.finance.EnqueueRecord(fintrack.Payment{
		Amount: total,
		Notes:  fmt.Sprintf("%s - %d lesson(s) (%s)", studentName, len(billable), dateRange),
		Date:   paidAt,
	})
}

func (h *LessonsHandler) handleAddToCalendar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lesson, ok := h.loadLesson(w, r)
	if !ok {
		return
	}
	if lesson.EventID != nil {
		http.Error(w, "lesson already has a calendar event", http.StatusConflict)
		return
	}

	account := accountFromContext(ctx)
	eventID, err := h.mirror.MirrorCreate(ctx, account, lesson.StudentName, lesson.StartTime, lesson.EndTime)
	if err != nil {
		h.logger.Errorw("failed to create calendar event", "lesson_id", lesson.ID, "error", err)
		http.Error(w, "failed to create calendar event", http.StatusBadGateway)
		return
	}
	if err := h.ledger.SetLessonEventID(ctx, lesson.ID, &eventID); err != nil {
		h.logger.Errorw("failed to store event id", "lesson_id", lesson.ID, "error", err)
		http.Error(w, "failed to link calendar event", http.StatusInternalServerError)
		return
	}
	lesson.EventID = &eventID

	writeJSON(w, http.StatusOK, h.lessonPayload(ctx, lesson))
}

func (h *LessonsHandler) loadLesson(w http.ResponseWriter, r *http.Request) (*store.Lesson, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid lesson id", http.StatusBadRequest)
		return nil, false
	}
	lesson, err := h.ledger.LessonByID(r.Context(), id)
	if err != nil {
		h.logger.Errorw("failed to load lesson", "lesson_id", id, "error", err)
		http.Error(w, "failed to load lesson", http.StatusInternalServerError)
		return nil, false
	}
	if lesson == nil {
		http.Error(w, "lesson not found", http.StatusNotFound)
		return nil, false
	}
	return lesson, true
}
