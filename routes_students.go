package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/xrash/smetrics"
	"go.uber.org/zap"

	"ripetizioni-cloud/calendarsync"
	"ripetizioni-cloud/store"
)

const (
	maxSuggestions       = 5
	suggestionSimilarity = 0.80
)

// studentDirectory is the store slice the student surface uses.
type studentDirectory interface {
	AccountSource
	InsertStudent(ctx context.Context, student *store.Student) error
	StudentByID(ctx context.Context, id int64) (*store.Student, error)
	ListStudents(ctx context.Context) ([]*store.Student, error)
	UpdateStudent(ctx context.Context, student *store.Student) error
	DeleteStudent(ctx context.Context, id int64) error
	DistinctStudentNames(ctx context.Context) ([]string, error)
	LessonsByStudentName(ctx context.Context, name string) ([]*store.Lesson, error)
	InsertTopic(ctx context.Context, topic *store.Topic) error
	TopicsByStudent(ctx context.Context, studentID int64) ([]*store.Topic, error)
	DeleteTopic(ctx context.Context, id int64) error
}

// StudentsHandler covers student records, topics and name suggestions.
type StudentsHandler struct {
	directory studentDirectory
	logger    *zap.SugaredLogger
}

func NewStudentsHandler(directory studentDirectory, logger *zap.SugaredLogger) *StudentsHandler {
	return &StudentsHandler{directory: directory, logger: logger}
}

func (h *StudentsHandler) RegisterRoutes(r *mux.Router) {
	auth := func(fn http.HandlerFunc) http.HandlerFunc {
		return RequireAccount(h.directory, h.logger, fn)
	}
	r.HandleFunc("/students", auth(h.handleList)).Methods("GET")
	r.HandleFunc("/students", auth(h.handleCreate)).Methods("POST")
	r.HandleFunc("/students/suggest", auth(h.handleSuggest)).Methods("GET")
	r.HandleFunc("/students/{id:[0-9]+}", auth(h.handleGet)).Methods("GET")
	r.HandleFunc("/students/{id:[0-9]+}", auth(h.handleUpdate)).Methods("PUT")
	r.HandleFunc("/students/{id:[0-9]+}", auth(h.handleDelete)).Methods("DELETE")
	r.HandleFunc("/students/{id:[0-9]+}/topics", auth(h.handleListTopics)).Methods("GET")
	r.HandleFunc("/students/{id:[0-9]+}/topics", auth(h.handleAddTopic)).Methods("POST")
	r.HandleFunc("/topics/{id:[0-9]+}", auth(h.handleDeleteTopic)).Methods("DELETE")
}

type studentRequest struct {
	FirstName     string   `json:"first_name"`
	LastName      string   `json:"last_name"`
	ContactName   *string  `json:"contact_name"`
	ContactVia    *string  `json:"contact_via"`
	ContactInfo   *string  `json:"contact_info"`
	PaymentMethod *string  `json:"payment_method"`
	HourlyRate    *float64 `json:"hourly_rate"`
	Notes         *string  `json:"notes"`
}

type studentPayload struct {
	ID            int64    `json:"id"`
	FirstName     string   `json:"first_name"`
	LastName      string   `json:"last_name"`
	FullName      string   `json:"full_name"`
	ContactName   *string  `json:"contact_name,omitempty"`
	ContactVia    *string  `json:"contact_via,omitempty"`
	ContactInfo   *string  `json:"contact_info,omitempty"`
	PaymentMethod *string  `json:"payment_method,omitempty"`
	HourlyRate    *float64 `json:"hourly_rate,omitempty"`
	Notes         *string  `json:"notes,omitempty"`
}

func toStudentPayload(s *store.Student) studentPayload {
	return studentPayload{
		ID:            s.ID,
		FirstName:     s.FirstName,
		LastName:      s.LastName,
		FullName:      s.FullName(),
		ContactName:   s.ContactName,
		ContactVia:    s.ContactVia,
		ContactInfo:   s.ContactInfo,
		PaymentMethod: s.PaymentMethod,
		HourlyRate:    s.HourlyRate,
		Notes:         s.Notes,
	}
}

func (h *StudentsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	students, err := h.directory.ListStudents(r.Context())
	if err != nil {
		h.logger.Errorw("failed to list students", "error", err)
		http.Error(w, "failed to list students", http.StatusInternalServerError)
		return
	}
	payloads := make([]studentPayload, 0, len(students))
	for _, s := range students {
		payloads = append(payloads, toStudentPayload(s))
	}
	writeJSON(w, http.StatusOK, payloads)
}

func (h *StudentsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req studentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	first := calendarsync.NormalizeName(req.FirstName)
	last := calendarsync.NormalizeName(req.LastName)
	if first == "" {
		http.Error(w, "first_name is required", http.StatusBadRequest)
		return
	}

	student := &store.Student{
		FirstName:     first,
		LastName:      last,
		ContactName:   req.ContactName,
		ContactVia:    req.ContactVia,
		ContactInfo:   req.ContactInfo,
		PaymentMethod: req.PaymentMethod,
		HourlyRate:    req.HourlyRate,
		Notes:         req.Notes,
	}
	if err := h.directory.InsertStudent(r.Context(), student); err != nil {
		h.logger.Errorw("failed to create student", "error", err)
		http.Error(w, "failed to create student", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, toStudentPayload(student))
}

func (h *StudentsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	student, ok := h.loadStudent(w, r)
	if !ok {
		return
	}

	lessons, err := h.directory.LessonsByStudentName(ctx, student.FullName())
	if err != nil {
		h.logger.Warnw("failed to load student lessons", "student_id", student.ID, "error", err)
	}
	topics, err := h.directory.TopicsByStudent(ctx, student.ID)
	if err != nil {
		h.logger.Warnw("failed to load student topics", "student_id", student.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"student": toStudentPayload(student),
		"lessons": lessons,
		"topics":  topics,
	})
}

func (h *StudentsHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	student, ok := h.loadStudent(w, r)
	if !ok {
		return
	}

	var req studentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.FirstName != "" {
		student.FirstName = calendarsync.NormalizeName(req.FirstName)
	}
	if req.LastName != "" {
		student.LastName = calendarsync.NormalizeName(req.LastName)
	}
	if req.ContactName != nil {
		student.ContactName = req.ContactName
	}
	if req.ContactVia != nil {
		student.ContactVia = req.ContactVia
	}
	if req.ContactInfo != nil {
		student.ContactInfo = req.ContactInfo
	}
	if req.PaymentMethod != nil {
		student.PaymentMethod = req.PaymentMethod
	}
	if req.HourlyRate != nil {
		student.HourlyRate = req.HourlyRate
	}
	if req.Notes != nil {
		student.Notes = req.Notes
	}

	if err := h.directory.UpdateStudent(r.Context(), student); err != nil {
		h.logger.Errorw("failed to update student", "student_id", student.ID, "error", err)
		http.Error(w, "failed to update student", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toStudentPayload(student))
}

func (h *StudentsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	student, ok := h.loadStudent(w, r)
	if !ok {
		return
	}
	if err := h.directory.DeleteStudent(r.Context(), student.ID); err != nil {
		h.logger.Errorw("failed to delete student", "student_id", student.ID, "error", err)
		http.Error(w, "failed to delete student", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleSuggest offers name completions for lesson entry: substring matches
// first, then a fuzzy pass for typos.
func (h *StudentsHandler) handleSuggest(w http.ResponseWriter, r *http.Request) {
	query := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if query == "" {
		writeJSON(w, http.StatusOK, []string{})
		return
	}

	names, err := h.candidateNames(r.Context())
	if err != nil {
		h.logger.Errorw("failed to load suggestion candidates", "error", err)
		http.Error(w, "failed to load suggestions", http.StatusInternalServerError)
		return
	}

	var matches []string
	for _, name := range names {
		if strings.Contains(strings.ToLower(name), query) {
			matches = append(matches, name)
		}
	}
	if len(matches) == 0 {
		type scored struct {
			name  string
			score float64
		}
		var ranked []scored
		for _, name := range names {
			score := smetrics.JaroWinkler(query, strings.ToLower(name), 0.7, 4)
			if score >= suggestionSimilarity {
				ranked = append(ranked, scored{name, score})
			}
		}
		sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
		for _, item := range ranked {
			matches = append(matches, item.name)
		}
	}
	if len(matches) > maxSuggestions {
		matches = matches[:maxSuggestions]
	}
	if matches == nil {
		matches = []string{}
	}
	writeJSON(w, http.StatusOK, matches)
}

// candidateNames merges registered students with names that only appear on
// lessons, deduplicated.
func (h *StudentsHandler) candidateNames(ctx context.Context) ([]string, error) {
	students, err := h.directory.ListStudents(ctx)
	if err != nil {
		return nil, err
	}
	lessonNames, err := h.directory.DistinctStudentNames(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var names []string
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	for _, s := range students {
		add(s.FullName())
	}
	for _, name := range lessonNames {
		add(name)
	}
	sort.Strings(names)
	return names, nil
}

type topicRequest struct {
	LessonID    *int64  `json:"lesson_id"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
}

func (h *StudentsHandler) handleListTopics(w http.ResponseWriter, r *http.Request) {
	student, ok := h.loadStudent(w, r)
	if !ok {
		return
	}
	topics, err := h.directory.TopicsByStudent(r.Context(), student.ID)
	if err != nil {
		h.logger.Errorw("failed to list topics", "student_id", student.ID, "error", err)
		http.Error(w, "failed to list topics", http.StatusInternalServerError)
		return
	}
	if topics == nil {
		topics = []*store.Topic{}
	}
	writeJSON(w, http.StatusOK, topics)
}

func (h *StudentsHandler) handleAddTopic(w http.ResponseWriter, r *http.Request) {
	student, ok := h.loadStudent(w, r)
	if !ok {
		return
	}

	var req topicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}

	topic := &store.Topic{
		StudentID:   student.ID,
		LessonID:    req.LessonID,
		Title:       req.Title,
		Description: req.Description,
	}
	if err := h.directory.InsertTopic(r.Context(), topic); err != nil {
		h.logger.Errorw("failed to add topic", "student_id", student.ID, "error", err)
		http.Error(w, "failed to add topic", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, topic)
}

func (h *StudentsHandler) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid topic id", http.StatusBadRequest)
		return
	}
	if err := h.directory.DeleteTopic(r.Context(), id); err != nil {
		http.Error(w, "topic not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *StudentsHandler) loadStudent(w http.ResponseWriter, r *http.Request) (*store.Student, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid student id", http.StatusBadRequest)
		return nil, false
	}
	student, err := h.directory.StudentByID(r.Context(), id)
	if err != nil {
		h.logger.Errorw("failed to load student", "student_id", id, "error", err)
		http.Error(w, "failed to load student", http.StatusInternalServerError)
		return nil, false
	}
	if student == nil {
		http.Error(w, "student not found", http.StatusNotFound)
		return nil, false
	}
	return student, true
}
