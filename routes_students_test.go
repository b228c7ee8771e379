package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ripetizioni-cloud/store"
)

// stubDirectory is an in-memory studentDirectory.
type stubDirectory struct {
	students    map[int64]*store.Student
	topics      map[int64]*store.Topic
	lessonNames []string
	nextID      int64
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{
		students: make(map[int64]*store.Student),
		topics:   make(map[int64]*store.Topic),
		nextID:   1,
	}
}

func (s *stubDirectory) AccountByToken(_ context.Context, token string) (*store.Account, error) {
	if token == "valid-token" {
		return &store.Account{ID: 1, APIToken: token}, nil
	}
	return nil, nil
}

func (s *stubDirectory) InsertStudent(_ context.Context, student *store.Student) error {
	student.ID = s.nextID
	s.nextID++
	s.students[student.ID] = student
	return nil
}

func (s *stubDirectory) StudentByID(_ context.Context, id int64) (*store.Student, error) {
	student, ok := s.students[id]
	if !ok {
		return nil, nil
	}
	copied := *student
	return &copied, nil
}

func (s *stubDirectory) ListStudents(_ context.Context) ([]*store.Student, error) {
	var all []*store.Student
	for _, student := range s.students {
		all = append(all, student)
	}
	return all, nil
}

func (s *stubDirectory) UpdateStudent(_ context.Context, student *store.Student) error {
	s.students[student.ID] = student
	return nil
}

func (s *stubDirectory) DeleteStudent(_ context.Context, id int64) error {
	delete(s.students, id)
	return nil
}

func (s *stubDirectory) DistinctStudentNames(_ context.Context) ([]string, error) {
	return s.lessonNames, nil
}

func (s *stubDirectory) LessonsByStudentName(_ context.Context, _ string) ([]*store.Lesson, error) {
	return nil, nil
}

func (s *stubDirectory) InsertTopic(_ context.Context, topic *store.Topic) error {
	topic.ID = s.nextID
	s.nextID++
	topic.CreatedAt = time.Now()
	s.topics[topic.ID] = topic
	return nil
}

func (s *stubDirectory) TopicsByStudent(_ context.Context, studentID int64) ([]*store.Topic, error) {
	var hit []*store.Topic
	for _, topic := range s.topics {
		if topic.StudentID == studentID {
			hit = append(hit, topic)
		}
	}
	return hit, nil
}

func (s *stubDirectory) DeleteTopic(_ context.Context, id int64) error {
	delete(s.topics, id)
	return nil
}

func addStudent(dir *stubDirectory, first, last string, rate *float64) *store.Student {
	student := &store.Student{FirstName: first, LastName: last, HourlyRate: rate}
	student.ID = dir.nextID
	dir.nextID++
	dir.students[student.ID] = student
	return student
}

func studentsRequest(t *testing.T, method, target string, body interface{}, vars map[string]string) *http.Request {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	if body != nil {
		require.NoError(t, json.NewEncoder(buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, buf)
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

func decodeSuggestions(t *testing.T, rr *httptest.ResponseRecorder) []string {
	t.Helper()
	var names []string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &names))
	return names
}

func TestStudentCreateNormalizesNames(t *testing.T) {
	dir := newStubDirectory()
	handler := NewStudentsHandler(dir, zap.NewNop().Sugar())

	rate := 25.0
	req := studentsRequest(t, "POST", "/students", map[string]interface{}{
		"first_name":  "  mario ",
		"last_name":   "ROSSI",
		"hourly_rate": rate,
	}, nil)
	rr := httptest.NewRecorder()
	handler.handleCreate(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	student := dir.students[1]
	require.Equal(t, "Mario", student.FirstName)
	require.Equal(t, "Rossi", student.LastName)
	require.Equal(t, 25.0, *student.HourlyRate)
}

func TestStudentCreateRequiresFirstName(t *testing.T) {
	handler := NewStudentsHandler(newStubDirectory(), zap.NewNop().Sugar())
	req := studentsRequest(t, "POST", "/students", map[string]interface{}{"last_name": "Rossi"}, nil)
	rr := httptest.NewRecorder()
	handler.handleCreate(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStudentUpdateKeepsUnsetFields(t *testing.T) {
	dir := newStubDirectory()
	rate := 25.0
	addStudent(dir, "Mario", "Rossi", &rate)
	handler := NewStudentsHandler(dir, zap.NewNop().Sugar())

	newRate := 30.0
	req := studentsRequest(t, "PUT", "/students/1", map[string]interface{}{
		"hourly_rate": newRate,
	}, map[string]string{"id": "1"})
	rr := httptest.NewRecorder()
	handler.handleUpdate(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	student := dir.students[1]
	require.Equal(t, "Mario", student.FirstName)
	require.Equal(t, "Rossi", student.LastName)
	require.Equal(t, 30.0, *student.HourlyRate)
}

func TestSuggestSubstringMatch(t *testing.T) {
	dir := newStubDirectory()
	addStudent(dir, "Mario", "Rossi", nil)
	addStudent(dir, "Anna", "Verdi", nil)
	dir.lessonNames = []string{"Mario Bianchi"}
	handler := NewStudentsHandler(dir, zap.NewNop().Sugar())

	rr := httptest.NewRecorder()
	handler.handleSuggest(rr, studentsRequest(t, "GET", "/students/suggest?q=mario", nil, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, []string{"Mario Bianchi", "Mario Rossi"}, decodeSuggestions(t, rr))
}

func TestSuggestFuzzyFallbackForTypos(t *testing.T) {
	dir := newStubDirectory()
	addStudent(dir, "Mario", "Rossi", nil)
	addStudent(dir, "Anna", "Verdi", nil)
	handler := NewStudentsHandler(dir, zap.NewNop().Sugar())

	rr := httptest.NewRecorder()
	handler.handleSuggest(rr, studentsRequest(t, "GET", "/students/suggest?q=mario+rosi", nil, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, []string{"Mario Rossi"}, decodeSuggestions(t, rr))
}

func TestSuggestEmptyQuery(t *testing.T) {
	dir := newStubDirectory()
	addStudent(dir, "Mario", "Rossi", nil)
	handler := NewStudentsHandler(dir, zap.NewNop().Sugar())

	rr := httptest.NewRecorder()
	handler.handleSuggest(rr, studentsRequest(t, "GET", "/students/suggest", nil, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, decodeSuggestions(t, rr))
}

func TestSuggestCapsResults(t *testing.T) {
	dir := newStubDirectory()
	dir.lessonNames = []string{
		"Mario Albini", "Mario Bruni", "Mario Conti",
		"Mario Deluca", "Mario Esposito", "Mario Ferrari",
	}
	handler := NewStudentsHandler(dir, zap.NewNop().Sugar())

	rr := httptest.NewRecorder()
	handler.handleSuggest(rr, studentsRequest(t, "GET", "/students/suggest?q=mario", nil, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, decodeSuggestions(t, rr), maxSuggestions)
}

func TestAddAndDeleteTopic(t *testing.T) {
	dir := newStubDirectory()
	addStudent(dir, "Mario", "Rossi", nil)
	handler := NewStudentsHandler(dir, zap.NewNop().Sugar())

	req := studentsRequest(t, "POST", "/students/1/topics", map[string]interface{}{
		"title": "Quadratic equations",
	}, map[string]string{"id": "1"})
	rr := httptest.NewRecorder()
	handler.handleAddTopic(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	topics, err := dir.TopicsByStudent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	require.Equal(t, "Quadratic equations", topics[0].Title)

	del := studentsRequest(t, "DELETE", "/topics/2", nil, map[string]string{"id": "2"})
	rr = httptest.NewRecorder()
	handler.handleDeleteTopic(rr, del)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, dir.topics)
}

func TestAddTopicRequiresTitle(t *testing.T) {
	dir := newStubDirectory()
	addStudent(dir, "Mario", "Rossi", nil)
	handler := NewStudentsHandler(dir, zap.NewNop().Sugar())

	req := studentsRequest(t, "POST", "/students/1/topics", map[string]interface{}{
		"title": "   ",
	}, map[string]string{"id": "1"})
	rr := httptest.NewRecorder()
	handler.handleAddTopic(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStudentNotFound(t *testing.T) {
	handler := NewStudentsHandler(newStubDirectory(), zap.NewNop().Sugar())
	req := studentsRequest(t, "GET", "/students/9", nil, map[string]string{"id": "9"})
	rr := httptest.NewRecorder()
	handler.handleGet(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
}
