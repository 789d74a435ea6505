package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"cmelive/internal/auth"
	"cmelive/internal/room"
	"cmelive/pkg/interfaces"
	"cmelive/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// memoryStore is an in-memory UserStore and CourseStore for handler tests.
type memoryStore struct {
	mu      sync.Mutex
	users   map[string]*types.User
	hashes  map[string]string // email -> hash
	byEmail map[string]*types.User
	courses map[string]*types.Course
	healthy bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:   make(map[string]*types.User),
		hashes:  make(map[string]string),
		byEmail: make(map[string]*types.User),
		courses: make(map[string]*types.Course),
		healthy: true,
	}
}

func (s *memoryStore) CreateUser(ctx context.Context, user *types.User, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[user.Email]; taken {
		return interfaces.ErrEmailTaken
	}
	s.users[user.ID] = user
	s.byEmail[user.Email] = user
	s.hashes[user.Email] = passwordHash
	return nil
}

func (s *memoryStore) GetUser(ctx context.Context, userID string) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, interfaces.ErrUserNotFound
	}
	return u, nil
}

func (s *memoryStore) GetCredentials(ctx context.Context, email string) (*types.User, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byEmail[email]
	if !ok {
		return nil, "", interfaces.ErrUserNotFound
	}
	return u, s.hashes[email], nil
}

func (s *memoryStore) CreateCourse(ctx context.Context, course *types.Course) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[course.ID] = course
	return nil
}

func (s *memoryStore) GetCourse(ctx context.Context, courseID string) (*types.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[courseID]
	if !ok {
		return nil, interfaces.ErrCourseNotFound
	}
	return c, nil
}

func (s *memoryStore) ListCourses(ctx context.Context) ([]*types.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Course, 0, len(s.courses))
	for _, c := range s.courses {
		out = append(out, c)
	}
	return out, nil
}

func (s *memoryStore) RegisterUser(ctx context.Context, courseID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[courseID]
	if !ok {
		return interfaces.ErrCourseNotFound
	}
	if c.Status != types.CourseStatusOpen {
		return interfaces.ErrRegistrationClosed
	}
	if c.IsRegistered(userID) {
		return interfaces.ErrAlreadyRegistered
	}
	c.RegisteredUserIDs = append(c.RegisteredUserIDs, userID)
	return nil
}

func (s *memoryStore) SetCourseLiveState(ctx context.Context, courseID string, live bool, at time.Time) error {
	return nil
}

func (s *memoryStore) UpdateCourseStatus(ctx context.Context, courseID, status string) error {
	return nil
}

func (s *memoryStore) TransitionCourseStatuses(ctx context.Context, now time.Time) (int64, int64, int64, error) {
	return 0, 0, 0, nil
}

func (s *memoryStore) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.healthy {
		return context.DeadlineExceeded
	}
	return nil
}

type apiFixture struct {
	server   *Server
	store    *memoryStore
	verifier *auth.Verifier
	registry *room.Registry
}

func newAPIFixture() *apiFixture {
	store := newMemoryStore()
	verifier := auth.NewVerifier(store, []byte("test-secret"), time.Hour)
	registry := room.NewRegistry(0)
	wsHandler := func(w http.ResponseWriter, r *http.Request) {}

	return &apiFixture{
		server:   NewServer(store, store, verifier, registry, store, wsHandler),
		store:    store,
		verifier: verifier,
		registry: registry,
	}
}

func (fx *apiFixture) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(w, req)
	return w
}

func (fx *apiFixture) seedUser(t *testing.T, id, role string) (*types.User, string) {
	t.Helper()
	user := &types.User{ID: id, FullName: "User " + id, Email: id + "@example.com", Role: role}
	hash, err := auth.HashPassword("password1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := fx.store.CreateUser(context.Background(), user, hash); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	token, err := fx.verifier.Issue(user)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return user, token
}

func TestRegisterEndpoint(t *testing.T) {
	fx := newAPIFixture()

	w := fx.request(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"full_name": "Dr. New",
		"email":     "new@example.com",
		"password":  "password1",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Token string      `json:"token"`
		User  *types.User `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" {
		t.Error("expected a token")
	}
	if resp.User.Role != "Learner" {
		t.Errorf("self-registration must create learners, got %q", resp.User.Role)
	}
}

func TestRegisterShortPassword(t *testing.T) {
	fx := newAPIFixture()

	w := fx.request(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"full_name": "X",
		"email":     "x@example.com",
		"password":  "abc",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	fx := newAPIFixture()
	fx.seedUser(t, "user-1", "Learner")

	w := fx.request(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"full_name": "Dup",
		"email":     "user-1@example.com",
		"password":  "password1",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestLoginEndpoint(t *testing.T) {
	fx := newAPIFixture()
	fx.seedUser(t, "user-1", "Learner")

	w := fx.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "user-1@example.com",
		"password": "password1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = fx.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "user-1@example.com",
		"password": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", w.Code)
	}

	w = fx.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "ghost@example.com",
		"password": "password1",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for unknown email, got %d", w.Code)
	}
}

func TestCoursesRequireAuth(t *testing.T) {
	fx := newAPIFixture()

	w := fx.request(t, http.MethodGet, "/api/courses", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}

	w = fx.request(t, http.MethodGet, "/api/courses", "garbage-token", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad token, got %d", w.Code)
	}
}

func TestCreateCourse(t *testing.T) {
	fx := newAPIFixture()
	_, token := fx.seedUser(t, "inst-1", "Instructor")

	now := time.Now()
	w := fx.request(t, http.MethodPost, "/api/courses", token, map[string]interface{}{
		"title":              "Advanced Cardiology",
		"mode":               "online",
		"registration_open":  now.Format(time.RFC3339),
		"registration_close": now.Add(time.Hour).Format(time.RFC3339),
		"course_datetime":    now.Add(2 * time.Hour).Format(time.RFC3339),
		"cme_point":          10,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Course *types.Course `json:"course"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Course.Status != types.CourseStatusPending {
		t.Errorf("new courses start pending, got %q", resp.Course.Status)
	}
	if resp.Course.CreatedBy != "inst-1" {
		t.Errorf("creator should be the caller, got %q", resp.Course.CreatedBy)
	}
}

func TestCreateCourseDeniedToLearner(t *testing.T) {
	fx := newAPIFixture()
	_, token := fx.seedUser(t, "learner-1", "Learner")

	w := fx.request(t, http.MethodPost, "/api/courses", token, map[string]interface{}{
		"title": "Nope",
		"mode":  "online",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestRegisterForCourse(t *testing.T) {
	fx := newAPIFixture()
	_, token := fx.seedUser(t, "learner-1", "Learner")

	fx.store.CreateCourse(context.Background(), &types.Course{
		ID: "course-1", Title: "Open Course", Status: types.CourseStatusOpen,
		RegisteredUserIDs: []string{},
	})

	w := fx.request(t, http.MethodPost, "/api/courses/course-1/register", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = fx.request(t, http.MethodPost, "/api/courses/course-1/register", token, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate registration, got %d", w.Code)
	}

	w = fx.request(t, http.MethodPost, "/api/courses/ghost/register", token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestRoomsEndpointElevatedOnly(t *testing.T) {
	fx := newAPIFixture()
	_, learnerToken := fx.seedUser(t, "learner-1", "Learner")
	_, adminToken := fx.seedUser(t, "admin-1", "Super Admin")

	fx.registry.Join("course-1", "conn-1", types.Participant{UserID: "u1", JoinedAt: time.Now()})

	w := fx.request(t, http.MethodGet, "/api/rooms", learnerToken, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for learner, got %d", w.Code)
	}

	w = fx.request(t, http.MethodGet, "/api/rooms", adminToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", w.Code)
	}

	var resp struct {
		Rooms []types.RoomInfo `json:"rooms"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Rooms) != 1 || resp.Rooms[0].ParticipantCount != 1 {
		t.Errorf("unexpected snapshot: %+v", resp.Rooms)
	}
}

func TestHealthEndpoint(t *testing.T) {
	fx := newAPIFixture()

	w := fx.request(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	fx.store.healthy = false
	w = fx.request(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when the database is down, got %d", w.Code)
	}
}
