package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qms/campus-queue/internal/identity"
	"qms/campus-queue/internal/models"
	"qms/campus-queue/internal/queue"
	"qms/campus-queue/internal/store"
)

const (
	deptID   = "11111111-1111-1111-1111-111111111111"
	ticketID = "22222222-2222-2222-2222-222222222222"
	reqID    = "33333333-3333-3333-3333-333333333333"
	userID   = "44444444-4444-4444-4444-444444444444"
)

type fakeStore struct {
	listDepartmentsFn  func(ctx context.Context, q store.Query) ([]models.Department, error)
	getDepartmentFn    func(ctx context.Context, id string) (models.Department, error)
	createDepartmentFn func(ctx context.Context, input store.DepartmentInput) (models.Department, error)
	updateDepartmentFn func(ctx context.Context, id string, patch store.DepartmentPatch) (models.Department, error)
	deleteDepartmentFn func(ctx context.Context, id string) error

	listTicketsFn  func(ctx context.Context, q store.Query) ([]models.QueueTicket, error)
	getTicketFn    func(ctx context.Context, id string) (models.QueueTicket, error)
	createTicketFn func(ctx context.Context, input store.CreateTicketInput) (models.QueueTicket, error)
	updateTicketFn func(ctx context.Context, id string, patch store.TicketPatch) (models.QueueTicket, error)
	transitionFn   func(ctx context.Context, input store.TransitionInput) (models.QueueTicket, error)
	activeTicketFn func(ctx context.Context, studentID string) (models.QueueTicket, bool, error)
	eventsFn       func(ctx context.Context, ticketID string) ([]store.TicketEvent, error)

	listRequestsFn  func(ctx context.Context, q store.Query) ([]models.StaffRequest, error)
	getRequestFn    func(ctx context.Context, id string) (models.StaffRequest, error)
	createRequestFn func(ctx context.Context, input store.StaffRequestInput) (models.StaffRequest, error)
	updateRequestFn func(ctx context.Context, id string, patch store.StaffRequestPatch) (models.StaffRequest, error)
	decideRequestFn func(ctx context.Context, id, status, decidedBy string) (models.StaffRequest, error)

	listUsersFn  func(ctx context.Context, q store.Query) ([]models.User, error)
	getUserFn    func(ctx context.Context, id string) (models.User, error)
	updateUserFn func(ctx context.Context, id string, patch store.UserPatch) (models.User, error)
}

func (f fakeStore) ListDepartments(ctx context.Context, q store.Query) ([]models.Department, error) {
	if f.listDepartmentsFn == nil {
		return nil, nil
	}
	return f.listDepartmentsFn(ctx, q)
}

func (f fakeStore) GetDepartment(ctx context.Context, id string) (models.Department, error) {
	if f.getDepartmentFn == nil {
		return models.Department{}, store.ErrDepartmentNotFound
	}
	return f.getDepartmentFn(ctx, id)
}

func (f fakeStore) CreateDepartment(ctx context.Context, input store.DepartmentInput) (models.Department, error) {
	if f.createDepartmentFn == nil {
		return models.Department{}, nil
	}
	return f.createDepartmentFn(ctx, input)
}

func (f fakeStore) UpdateDepartment(ctx context.Context, id string, patch store.DepartmentPatch) (models.Department, error) {
	if f.updateDepartmentFn == nil {
		return models.Department{}, nil
	}
	return f.updateDepartmentFn(ctx, id, patch)
}

func (f fakeStore) DeleteDepartment(ctx context.Context, id string) error {
	if f.deleteDepartmentFn == nil {
		return nil
	}
	return f.deleteDepartmentFn(ctx, id)
}

func (f fakeStore) ListTickets(ctx context.Context, q store.Query) ([]models.QueueTicket, error) {
	if f.listTicketsFn == nil {
		return nil, nil
	}
	return f.listTicketsFn(ctx, q)
}

func (f fakeStore) GetTicket(ctx context.Context, id string) (models.QueueTicket, error) {
	if f.getTicketFn == nil {
		return models.QueueTicket{}, store.ErrTicketNotFound
	}
	return f.getTicketFn(ctx, id)
}

func (f fakeStore) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.QueueTicket, error) {
	if f.createTicketFn == nil {
		return models.QueueTicket{}, nil
	}
	return f.createTicketFn(ctx, input)
}

func (f fakeStore) UpdateTicket(ctx context.Context, id string, patch store.TicketPatch) (models.QueueTicket, error) {
	if f.updateTicketFn == nil {
		return models.QueueTicket{}, nil
	}
	return f.updateTicketFn(ctx, id, patch)
}

func (f fakeStore) TransitionTicket(ctx context.Context, input store.TransitionInput) (models.QueueTicket, error) {
	if f.transitionFn == nil {
		return models.QueueTicket{}, nil
	}
	return f.transitionFn(ctx, input)
}

func (f fakeStore) ActiveTicketForStudent(ctx context.Context, studentID string) (models.QueueTicket, bool, error) {
	if f.activeTicketFn == nil {
		return models.QueueTicket{}, false, nil
	}
	return f.activeTicketFn(ctx, studentID)
}

func (f fakeStore) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	if f.eventsFn == nil {
		return nil, nil
	}
	return f.eventsFn(ctx, ticketID)
}

func (f fakeStore) ListStaffRequests(ctx context.Context, q store.Query) ([]models.StaffRequest, error) {
	if f.listRequestsFn == nil {
		return nil, nil
	}
	return f.listRequestsFn(ctx, q)
}

func (f fakeStore) GetStaffRequest(ctx context.Context, id string) (models.StaffRequest, error) {
	if f.getRequestFn == nil {
		return models.StaffRequest{}, store.ErrStaffRequestNotFound
	}
	return f.getRequestFn(ctx, id)
}

func (f fakeStore) CreateStaffRequest(ctx context.Context, input store.StaffRequestInput) (models.StaffRequest, error) {
	if f.createRequestFn == nil {
		return models.StaffRequest{}, nil
	}
	return f.createRequestFn(ctx, input)
}

func (f fakeStore) UpdateStaffRequest(ctx context.Context, id string, patch store.StaffRequestPatch) (models.StaffRequest, error) {
	if f.updateRequestFn == nil {
		return models.StaffRequest{}, nil
	}
	return f.updateRequestFn(ctx, id, patch)
}

func (f fakeStore) DecideStaffRequest(ctx context.Context, id, status, decidedBy string) (models.StaffRequest, error) {
	if f.decideRequestFn == nil {
		return models.StaffRequest{}, nil
	}
	return f.decideRequestFn(ctx, id, status, decidedBy)
}

func (f fakeStore) FindApprovedStaffRequest(ctx context.Context, email string) (models.StaffRequest, bool, error) {
	return models.StaffRequest{}, false, nil
}

func (f fakeStore) ListUsers(ctx context.Context, q store.Query) ([]models.User, error) {
	if f.listUsersFn == nil {
		return nil, nil
	}
	return f.listUsersFn(ctx, q)
}

func (f fakeStore) GetUser(ctx context.Context, id string) (models.User, error) {
	if f.getUserFn == nil {
		return models.User{}, store.ErrUserNotFound
	}
	return f.getUserFn(ctx, id)
}

func (f fakeStore) CreateUser(ctx context.Context, input store.CreateUserInput) (models.User, error) {
	return models.User{}, nil
}

func (f fakeStore) UpdateUser(ctx context.Context, id string, patch store.UserPatch) (models.User, error) {
	if f.updateUserFn == nil {
		return models.User{}, nil
	}
	return f.updateUserFn(ctx, id, patch)
}

func (f fakeStore) GetCredentials(ctx context.Context, email string) (models.User, string, error) {
	return models.User{}, "", store.ErrInvalidCredentials
}

func (f fakeStore) CreateSession(ctx context.Context, userID string, expiresAt time.Time) (models.Session, error) {
	return models.Session{}, nil
}

func (f fakeStore) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	return models.Session{}, store.ErrSessionNotFound
}

func (f fakeStore) DeleteSession(ctx context.Context, sessionID string) error {
	return nil
}

func (f fakeStore) ListOutboxEvents(ctx context.Context, after store.OutboxOffset, limit int) ([]store.OutboxEvent, error) {
	return nil, nil
}

func (f fakeStore) GetOffset(ctx context.Context, consumer string) (store.OutboxOffset, error) {
	return store.OutboxOffset{}, nil
}

func (f fakeStore) UpdateOffset(ctx context.Context, consumer string, offset store.OutboxOffset) error {
	return nil
}

type fakeIdentity struct {
	loginFn        func(ctx context.Context, email, password string) (string, models.Session, error)
	authenticateFn func(ctx context.Context, token string) (models.Session, error)
	updateMeFn     func(ctx context.Context, session models.Session, patch store.UserPatch) (models.User, error)
	loggedOut      *models.Session
}

func (f *fakeIdentity) Login(ctx context.Context, email, password string) (string, models.Session, error) {
	if f.loginFn == nil {
		return "", models.Session{}, store.ErrInvalidCredentials
	}
	return f.loginFn(ctx, email, password)
}

func (f *fakeIdentity) Authenticate(ctx context.Context, token string) (models.Session, error) {
	if f.authenticateFn == nil {
		return models.Session{}, identity.ErrInvalidToken
	}
	return f.authenticateFn(ctx, token)
}

func (f *fakeIdentity) IsAuthenticated(ctx context.Context, token string) bool {
	_, err := f.Authenticate(ctx, token)
	return err == nil
}

func (f *fakeIdentity) Me(ctx context.Context, session models.Session) (models.User, error) {
	return models.User{ID: session.UserID, Email: session.Email, Role: session.Role}, nil
}

func (f *fakeIdentity) Logout(ctx context.Context, session models.Session) error {
	f.loggedOut = &session
	return nil
}

func (f *fakeIdentity) RedirectToLogin(returnURL string) string {
	if returnURL == "" {
		return "/staff-login"
	}
	return "/staff-login?return_url=" + returnURL
}

func (f *fakeIdentity) UpdateMe(ctx context.Context, session models.Session, patch store.UserPatch) (models.User, error) {
	if f.updateMeFn == nil {
		return models.User{}, nil
	}
	return f.updateMeFn(ctx, session, patch)
}

type fakeCache struct {
	stats       map[string]queue.Stats
	invalidated []string
}

func (c *fakeCache) Get(ctx context.Context, departmentID string) (queue.Stats, error) {
	stats, ok := c.stats[departmentID]
	if !ok {
		return queue.Stats{}, errors.New("miss")
	}
	return stats, nil
}

func (c *fakeCache) InvalidateQuietly(ctx context.Context, departmentID string) {
	c.invalidated = append(c.invalidated, departmentID)
}

var (
	fixedNow     = time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	adminSession = models.Session{ID: "s-admin", UserID: userID, Email: "admin@campus.edu", Role: models.RoleAdmin}
	staffSession = models.Session{ID: "s-staff", UserID: userID, Email: "staff@campus.edu", Role: models.RoleStaff, Department: "Admissions"}
	admissions   = models.Department{ID: deptID, Name: "Admissions", AverageServiceTime: 10, IsActive: true}
)

func newTestHandler(st fakeStore, opts Options) *Handler {
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return NewHandler(st, &fakeIdentity{}, opts)
}

func withSession(req *http.Request, session models.Session) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), authContextKey{}, session))
}

func jsonBody(t *testing.T, value interface{}) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(value)
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) responseError {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestCreateTicketSuccess(t *testing.T) {
	var got store.CreateTicketInput
	cache := &fakeCache{}
	st := fakeStore{
		createTicketFn: func(ctx context.Context, input store.CreateTicketInput) (models.QueueTicket, error) {
			got = input
			return models.QueueTicket{
				ID:             ticketID,
				StudentID:      input.StudentID,
				StudentName:    input.StudentName,
				DepartmentID:   input.DepartmentID,
				DepartmentName: "Admissions",
				TicketNumber:   "ADM-001",
				Status:         models.StatusWaiting,
				QueuePosition:  1,
			}, nil
		},
	}
	h := newTestHandler(st, Options{Cache: cache, Metrics: NewMetrics()})

	req := httptest.NewRequest(http.MethodPost, "/api/tickets", jsonBody(t, map[string]string{
		"student_id":    "20261234",
		"department_id": deptID,
	}))
	resp := serve(h, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "Student 20261234", got.StudentName)
	assert.True(t, got.Now.Equal(fixedNow))
	assert.Equal(t, []string{deptID}, cache.invalidated)

	var ticket models.QueueTicket
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ticket))
	assert.Equal(t, "ADM-001", ticket.TicketNumber)
	assert.Equal(t, 1, ticket.QueuePosition)
}

func TestCreateTicketValidation(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]string
		code    string
	}{
		{name: "missing fields", payload: map[string]string{}, code: "invalid_request"},
		{name: "short student id", payload: map[string]string{"student_id": "1234", "department_id": deptID}, code: "invalid_student_id"},
		{name: "letters in student id", payload: map[string]string{"student_id": "2026abcd", "department_id": deptID}, code: "invalid_student_id"},
		{name: "bad department id", payload: map[string]string{"student_id": "20261234", "department_id": "adm"}, code: "invalid_department_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(fakeStore{}, Options{})
			resp := serve(h, httptest.NewRequest(http.MethodPost, "/api/tickets", jsonBody(t, tc.payload)))
			require.Equal(t, http.StatusBadRequest, resp.Code)
			assert.Equal(t, tc.code, decodeError(t, resp).Code)
		})
	}
}

func TestCreateTicketRejectsUnknownFields(t *testing.T) {
	h := newTestHandler(fakeStore{}, Options{})
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", strings.NewReader(`{"student_id":"20261234","department_id":"`+deptID+`","priority":1}`))
	resp := serve(h, req)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "invalid_json", decodeError(t, resp).Code)
}

func TestCreateTicketErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{store.ErrActiveTicketExists, http.StatusConflict, "active_ticket_exists"},
		{store.ErrDepartmentInactive, http.StatusConflict, "department_inactive"},
		{store.ErrDepartmentNotFound, http.StatusNotFound, "department_not_found"},
		{errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			st := fakeStore{
				createTicketFn: func(ctx context.Context, input store.CreateTicketInput) (models.QueueTicket, error) {
					return models.QueueTicket{}, tc.err
				},
			}
			h := newTestHandler(st, Options{})
			req := httptest.NewRequest(http.MethodPost, "/api/tickets", jsonBody(t, map[string]string{
				"student_id":    "20261234",
				"department_id": deptID,
			}))
			req.Header.Set("X-Request-ID", "req-1")
			resp := serve(h, req)

			require.Equal(t, tc.status, resp.Code)
			var body errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tc.code, body.Error.Code)
			assert.Equal(t, "req-1", body.RequestID)
		})
	}
}

func TestGetTicketRequiresOwnerOrStaff(t *testing.T) {
	st := fakeStore{
		getTicketFn: func(ctx context.Context, id string) (models.QueueTicket, error) {
			return models.QueueTicket{ID: id, StudentID: "20261234", DepartmentID: deptID, DepartmentName: "Admissions", Status: models.StatusInProgress}, nil
		},
		getDepartmentFn: func(ctx context.Context, id string) (models.Department, error) {
			return admissions, nil
		},
		listTicketsFn: func(ctx context.Context, q store.Query) ([]models.QueueTicket, error) {
			assert.Equal(t, deptID, q.Where["department_id"])
			return []models.QueueTicket{
				{ID: ticketID, DepartmentID: deptID, Status: models.StatusInProgress},
				{ID: "other", DepartmentID: deptID, Status: models.StatusWaiting},
			}, nil
		},
	}
	h := newTestHandler(st, Options{})

	resp := serve(h, httptest.NewRequest(http.MethodGet, "/api/tickets/"+ticketID+"?student_id=99999999", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = serve(h, httptest.NewRequest(http.MethodGet, "/api/tickets/"+ticketID+"?student_id=20261234", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	var view queue.StudentView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.True(t, view.YourTurn)
	assert.Equal(t, 2, view.Stats.Active)
	assert.Equal(t, 20, view.Stats.EstimatedWaitForNewArrival)

	resp = serve(h, withSession(httptest.NewRequest(http.MethodGet, "/api/tickets/"+ticketID, nil), staffSession))
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestTicketActionStaff(t *testing.T) {
	var got store.TransitionInput
	st := fakeStore{
		getTicketFn: func(ctx context.Context, id string) (models.QueueTicket, error) {
			return models.QueueTicket{ID: id, DepartmentID: deptID, DepartmentName: "Admissions", Status: models.StatusWaiting}, nil
		},
		transitionFn: func(ctx context.Context, input store.TransitionInput) (models.QueueTicket, error) {
			got = input
			return models.QueueTicket{ID: input.TicketID, DepartmentID: deptID, Status: models.StatusInProgress}, nil
		},
	}
	cache := &fakeCache{}
	h := newTestHandler(st, Options{Cache: cache})

	req := withSession(httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketID+"/actions/start", nil), staffSession)
	resp := serve(h, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, store.ActionStart, got.Action)
	assert.Equal(t, "staff@campus.edu", got.Actor)
	assert.Empty(t, got.StudentID)
	assert.Equal(t, []string{deptID}, cache.invalidated)
}

func TestTicketActionOtherDepartmentDenied(t *testing.T) {
	st := fakeStore{
		getTicketFn: func(ctx context.Context, id string) (models.QueueTicket, error) {
			return models.QueueTicket{ID: id, DepartmentName: "Registrar", Status: models.StatusWaiting}, nil
		},
		transitionFn: func(ctx context.Context, input store.TransitionInput) (models.QueueTicket, error) {
			t.Fatal("transition must not run")
			return models.QueueTicket{}, nil
		},
	}
	h := newTestHandler(st, Options{})

	resp := serve(h, withSession(httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketID+"/actions/complete", nil), staffSession))
	require.Equal(t, http.StatusForbidden, resp.Code)

	resp = serve(h, withSession(httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketID+"/actions/bogus", nil), adminSession))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestTicketActionStudentCancel(t *testing.T) {
	var got store.TransitionInput
	st := fakeStore{
		transitionFn: func(ctx context.Context, input store.TransitionInput) (models.QueueTicket, error) {
			got = input
			return models.QueueTicket{ID: input.TicketID, Status: models.StatusCancelled}, nil
		},
	}
	h := newTestHandler(st, Options{})

	resp := serve(h, httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketID+"/actions/cancel", jsonBody(t, map[string]string{"student_id": "20261234"})))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "20261234", got.StudentID)
	assert.Equal(t, store.ActionCancel, got.Action)

	resp = serve(h, httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketID+"/actions/cancel", nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = serve(h, httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketID+"/actions/start", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestTicketActionStaleState(t *testing.T) {
	st := fakeStore{
		getTicketFn: func(ctx context.Context, id string) (models.QueueTicket, error) {
			return models.QueueTicket{ID: id, DepartmentName: "Admissions"}, nil
		},
		transitionFn: func(ctx context.Context, input store.TransitionInput) (models.QueueTicket, error) {
			return models.QueueTicket{}, store.ErrInvalidState
		},
	}
	h := newTestHandler(st, Options{})
	resp := serve(h, withSession(httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketID+"/actions/complete", nil), staffSession))
	require.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "invalid_state", decodeError(t, resp).Code)
}

func TestPatchTicketStatusSetsServedFields(t *testing.T) {
	var got store.TicketPatch
	st := fakeStore{
		getTicketFn: func(ctx context.Context, id string) (models.QueueTicket, error) {
			return models.QueueTicket{ID: id, DepartmentName: "Admissions", Status: models.StatusInProgress}, nil
		},
		updateTicketFn: func(ctx context.Context, id string, patch store.TicketPatch) (models.QueueTicket, error) {
			got = patch
			return models.QueueTicket{ID: id, Status: *patch.Status}, nil
		},
	}
	h := newTestHandler(st, Options{Metrics: NewMetrics()})

	resp := serve(h, withSession(httptest.NewRequest(http.MethodPatch, "/api/tickets/"+ticketID, jsonBody(t, map[string]string{"status": "completed"})), staffSession))
	require.Equal(t, http.StatusOK, resp.Code)
	require.NotNil(t, got.ServedAt)
	assert.True(t, got.ServedAt.Equal(fixedNow))

	resp = serve(h, withSession(httptest.NewRequest(http.MethodPatch, "/api/tickets/"+ticketID, jsonBody(t, map[string]string{"status": "done"})), staffSession))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestTicketEventsReportsChain(t *testing.T) {
	created := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	payload := json.RawMessage(`{"status":"waiting"}`)
	first := store.TicketEvent{TicketID: ticketID, TicketSeq: 1, Type: store.EventTicketCreated, Payload: payload, CreatedAt: created}
	first.Hash = store.ComputeTicketEventHash("", ticketID, first.Type, payload, created, 1)
	second := store.TicketEvent{TicketID: ticketID, TicketSeq: 2, Type: store.EventTicketStarted, Payload: payload, CreatedAt: created, PrevHash: first.Hash, Hash: "tampered"}

	st := fakeStore{
		eventsFn: func(ctx context.Context, id string) ([]store.TicketEvent, error) {
			return []store.TicketEvent{first, second}, nil
		},
	}
	h := newTestHandler(st, Options{})
	resp := serve(h, withSession(httptest.NewRequest(http.MethodGet, "/api/tickets/"+ticketID+"/events", nil), staffSession))
	require.Equal(t, http.StatusOK, resp.Code)

	var body ticketEventsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.ChainValid)
	require.NotNil(t, body.BrokenAt)
	assert.Equal(t, 2, *body.BrokenAt)
}

func TestListTicketsPassesQuery(t *testing.T) {
	var got store.Query
	st := fakeStore{
		listTicketsFn: func(ctx context.Context, q store.Query) ([]models.QueueTicket, error) {
			got = q
			return []models.QueueTicket{{ID: ticketID}}, nil
		},
	}
	h := newTestHandler(st, Options{})
	resp := serve(h, withSession(httptest.NewRequest(http.MethodGet, "/api/tickets?status=waiting&order_by=-created_date&limit=5", nil), staffSession))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "-created_date", got.OrderBy)
	assert.Equal(t, 5, got.Limit)
	assert.Equal(t, "waiting", got.Where["status"])
}

func TestListTicketsFacadeErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{store.ErrUnknownColumn, http.StatusBadRequest},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		st := fakeStore{
			listTicketsFn: func(ctx context.Context, q store.Query) ([]models.QueueTicket, error) {
				return nil, tc.err
			},
		}
		h := newTestHandler(st, Options{})
		resp := serve(h, withSession(httptest.NewRequest(http.MethodGet, "/api/tickets?color=red", nil), staffSession))
		assert.Equal(t, tc.status, resp.Code)
	}
}

func TestListTicketsRequiresStaff(t *testing.T) {
	h := newTestHandler(fakeStore{}, Options{})
	resp := serve(h, httptest.NewRequest(http.MethodGet, "/api/tickets", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	student := models.Session{ID: "s-user", Role: models.RoleUser}
	resp = serve(h, withSession(httptest.NewRequest(http.MethodGet, "/api/tickets", nil), student))
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestStudentActiveTicket(t *testing.T) {
	found := false
	st := fakeStore{
		activeTicketFn: func(ctx context.Context, studentID string) (models.QueueTicket, bool, error) {
			return models.QueueTicket{ID: ticketID, StudentID: studentID, DepartmentID: deptID, Status: models.StatusWaiting}, found, nil
		},
		getDepartmentFn: func(ctx context.Context, id string) (models.Department, error) {
			return admissions, nil
		},
	}
	h := newTestHandler(st, Options{})

	resp := serve(h, httptest.NewRequest(http.MethodGet, "/api/students/20261234/ticket", nil))
	assert.Equal(t, http.StatusNoContent, resp.Code)

	found = true
	resp = serve(h, httptest.NewRequest(http.MethodGet, "/api/students/20261234/ticket", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = serve(h, httptest.NewRequest(http.MethodGet, "/api/students/abc/ticket", nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestStudentHistoryOrdering(t *testing.T) {
	var got store.Query
	st := fakeStore{
		listTicketsFn: func(ctx context.Context, q store.Query) ([]models.QueueTicket, error) {
			got = q
			return nil, nil
		},
	}
	h := newTestHandler(st, Options{})
	resp := serve(h, httptest.NewRequest(http.MethodGet, "/api/students/20261234/tickets", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "-created_date", got.OrderBy)
	assert.Equal(t, "20261234", got.Where["student_id"])
}

func TestDepartmentStatsUsesCache(t *testing.T) {
	cache := &fakeCache{stats: map[string]queue.Stats{deptID: {DepartmentID: deptID, Active: 7}}}
	h := newTestHandler(fakeStore{}, Options{Cache: cache})

	resp := serve(h, httptest.NewRequest(http.MethodGet, "/api/departments/"+deptID+"/stats", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	var stats queue.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 7, stats.Active)
}

func TestListTicketsRejectsMalformedDepartmentID(t *testing.T) {
	st := fakeStore{
		listTicketsFn: func(ctx context.Context, q store.Query) ([]models.QueueTicket, error) {
			if _, err := q.Normalize(store.TicketColumns); err != nil {
				return nil, err
			}
			return nil, nil
		},
	}
	h := newTestHandler(st, Options{})

	resp := serve(h, withSession(httptest.NewRequest(http.MethodGet, "/api/tickets?department_id=abc", nil), adminSession))
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "invalid_value", decodeError(t, resp).Code)
}

func TestDepartmentStatsFallsBackToStore(t *testing.T) {
	cache := &fakeCache{}
	st := fakeStore{
		getDepartmentFn: func(ctx context.Context, id string) (models.Department, error) {
			return admissions, nil
		},
		listTicketsFn: func(ctx context.Context, q store.Query) ([]models.QueueTicket, error) {
			return []models.QueueTicket{
				{DepartmentID: deptID, Status: models.StatusWaiting},
				{DepartmentID: deptID, Status: models.StatusWaiting},
				{DepartmentID: deptID, Status: models.StatusInProgress},
				{DepartmentID: deptID, Status: models.StatusCompleted},
			}, nil
		},
	}
	h := newTestHandler(st, Options{Cache: cache})

	resp := serve(h, httptest.NewRequest(http.MethodGet, "/api/departments/"+deptID+"/stats", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	var stats queue.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 2, stats.Waiting)
	assert.Equal(t, 3, stats.Active)
	assert.Equal(t, 30, stats.EstimatedWaitForNewArrival)
	assert.NotContains(t, cache.stats, deptID, "request path must not fill the cache")
}

func TestCreateDepartmentRequiresAdmin(t *testing.T) {
	var got store.DepartmentInput
	st := fakeStore{
		createDepartmentFn: func(ctx context.Context, input store.DepartmentInput) (models.Department, error) {
			got = input
			return models.Department{ID: deptID, Name: input.Name}, nil
		},
	}
	h := newTestHandler(st, Options{})
	body := map[string]interface{}{"name": "  Financial Aid ", "average_service_time": 12}

	resp := serve(h, withSession(httptest.NewRequest(http.MethodPost, "/api/departments", jsonBody(t, body)), staffSession))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = serve(h, withSession(httptest.NewRequest(http.MethodPost, "/api/departments", jsonBody(t, body)), adminSession))
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "Financial Aid", got.Name)
	assert.Equal(t, 12, got.AverageServiceTime)

	resp = serve(h, withSession(httptest.NewRequest(http.MethodPost, "/api/departments", jsonBody(t, map[string]interface{}{"name": ""})), adminSession))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestToggleDepartment(t *testing.T) {
	var got store.DepartmentPatch
	st := fakeStore{
		getDepartmentFn: func(ctx context.Context, id string) (models.Department, error) {
			return admissions, nil
		},
		updateDepartmentFn: func(ctx context.Context, id string, patch store.DepartmentPatch) (models.Department, error) {
			got = patch
			dept := admissions
			dept.IsActive = *patch.IsActive
			return dept, nil
		},
	}
	h := newTestHandler(st, Options{})
	resp := serve(h, withSession(httptest.NewRequest(http.MethodPost, "/api/departments/"+deptID+"/toggle", nil), adminSession))
	require.Equal(t, http.StatusOK, resp.Code)
	require.NotNil(t, got.IsActive)
	assert.False(t, *got.IsActive)
}

func TestDeleteDepartmentInUse(t *testing.T) {
	st := fakeStore{
		deleteDepartmentFn: func(ctx context.Context, id string) error {
			return store.ErrDepartmentInUse
		},
	}
	h := newTestHandler(st, Options{})
	resp := serve(h, withSession(httptest.NewRequest(http.MethodDelete, "/api/departments/"+deptID, nil), adminSession))
	require.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "department_in_use", decodeError(t, resp).Code)
}

func TestStaffQueueUsesOwnDepartment(t *testing.T) {
	var got store.Query
	st := fakeStore{
		listDepartmentsFn: func(ctx context.Context, q store.Query) ([]models.Department, error) {
			assert.Equal(t, "Admissions", q.Where["name"])
			return []models.Department{admissions}, nil
		},
		listTicketsFn: func(ctx context.Context, q store.Query) ([]models.QueueTicket, error) {
			got = q
			return []models.QueueTicket{
				{ID: "b", DepartmentID: deptID, Status: models.StatusInProgress, CreatedDate: fixedNow.Add(-time.Minute)},
				{ID: "a", DepartmentID: deptID, Status: models.StatusWaiting, CreatedDate: fixedNow.Add(-2 * time.Minute)},
			}, nil
		},
	}
	h := newTestHandler(st, Options{})
	resp := serve(h, withSession(httptest.NewRequest(http.MethodGet, "/api/staff/queue", nil), staffSession))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "Admissions", got.Where["department_name"])
	assert.Equal(t, "-created_date", got.OrderBy)

	var view queue.StaffView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	require.NotNil(t, view.Serving)
	assert.Equal(t, "b", view.Serving.ID)
	assert.Equal(t, 2, view.Stats.Active)
}

func TestStaffQueueOtherDepartmentDenied(t *testing.T) {
	st := fakeStore{
		getDepartmentFn: func(ctx context.Context, id string) (models.Department, error) {
			return models.Department{ID: id, Name: "Registrar"}, nil
		},
	}
	h := newTestHandler(st, Options{})
	resp := serve(h, withSession(httptest.NewRequest(http.MethodGet, "/api/staff/queue?department_id="+deptID, nil), staffSession))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = serve(h, withSession(httptest.NewRequest(http.MethodGet, "/api/staff/queue", nil), adminSession))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCreateStaffRequest(t *testing.T) {
	var got store.StaffRequestInput
	st := fakeStore{
		listDepartmentsFn: func(ctx context.Context, q store.Query) ([]models.Department, error) {
			if q.Where["name"] == "Admissions" {
				return []models.Department{admissions}, nil
			}
			return nil, nil
		},
		createRequestFn: func(ctx context.Context, input store.StaffRequestInput) (models.StaffRequest, error) {
			got = input
			return models.StaffRequest{ID: reqID, Email: input.Email, Status: models.RequestPending}, nil
		},
	}
	h := newTestHandler(st, Options{})

	resp := serve(h, httptest.NewRequest(http.MethodPost, "/api/staff-requests", jsonBody(t, map[string]string{
		"full_name":  "Dana Reyes",
		"email":      " Dana@Campus.edu ",
		"department": "Admissions",
	})))
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "dana@campus.edu", got.Email)

	resp = serve(h, httptest.NewRequest(http.MethodPost, "/api/staff-requests", jsonBody(t, map[string]string{
		"full_name":  "Dana Reyes",
		"email":      "dana@campus.edu",
		"department": "Library",
	})))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = serve(h, httptest.NewRequest(http.MethodPost, "/api/staff-requests", jsonBody(t, map[string]string{
		"full_name":  "Dana Reyes",
		"email":      "not-an-email",
		"department": "Admissions",
	})))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestDecideStaffRequest(t *testing.T) {
	var gotStatus, gotBy string
	st := fakeStore{
		decideRequestFn: func(ctx context.Context, id, status, decidedBy string) (models.StaffRequest, error) {
			gotStatus, gotBy = status, decidedBy
			if status == models.RequestRejected {
				return models.StaffRequest{}, store.ErrStaffRequestNotPending
			}
			return models.StaffRequest{ID: id, Status: status}, nil
		},
	}
	h := newTestHandler(st, Options{})

	resp := serve(h, withSession(httptest.NewRequest(http.MethodPost, "/api/staff-requests/"+reqID+"/actions/approve", nil), adminSession))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, models.RequestApproved, gotStatus)
	assert.Equal(t, "admin@campus.edu", gotBy)

	resp = serve(h, withSession(httptest.NewRequest(http.MethodPost, "/api/staff-requests/"+reqID+"/actions/reject", nil), adminSession))
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = serve(h, withSession(httptest.NewRequest(http.MethodPost, "/api/staff-requests/"+reqID+"/actions/approve", nil), staffSession))
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestPatchUserRole(t *testing.T) {
	var got store.UserPatch
	st := fakeStore{
		updateUserFn: func(ctx context.Context, id string, patch store.UserPatch) (models.User, error) {
			got = patch
			return models.User{ID: id, Role: *patch.Role}, nil
		},
	}
	h := newTestHandler(st, Options{})

	resp := serve(h, withSession(httptest.NewRequest(http.MethodPatch, "/api/users/"+userID, jsonBody(t, map[string]string{"role": "staff"})), adminSession))
	require.Equal(t, http.StatusOK, resp.Code)
	require.NotNil(t, got.Role)
	assert.Equal(t, models.RoleStaff, *got.Role)

	resp = serve(h, withSession(httptest.NewRequest(http.MethodPatch, "/api/users/"+userID, jsonBody(t, map[string]string{"role": "root"})), adminSession))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestLoginFlow(t *testing.T) {
	id := &fakeIdentity{
		loginFn: func(ctx context.Context, email, password string) (string, models.Session, error) {
			switch email {
			case "staff@campus.edu":
				return "signed", staffSession, nil
			case "pending@campus.edu":
				return "", models.Session{}, identity.ErrStaffNotApproved
			}
			return "", models.Session{}, store.ErrInvalidCredentials
		},
	}
	h := NewHandler(fakeStore{}, id, Options{})

	resp := serve(h, httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, map[string]string{"email": "Staff@campus.edu", "password": "pw"})))
	require.Equal(t, http.StatusOK, resp.Code)
	var body loginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "signed", body.Token)
	assert.Equal(t, "/staff-dashboard", body.Home)

	resp = serve(h, httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, map[string]string{"email": "pending@campus.edu", "password": "pw"})))
	require.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "staff_not_approved", decodeError(t, resp).Code)

	resp = serve(h, httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, map[string]string{"email": "who@campus.edu", "password": "pw"})))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestLogoutAndMe(t *testing.T) {
	id := &fakeIdentity{}
	h := NewHandler(fakeStore{}, id, Options{})

	resp := serve(h, withSession(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), staffSession))
	require.Equal(t, http.StatusOK, resp.Code)
	var user models.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&user))
	assert.Equal(t, "staff@campus.edu", user.Email)

	resp = serve(h, withSession(httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil), staffSession))
	require.Equal(t, http.StatusNoContent, resp.Code)
	require.NotNil(t, id.loggedOut)
	assert.Equal(t, "s-staff", id.loggedOut.ID)
}

func TestUpdateMeStaffCannotChangeDepartment(t *testing.T) {
	called := false
	var got store.UserPatch
	id := &fakeIdentity{updateMeFn: func(ctx context.Context, session models.Session, patch store.UserPatch) (models.User, error) {
		called = true
		got = patch
		return models.User{ID: session.UserID, FullName: "Sam Staff", Department: "Admissions"}, nil
	}}
	h := NewHandler(fakeStore{}, id, Options{})

	req := httptest.NewRequest(http.MethodPatch, "/api/auth/me", jsonBody(t, map[string]string{"department": "Registrar"}))
	resp := serve(h, withSession(req, staffSession))
	require.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "access_denied", decodeError(t, resp).Code)
	assert.False(t, called)

	req = httptest.NewRequest(http.MethodPatch, "/api/auth/me", jsonBody(t, map[string]string{"full_name": " Sam Staff "}))
	resp = serve(h, withSession(req, staffSession))
	require.Equal(t, http.StatusOK, resp.Code)
	require.True(t, called)
	assert.Nil(t, got.Department)
	require.NotNil(t, got.FullName)
	assert.Equal(t, "Sam Staff", *got.FullName)
}

func TestLoginURLAndRoutes(t *testing.T) {
	h := NewHandler(fakeStore{}, &fakeIdentity{}, Options{})

	resp := serve(h, httptest.NewRequest(http.MethodGet, "/api/auth/login-url?return_page=StaffDashboard", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "/staff-login?return_url=/staff-dashboard", body["url"])

	resp = serve(h, httptest.NewRequest(http.MethodGet, "/api/routes?name=Reports", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	var route map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&route))
	assert.Equal(t, "/reports", route["path"])
}

func TestAnalyticsExport(t *testing.T) {
	st := fakeStore{
		listDepartmentsFn: func(ctx context.Context, q store.Query) ([]models.Department, error) {
			return []models.Department{admissions}, nil
		},
		listTicketsFn: func(ctx context.Context, q store.Query) ([]models.QueueTicket, error) {
			return []models.QueueTicket{{DepartmentID: deptID, Status: models.StatusCompleted, CreatedDate: fixedNow}}, nil
		},
	}
	h := newTestHandler(st, Options{})

	resp := serve(h, withSession(httptest.NewRequest(http.MethodGet, "/api/analytics/export?format=csv&section=departments", nil), adminSession))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "text/csv", resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Body.String(), "Admissions")

	resp = serve(h, withSession(httptest.NewRequest(http.MethodGet, "/api/analytics/export?format=pdf", nil), adminSession))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, strings.HasPrefix(resp.Body.String(), "%PDF"))

	resp = serve(h, withSession(httptest.NewRequest(http.MethodGet, "/api/analytics/export?format=xml", nil), adminSession))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAnalyticsReportPropagatesFacadeError(t *testing.T) {
	st := fakeStore{
		listTicketsFn: func(ctx context.Context, q store.Query) ([]models.QueueTicket, error) {
			return nil, errors.New("timeout")
		},
	}
	h := newTestHandler(st, Options{})
	resp := serve(h, withSession(httptest.NewRequest(http.MethodGet, "/api/analytics/report", nil), adminSession))
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestAuthMiddleware(t *testing.T) {
	id := &fakeIdentity{
		authenticateFn: func(ctx context.Context, token string) (models.Session, error) {
			if token == "good" {
				return staffSession, nil
			}
			return models.Session{}, identity.ErrInvalidToken
		},
	}
	var seen *models.Session
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if session, ok := sessionFromContext(r.Context()); ok {
			seen = &session
		}
		w.WriteHeader(http.StatusOK)
	})
	mw := AuthMiddleware(id, next)

	cases := []struct {
		name    string
		method  string
		path    string
		token   string
		status  int
		session bool
	}{
		{"private without token", http.MethodGet, "/api/tickets", "", http.StatusUnauthorized, false},
		{"private bad token", http.MethodGet, "/api/tickets", "bad", http.StatusUnauthorized, false},
		{"private good token", http.MethodGet, "/api/tickets", "good", http.StatusOK, true},
		{"public create ticket", http.MethodPost, "/api/tickets", "", http.StatusOK, false},
		{"public with bad token", http.MethodGet, "/api/departments", "bad", http.StatusOK, false},
		{"public with good token", http.MethodGet, "/api/departments", "good", http.StatusOK, true},
		{"student cancel", http.MethodPost, "/api/tickets/" + ticketID + "/actions/cancel", "", http.StatusOK, false},
		{"staff start", http.MethodPost, "/api/tickets/" + ticketID + "/actions/start", "", http.StatusUnauthorized, false},
		{"department write", http.MethodPatch, "/api/departments/" + deptID, "", http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			resp := httptest.NewRecorder()
			mw.ServeHTTP(resp, req)
			assert.Equal(t, tc.status, resp.Code)
			assert.Equal(t, tc.session, seen != nil)
		})
	}
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer abc"))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken("Bearer"))
}

func TestRateLimiterPerIP(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1, IPBurst: 2, UserPerMinute: 100, UserBurst: 100})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestRateLimiterPerUser(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 100, IPBurst: 100, UserPerMinute: 1, UserBurst: 1})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, withSession(httptest.NewRequest(http.MethodGet, "/api/tickets", nil), staffSession))
	second := httptest.NewRecorder()
	req := withSession(httptest.NewRequest(http.MethodGet, "/api/tickets", nil), staffSession)
	req.RemoteAddr = "10.0.0.9:1234"
	handler.ServeHTTP(second, req)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := NewMetrics()
	metrics.TicketCreated("Admissions")
	metrics.CacheLookup("hit")
	h := newTestHandler(fakeStore{}, Options{Metrics: metrics})
	handler := metrics.Middleware(h.Routes())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	body := resp.Body.String()
	assert.Contains(t, body, `queue_tickets_created_total{department="Admissions"} 1`)
	assert.Contains(t, body, `stats_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, body, `http_requests_total{method="GET",path="/healthz",status="200"} 1`)
}

func TestRouteLabelCollapsesIDs(t *testing.T) {
	assert.Equal(t, "/api/tickets/:id/actions/start", routeLabel("/api/tickets/"+ticketID+"/actions/start"))
	assert.Equal(t, "/api/students/:id/ticket", routeLabel("/api/students/20261234/ticket"))
	assert.Equal(t, "/realtime", routeLabel("/realtime/123/abc/websocket"))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	assert.NotPanics(t, func() {
		metrics.TicketCreated("x")
		metrics.TicketTransition("start")
		metrics.CacheLookup("miss")
		metrics.RealtimeClients(1)
	})
}

func TestBucketSetRetryAfterAndSweep(t *testing.T) {
	now := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	set := newBucketSet(60, 1)
	set.now = func() time.Time { return now }

	_, ok := set.take("a")
	require.True(t, ok)
	wait, ok := set.take("a")
	require.False(t, ok)
	assert.Equal(t, time.Second, wait)

	now = now.Add(5 * time.Second)
	_, ok = set.take("b")
	require.True(t, ok)
	assert.NotContains(t, set.buckets, "a")
}
