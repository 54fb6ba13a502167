package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"qms/campus-queue/internal/identity"
	"qms/campus-queue/internal/models"
	"qms/campus-queue/internal/queue"
	"qms/campus-queue/internal/store"
)

// Identity is the identity facade as the HTTP layer uses it.
type Identity interface {
	Login(ctx context.Context, email, password string) (string, models.Session, error)
	Authenticate(ctx context.Context, token string) (models.Session, error)
	IsAuthenticated(ctx context.Context, token string) bool
	Me(ctx context.Context, session models.Session) (models.User, error)
	Logout(ctx context.Context, session models.Session) error
	RedirectToLogin(returnURL string) string
	UpdateMe(ctx context.Context, session models.Session, patch store.UserPatch) (models.User, error)
}

// StatsCache is satisfied by *cache.StatsCache.
type StatsCache interface {
	Get(ctx context.Context, departmentID string) (queue.Stats, error)
	InvalidateQuietly(ctx context.Context, departmentID string)
}

type Options struct {
	Cache    StatsCache
	Metrics  *Metrics
	Logger   *zap.Logger
	Location *time.Location
	Now      func() time.Time
}

type Handler struct {
	store    store.Store
	identity Identity
	cache    StatsCache
	metrics  *Metrics
	logger   *zap.Logger
	validate *validator.Validate
	location *time.Location
	now      func() time.Time
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var studentIDPattern = regexp.MustCompile(`^\d{8}$`)

func NewHandler(st store.Store, id Identity, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		store:    st,
		identity: id,
		cache:    opts.Cache,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		validate: validator.New(),
		location: opts.Location,
		now:      opts.Now,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/routes", h.handleRoutes)

	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/logout", h.handleLogout)
	mux.HandleFunc("/api/auth/me", h.handleMe)
	mux.HandleFunc("/api/auth/status", h.handleAuthStatus)
	mux.HandleFunc("/api/auth/login-url", h.handleLoginURL)

	mux.HandleFunc("/api/departments", h.handleDepartments)
	mux.HandleFunc("/api/departments/", h.handleDepartment)
	mux.HandleFunc("/api/stats", h.handleAllStats)
	mux.HandleFunc("/api/staff/queue", h.handleStaffQueue)

	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/", h.handleTicket)
	mux.HandleFunc("/api/students/", h.handleStudent)

	mux.HandleFunc("/api/staff-requests", h.handleStaffRequests)
	mux.HandleFunc("/api/staff-requests/", h.handleStaffRequest)
	mux.HandleFunc("/api/users", h.handleUsers)
	mux.HandleFunc("/api/users/", h.handleUser)

	mux.HandleFunc("/api/analytics/dashboard", h.handleDashboard)
	mux.HandleFunc("/api/analytics/report", h.handleReport)
	mux.HandleFunc("/api/analytics/system-stats", h.handleSystemStats)
	mux.HandleFunc("/api/analytics/export", h.handleExport)

	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics.Handler())
	}
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// clock returns the current time in the configured service timezone.
func (h *Handler) clock() time.Time {
	return h.now().In(h.location)
}

// pathParts splits what follows prefix into non-empty segments.
func pathParts(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// decodeJSON reads a strict JSON body. An empty body is allowed when optional.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}, optional bool) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func (h *Handler) validateStruct(w http.ResponseWriter, r *http.Request, payload interface{}) bool {
	if err := h.validate.Struct(payload); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request payload"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, toSnake(fe.Field())+" ("+fe.Tag()+")")
	}
	return "invalid fields: " + strings.Join(fields, ", ")
}

func toSnake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// parseQuery turns ?order_by=-col&limit=n&col=value into a store query.
// Column names are checked by the store.
func parseQuery(r *http.Request) (store.Query, error) {
	values := r.URL.Query()
	q := store.Query{OrderBy: strings.TrimSpace(values.Get("order_by"))}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return store.Query{}, store.ErrInvalidValue
		}
		q.Limit = limit
	}
	for key, vals := range values {
		if key == "order_by" || key == "limit" || len(vals) == 0 {
			continue
		}
		if q.Where == nil {
			q.Where = make(map[string]interface{})
		}
		q.Where[key] = vals[0]
	}
	return q, nil
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isValidStudentID(value string) bool {
	return studentIDPattern.MatchString(value)
}

func trimPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrDepartmentNotFound):
		return http.StatusNotFound, "department_not_found", "department not found"
	case errors.Is(err, store.ErrDepartmentInactive):
		return http.StatusConflict, "department_inactive", "department is not accepting tickets"
	case errors.Is(err, store.ErrDepartmentInUse):
		return http.StatusConflict, "department_in_use", "department has tickets"
	case errors.Is(err, store.ErrDepartmentExists):
		return http.StatusConflict, "department_exists", "department name already exists"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrActiveTicketExists):
		return http.StatusConflict, "active_ticket_exists", "student already has an active ticket"
	case errors.Is(err, store.ErrAccessDenied):
		return http.StatusForbidden, "access_denied", "access denied"
	case errors.Is(err, store.ErrStaffRequestNotFound):
		return http.StatusNotFound, "staff_request_not_found", "staff request not found"
	case errors.Is(err, store.ErrStaffRequestNotPending):
		return http.StatusConflict, "staff_request_not_pending", "staff request already decided"
	case errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found", "user not found"
	case errors.Is(err, store.ErrEmailTaken):
		return http.StatusConflict, "email_taken", "email already registered"
	case errors.Is(err, store.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid credentials"
	case errors.Is(err, store.ErrSessionNotFound),
		errors.Is(err, identity.ErrNotAuthenticated),
		errors.Is(err, identity.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized", "invalid session"
	case errors.Is(err, identity.ErrStaffNotApproved):
		return http.StatusForbidden, "staff_not_approved", "no approved staff request for this account"
	case errors.Is(err, store.ErrUnknownColumn):
		return http.StatusBadRequest, "unknown_column", "unknown filter or order column"
	case errors.Is(err, store.ErrInvalidValue):
		return http.StatusBadRequest, "invalid_value", "invalid filter value"
	case errors.Is(err, errMissingDepartment):
		return http.StatusBadRequest, "department_required", "department_id is required"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

// fail maps err, logs unexpected ones and writes the error response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.String("request_id", requestIDFromRequest(r)), zap.Error(err))
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
