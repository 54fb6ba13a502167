package httpapi

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"qms/campus-queue/internal/models"
	"qms/campus-queue/internal/routes"
	"qms/campus-queue/internal/store"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
	Home      string    `json:"home"`
}

type updateMeRequest struct {
	FullName   *string `json:"full_name" validate:"omitempty,min=1,max=100"`
	Phone      *string `json:"phone" validate:"omitempty,max=32"`
	Department *string `json:"department"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if !h.decodeJSON(w, r, &req, false) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if !h.validateStruct(w, r, req) {
		return
	}

	token, session, err := h.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Info("login rejected", zap.String("email", req.Email), zap.Error(err))
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		SessionID: session.ID,
		Role:      session.Role,
		ExpiresAt: session.ExpiresAt,
		Home:      homeFor(session),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	if err := h.identity.Logout(r.Context(), session); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := h.identity.Me(r.Context(), session)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		var req updateMeRequest
		if !h.decodeJSON(w, r, &req, false) {
			return
		}
		req.FullName = trimPtr(req.FullName)
		req.Department = trimPtr(req.Department)
		if !h.validateStruct(w, r, req) {
			return
		}
		if req.Department != nil && !session.IsAdmin() {
			h.fail(w, r, store.ErrAccessDenied)
			return
		}
		if req.Department != nil && *req.Department != "" {
			if err := h.requireDepartmentName(r, *req.Department); err != nil {
				h.fail(w, r, err)
				return
			}
		}
		user, err := h.identity.UpdateMe(r.Context(), session, store.UserPatch{
			FullName:   req.FullName,
			Phone:      trimPtr(req.Phone),
			Department: req.Department,
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	authenticated := false
	if token := sessionTokenFromRequest(r); token != "" {
		authenticated = h.identity.IsAuthenticated(r.Context(), token)
	}
	resp := map[string]interface{}{"authenticated": authenticated}
	if session, ok := sessionFromContext(r.Context()); ok && authenticated {
		resp["role"] = session.Role
		resp["department"] = session.Department
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLoginURL returns where an anonymous user is sent to sign in.
// ?return_page names a page; ?return_url passes a raw location.
func (h *Handler) handleLoginURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	returnURL := strings.TrimSpace(r.URL.Query().Get("return_url"))
	if page := strings.TrimSpace(r.URL.Query().Get("return_page")); page != "" {
		returnURL = routes.Path(page)
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": h.identity.RedirectToLogin(returnURL)})
}

func (h *Handler) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if name := strings.TrimSpace(r.URL.Query().Get("name")); name != "" {
		writeJSON(w, http.StatusOK, routes.Route{Name: name, Path: routes.Path(name)})
		return
	}
	writeJSON(w, http.StatusOK, routes.Table())
}

// homeFor is the landing page for a signed-in role.
func homeFor(session models.Session) string {
	switch {
	case session.IsAdmin():
		return routes.Path(routes.AdminDashboard)
	case session.IsStaff():
		return routes.Path(routes.StaffDashboard)
	default:
		return routes.Path(routes.StudentDashboard)
	}
}
