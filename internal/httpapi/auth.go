package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"qms/campus-queue/internal/identity"
	"qms/campus-queue/internal/models"
	"qms/campus-queue/internal/store"
)

type authContextKey struct{}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.Session, error)
}

// AuthMiddleware resolves the caller's session and stores it on the request
// context. Public endpoints let anonymous callers through; a bad token on a
// public endpoint is treated as anonymous.
func AuthMiddleware(auth Authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		public := isPublicEndpoint(r)
		token := sessionTokenFromRequest(r)
		if token == "" {
			if public {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}

		session, err := auth.Authenticate(r.Context(), token)
		if err != nil {
			if public {
				next.ServeHTTP(w, r)
				return
			}
			if errors.Is(err, identity.ErrNotAuthenticated) || errors.Is(err, identity.ErrInvalidToken) || errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			writeError(w, requestIDFromRequest(r), http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}

		ctx := context.WithValue(r.Context(), authContextKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (models.Session, bool) {
	session, ok := ctx.Value(authContextKey{}).(models.Session)
	return session, ok
}

func requireSession(w http.ResponseWriter, r *http.Request) (models.Session, bool) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return models.Session{}, false
	}
	return session, true
}

func requireStaff(w http.ResponseWriter, r *http.Request) (models.Session, bool) {
	session, ok := requireSession(w, r)
	if !ok {
		return models.Session{}, false
	}
	if !session.IsStaff() {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "staff access required")
		return models.Session{}, false
	}
	return session, true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (models.Session, bool) {
	session, ok := requireSession(w, r)
	if !ok {
		return models.Session{}, false
	}
	if !session.IsAdmin() {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "admin access required")
		return models.Session{}, false
	}
	return session, true
}

// canServe reports whether session may act on a department's tickets.
// Staff are limited to their own department.
func canServe(session models.Session, departmentName string) bool {
	if session.IsAdmin() {
		return true
	}
	return session.IsStaff() && strings.EqualFold(session.Department, departmentName)
}

func sessionTokenFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-Token"))
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	path := r.URL.Path
	if r.Method == http.MethodOptions {
		return true
	}
	switch path {
	case "/healthz", "/metrics", "/api/routes", "/api/stats", "/api/auth/status", "/api/auth/login-url":
		return true
	case "/api/auth/login", "/api/staff-requests":
		return r.Method == http.MethodPost
	case "/api/tickets":
		return r.Method == http.MethodPost
	case "/api/departments":
		return r.Method == http.MethodGet
	}
	switch {
	case strings.HasPrefix(path, "/realtime/"), strings.HasPrefix(path, "/api/students/"):
		return true
	case strings.HasPrefix(path, "/api/departments/"):
		return r.Method == http.MethodGet
	case strings.HasPrefix(path, "/api/tickets/"):
		parts := pathParts(path, "/api/tickets/")
		if len(parts) == 1 {
			return r.Method == http.MethodGet
		}
		return len(parts) == 3 && parts[1] == "actions" && parts[2] == store.ActionCancel && r.Method == http.MethodPost
	}
	return false
}
