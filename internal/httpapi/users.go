package httpapi

import (
	"net/http"
	"strings"

	"qms/campus-queue/internal/store"
)

type userPatchPayload struct {
	FullName   *string `json:"full_name" validate:"omitempty,min=1,max=100"`
	Department *string `json:"department"`
	Phone      *string `json:"phone" validate:"omitempty,max=32"`
	Role       *string `json:"role" validate:"omitempty,oneof=admin staff user"`
}

func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if q.OrderBy == "" {
		q.OrderBy = "email"
	}
	users, err := h.store.ListUsers(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) handleUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	parts := pathParts(r.URL.Path, "/api/users/")
	if len(parts) != 1 {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "not found")
		return
	}
	id := parts[0]
	if !isValidUUID(id) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_user_id", "invalid user id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		user, err := h.store.GetUser(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		var req userPatchPayload
		if !h.decodeJSON(w, r, &req, false) {
			return
		}
		req.FullName = trimPtr(req.FullName)
		req.Role = trimPtr(req.Role)
		if !h.validateStruct(w, r, req) {
			return
		}
		if req.Department != nil {
			dept := strings.TrimSpace(*req.Department)
			if dept != "" {
				if err := h.requireDepartmentName(r, dept); err != nil {
					h.fail(w, r, err)
					return
				}
			}
			req.Department = &dept
		}
		user, err := h.store.UpdateUser(r.Context(), id, store.UserPatch{
			FullName:   req.FullName,
			Department: req.Department,
			Phone:      trimPtr(req.Phone),
			Role:       req.Role,
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
