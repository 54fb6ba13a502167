package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"qms/campus-queue/internal/models"
	"qms/campus-queue/internal/store"
)

type staffRequestPayload struct {
	FullName   string `json:"full_name" validate:"required,max=100"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone" validate:"omitempty,max=32"`
	Department string `json:"department" validate:"required"`
	Notes      string `json:"notes" validate:"max=1000"`
}

type staffRequestPatchPayload struct {
	FullName   *string `json:"full_name" validate:"omitempty,min=1,max=100"`
	Phone      *string `json:"phone" validate:"omitempty,max=32"`
	Department *string `json:"department" validate:"omitempty,min=1"`
	Notes      *string `json:"notes" validate:"omitempty,max=1000"`
}

var staffRequestDecisions = map[string]string{
	"approve": models.RequestApproved,
	"reject":  models.RequestRejected,
}

func (h *Handler) handleStaffRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req staffRequestPayload
		if !h.decodeJSON(w, r, &req, false) {
			return
		}
		req.FullName = strings.TrimSpace(req.FullName)
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		req.Department = strings.TrimSpace(req.Department)
		if !h.validateStruct(w, r, req) {
			return
		}
		if err := h.requireDepartmentName(r, req.Department); err != nil {
			h.fail(w, r, err)
			return
		}
		created, err := h.store.CreateStaffRequest(r.Context(), store.StaffRequestInput{
			FullName:   req.FullName,
			Email:      req.Email,
			Phone:      strings.TrimSpace(req.Phone),
			Department: req.Department,
			Notes:      strings.TrimSpace(req.Notes),
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	case http.MethodGet:
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		q, err := parseQuery(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if q.OrderBy == "" {
			q.OrderBy = "-created_date"
		}
		requests, err := h.store.ListStaffRequests(r.Context(), q)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, requests)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleStaffRequest(w http.ResponseWriter, r *http.Request) {
	session, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	parts := pathParts(r.URL.Path, "/api/staff-requests/")
	if len(parts) == 0 {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "not found")
		return
	}
	id := parts[0]
	if !isValidUUID(id) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request_id", "invalid staff request id")
		return
	}

	if len(parts) == 3 && parts[1] == "actions" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		status, ok := staffRequestDecisions[parts[2]]
		if !ok {
			writeError(w, requestIDFromRequest(r), http.StatusNotFound, "unknown_action", "unknown staff request action")
			return
		}
		decided, err := h.store.DecideStaffRequest(r.Context(), id, status, session.Email)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.logger.Info("staff request decided",
			zap.String("staff_request_id", id),
			zap.String("status", status),
			zap.String("decided_by", session.Email),
		)
		writeJSON(w, http.StatusOK, decided)
		return
	}
	if len(parts) != 1 {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		req, err := h.store.GetStaffRequest(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	case http.MethodPatch:
		var req staffRequestPatchPayload
		if !h.decodeJSON(w, r, &req, false) {
			return
		}
		req.FullName = trimPtr(req.FullName)
		req.Department = trimPtr(req.Department)
		if !h.validateStruct(w, r, req) {
			return
		}
		if req.Department != nil {
			if err := h.requireDepartmentName(r, *req.Department); err != nil {
				h.fail(w, r, err)
				return
			}
		}
		updated, err := h.store.UpdateStaffRequest(r.Context(), id, store.StaffRequestPatch{
			FullName:   req.FullName,
			Phone:      trimPtr(req.Phone),
			Department: req.Department,
			Notes:      trimPtr(req.Notes),
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) requireDepartmentName(r *http.Request, name string) error {
	departments, err := h.store.ListDepartments(r.Context(), store.Filter(map[string]interface{}{"name": name}, ""))
	if err != nil {
		return err
	}
	if len(departments) == 0 {
		return store.ErrDepartmentNotFound
	}
	return nil
}
