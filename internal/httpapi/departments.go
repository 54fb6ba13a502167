package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"qms/campus-queue/internal/models"
	"qms/campus-queue/internal/queue"
	"qms/campus-queue/internal/store"
)

type departmentRequest struct {
	Name               string `json:"name" validate:"required,max=100"`
	Description        string `json:"description" validate:"max=500"`
	AverageServiceTime int    `json:"average_service_time" validate:"omitempty,min=1,max=480"`
	Color              string `json:"color" validate:"omitempty,max=32"`
	IsActive           *bool  `json:"is_active"`
}

type departmentPatchRequest struct {
	Name               *string `json:"name" validate:"omitempty,min=1,max=100"`
	Description        *string `json:"description" validate:"omitempty,max=500"`
	AverageServiceTime *int    `json:"average_service_time" validate:"omitempty,min=1,max=480"`
	Color              *string `json:"color" validate:"omitempty,max=32"`
	IsActive           *bool   `json:"is_active"`
}

func (h *Handler) handleDepartments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q, err := parseQuery(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if q.OrderBy == "" {
			q.OrderBy = "name"
		}
		departments, err := h.store.ListDepartments(r.Context(), q)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, departments)
	case http.MethodPost:
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		var req departmentRequest
		if !h.decodeJSON(w, r, &req, false) {
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if !h.validateStruct(w, r, req) {
			return
		}
		dept, err := h.store.CreateDepartment(r.Context(), store.DepartmentInput{
			Name:               req.Name,
			Description:        strings.TrimSpace(req.Description),
			AverageServiceTime: req.AverageServiceTime,
			Color:              strings.TrimSpace(req.Color),
			IsActive:           req.IsActive,
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, dept)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleDepartment serves /api/departments/{id}, /{id}/toggle and /{id}/stats.
func (h *Handler) handleDepartment(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/departments/")
	if len(parts) == 0 || len(parts) > 2 {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "not found")
		return
	}
	id := parts[0]
	if !isValidUUID(id) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_department_id", "invalid department id")
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "stats":
			if r.Method != http.MethodGet {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			stats, err := h.statsFor(r, id)
			if err != nil {
				h.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, stats)
		case "toggle":
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if _, ok := requireAdmin(w, r); !ok {
				return
			}
			h.toggleDepartment(w, r, id)
		default:
			writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		dept, err := h.store.GetDepartment(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, dept)
	case http.MethodPatch:
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		var req departmentPatchRequest
		if !h.decodeJSON(w, r, &req, false) {
			return
		}
		req.Name = trimPtr(req.Name)
		if !h.validateStruct(w, r, req) {
			return
		}
		dept, err := h.store.UpdateDepartment(r.Context(), id, store.DepartmentPatch{
			Name:               req.Name,
			Description:        trimPtr(req.Description),
			AverageServiceTime: req.AverageServiceTime,
			Color:              trimPtr(req.Color),
			IsActive:           req.IsActive,
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.invalidateStats(r, id)
		writeJSON(w, http.StatusOK, dept)
	case http.MethodDelete:
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		if err := h.store.DeleteDepartment(r.Context(), id); err != nil {
			h.fail(w, r, err)
			return
		}
		h.invalidateStats(r, id)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) toggleDepartment(w http.ResponseWriter, r *http.Request, id string) {
	dept, err := h.store.GetDepartment(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	active := !dept.IsActive
	dept, err = h.store.UpdateDepartment(r.Context(), id, store.DepartmentPatch{IsActive: &active})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("department toggled", zap.String("department_id", id), zap.Bool("is_active", dept.IsActive))
	writeJSON(w, http.StatusOK, dept)
}

// statsFor serves a department's stats from the cache, falling back to the
// ticket table on a miss. Only the refresh scheduler writes the cache; a
// request-path write could restore stats an invalidation just dropped.
func (h *Handler) statsFor(r *http.Request, departmentID string) (queue.Stats, error) {
	if h.cache != nil {
		if stats, err := h.cache.Get(r.Context(), departmentID); err == nil {
			return stats, nil
		}
	}
	dept, err := h.store.GetDepartment(r.Context(), departmentID)
	if err != nil {
		return queue.Stats{}, err
	}
	tickets, err := h.store.ListTickets(r.Context(), store.Filter(map[string]interface{}{"department_id": departmentID}, ""))
	if err != nil {
		return queue.Stats{}, err
	}
	return queue.DepartmentStats(tickets, dept), nil
}

func (h *Handler) invalidateStats(r *http.Request, departmentID string) {
	if h.cache != nil {
		h.cache.InvalidateQuietly(r.Context(), departmentID)
	}
}

func (h *Handler) handleAllStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	departments, err := h.store.ListDepartments(r.Context(), store.List("name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tickets, err := h.store.ListTickets(r.Context(), store.List(""))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queue.AllDepartmentStats(tickets, departments))
}

// handleStaffQueue builds the staff dashboard for the caller's department.
// Admins pick a department with ?department_id.
func (h *Handler) handleStaffQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := requireStaff(w, r)
	if !ok {
		return
	}

	dept, err := h.staffDepartment(r, session)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tickets, err := h.store.ListTickets(r.Context(), store.Filter(map[string]interface{}{"department_name": dept.Name}, "-created_date"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queue.BuildStaffView(tickets, dept, h.clock()))
}

func (h *Handler) staffDepartment(r *http.Request, session models.Session) (models.Department, error) {
	if id := strings.TrimSpace(r.URL.Query().Get("department_id")); id != "" {
		if !isValidUUID(id) {
			return models.Department{}, store.ErrInvalidValue
		}
		dept, err := h.store.GetDepartment(r.Context(), id)
		if err != nil {
			return models.Department{}, err
		}
		if !canServe(session, dept.Name) {
			return models.Department{}, store.ErrAccessDenied
		}
		return dept, nil
	}
	if session.Department == "" {
		if session.IsAdmin() {
			return models.Department{}, errMissingDepartment
		}
		return models.Department{}, store.ErrAccessDenied
	}
	departments, err := h.store.ListDepartments(r.Context(), store.Filter(map[string]interface{}{"name": session.Department}, ""))
	if err != nil {
		return models.Department{}, err
	}
	if len(departments) == 0 {
		return models.Department{}, store.ErrDepartmentNotFound
	}
	return departments[0], nil
}

var errMissingDepartment = errors.New("department_id is required")
