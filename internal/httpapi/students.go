package httpapi

import (
	"net/http"

	"qms/campus-queue/internal/store"
)

// handleStudent serves /api/students/{student_id}/ticket and /tickets.
func (h *Handler) handleStudent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := pathParts(r.URL.Path, "/api/students/")
	if len(parts) != 2 {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "not found")
		return
	}
	studentID := parts[0]
	if !isValidStudentID(studentID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_student_id", "student_id must be 8 digits")
		return
	}

	switch parts[1] {
	case "ticket":
		ticket, found, err := h.store.ActiveTicketForStudent(r.Context(), studentID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if !found {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		view, err := h.studentView(r, ticket)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case "tickets":
		tickets, err := h.store.ListTickets(r.Context(), store.Filter(map[string]interface{}{"student_id": studentID}, "-created_date"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tickets)
	default:
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "not found")
	}
}
