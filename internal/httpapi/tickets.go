package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"qms/campus-queue/internal/models"
	"qms/campus-queue/internal/queue"
	"qms/campus-queue/internal/store"
)

type createTicketRequest struct {
	StudentID    string `json:"student_id" validate:"required"`
	StudentName  string `json:"student_name" validate:"max=100"`
	DepartmentID string `json:"department_id" validate:"required"`
}

type ticketPatchRequest struct {
	StudentName *string `json:"student_name" validate:"omitempty,min=1,max=100"`
	Status      *string `json:"status"`
}

type ticketActionRequest struct {
	StudentID string `json:"student_id"`
}

type ticketEventsResponse struct {
	TicketID   string              `json:"ticket_id"`
	Events     []store.TicketEvent `json:"events"`
	ChainValid bool                `json:"chain_valid"`
	BrokenAt   *int                `json:"broken_at,omitempty"`
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := requireStaff(w, r); !ok {
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
		tickets, err := h.store.ListTickets(r.Context(), q)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tickets)
	case http.MethodPost:
		h.createTicket(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) createTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if !h.decodeJSON(w, r, &req, false) {
		return
	}
	req.StudentID = strings.TrimSpace(req.StudentID)
	req.StudentName = strings.TrimSpace(req.StudentName)
	req.DepartmentID = strings.TrimSpace(req.DepartmentID)
	if !h.validateStruct(w, r, req) {
		return
	}
	if !isValidStudentID(req.StudentID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_student_id", "student_id must be 8 digits")
		return
	}
	if !isValidUUID(req.DepartmentID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_department_id", "invalid department id")
		return
	}
	if req.StudentName == "" {
		req.StudentName = "Student " + req.StudentID
	}

	ticket, err := h.store.CreateTicket(r.Context(), store.CreateTicketInput{
		StudentID:    req.StudentID,
		StudentName:  req.StudentName,
		DepartmentID: req.DepartmentID,
		Now:          h.clock(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.metrics.TicketCreated(ticket.DepartmentName)
	h.invalidateStats(r, ticket.DepartmentID)
	h.logger.Info("ticket issued",
		zap.String("ticket_id", ticket.ID),
		zap.String("ticket_number", ticket.TicketNumber),
		zap.String("department_id", ticket.DepartmentID),
		zap.Int("queue_position", ticket.QueuePosition),
	)
	writeJSON(w, http.StatusCreated, ticket)
}

// handleTicket serves /api/tickets/{id}, /{id}/events and
// /{id}/actions/{action}.
func (h *Handler) handleTicket(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/tickets/")
	if len(parts) == 0 {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "not found")
		return
	}
	id := parts[0]
	if !isValidUUID(id) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_ticket_id", "invalid ticket id")
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.getTicket(w, r, id)
		case http.MethodPatch:
			h.patchTicket(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ticketEvents(w, r, id)
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ticketAction(w, r, id, parts[2])
	default:
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "not found")
	}
}

// getTicket returns the student view of a ticket. Staff may read any
// ticket; anyone else must name the owning student.
func (h *Handler) getTicket(w http.ResponseWriter, r *http.Request, id string) {
	ticket, err := h.store.GetTicket(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	session, isSession := sessionFromContext(r.Context())
	if !isSession || !session.IsStaff() {
		if r.URL.Query().Get("student_id") != ticket.StudentID {
			h.fail(w, r, store.ErrTicketNotFound)
			return
		}
	}
	view, err := h.studentView(r, ticket)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) studentView(r *http.Request, ticket models.QueueTicket) (queue.StudentView, error) {
	dept, err := h.store.GetDepartment(r.Context(), ticket.DepartmentID)
	if err != nil {
		return queue.StudentView{}, err
	}
	tickets, err := h.store.ListTickets(r.Context(), store.Filter(map[string]interface{}{"department_id": ticket.DepartmentID}, ""))
	if err != nil {
		return queue.StudentView{}, err
	}
	return queue.BuildStudentView(ticket, tickets, dept), nil
}

func (h *Handler) patchTicket(w http.ResponseWriter, r *http.Request, id string) {
	session, ok := requireStaff(w, r)
	if !ok {
		return
	}
	var req ticketPatchRequest
	if !h.decodeJSON(w, r, &req, false) {
		return
	}
	req.StudentName = trimPtr(req.StudentName)
	if !h.validateStruct(w, r, req) {
		return
	}
	current, err := h.store.GetTicket(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !canServe(session, current.DepartmentName) {
		h.fail(w, r, store.ErrAccessDenied)
		return
	}

	patch := store.TicketPatch{StudentName: req.StudentName}
	if req.Status != nil {
		status := strings.TrimSpace(*req.Status)
		if !models.IsTicketStatus(status) {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_status", "unknown ticket status")
			return
		}
		patch.Status = &status
		switch status {
		case models.StatusInProgress:
			servedBy := session.Email
			patch.ServedBy = &servedBy
		case models.StatusCompleted:
			servedAt := h.clock()
			patch.ServedAt = &servedAt
		}
	}

	ticket, err := h.store.UpdateTicket(r.Context(), id, patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if patch.Status != nil && *patch.Status != current.Status {
		if action, ok := store.ActionFor(current.Status, *patch.Status); ok {
			h.metrics.TicketTransition(action)
		}
	}
	h.invalidateStats(r, ticket.DepartmentID)
	writeJSON(w, http.StatusOK, ticket)
}

// ticketAction applies start, complete or cancel. Students may only cancel
// their own ticket; staff act on their own department.
func (h *Handler) ticketAction(w http.ResponseWriter, r *http.Request, id, action string) {
	if _, ok := store.TargetStatus(action); !ok {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "unknown_action", "unknown ticket action")
		return
	}

	input := store.TransitionInput{TicketID: id, Action: action, OccurredAt: h.clock()}
	session, isSession := sessionFromContext(r.Context())
	if isSession && session.IsStaff() {
		current, err := h.store.GetTicket(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if !canServe(session, current.DepartmentName) {
			h.fail(w, r, store.ErrAccessDenied)
			return
		}
		input.Actor = session.Email
	} else {
		if action != store.ActionCancel {
			if !isSession {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
				return
			}
			h.fail(w, r, store.ErrAccessDenied)
			return
		}
		var req ticketActionRequest
		if !h.decodeJSON(w, r, &req, true) {
			return
		}
		req.StudentID = strings.TrimSpace(req.StudentID)
		if req.StudentID == "" {
			req.StudentID = strings.TrimSpace(r.URL.Query().Get("student_id"))
		}
		if !isValidStudentID(req.StudentID) {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_student_id", "student_id must be 8 digits")
			return
		}
		input.StudentID = req.StudentID
	}

	ticket, err := h.store.TransitionTicket(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.metrics.TicketTransition(action)
	h.invalidateStats(r, ticket.DepartmentID)
	h.logger.Info("ticket transition",
		zap.String("ticket_id", ticket.ID),
		zap.String("action", action),
		zap.String("status", ticket.Status),
	)
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) ticketEvents(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	events, err := h.store.ListTicketEvents(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(events) == 0 {
		h.fail(w, r, store.ErrTicketNotFound)
		return
	}
	resp := ticketEventsResponse{TicketID: id, Events: events, ChainValid: true}
	if broken := store.VerifyChain(events); broken > 0 {
		resp.ChainValid = false
		resp.BrokenAt = &broken
	}
	writeJSON(w, http.StatusOK, resp)
}
