package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"qms/campus-queue/internal/analytics"
	"qms/campus-queue/internal/export"
	"qms/campus-queue/internal/models"
	"qms/campus-queue/internal/store"
)

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	departments, tickets, err := h.reportInputs(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	users, err := h.store.ListUsers(r.Context(), store.List(""))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	requests, err := h.store.ListStaffRequests(r.Context(), store.Filter(map[string]interface{}{"status": models.RequestPending}, ""))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics.BuildDashboard(departments, tickets, users, requests, h.clock()))
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	report, err := h.buildReport(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	departments, tickets, err := h.reportInputs(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics.SystemStats(tickets, departments))
}

// handleExport renders the analytics report. format=csv needs a section;
// format=pdf renders every section.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "pdf" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_format", "format must be csv or pdf")
		return
	}

	report, err := h.buildReport(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	datasets := export.ReportDatasets(report)
	stamp := report.GeneratedAt.Format("20060102")

	if format == "pdf" {
		body, err := export.PDF("Queue analytics report", datasets)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeAttachment(w, "application/pdf", fmt.Sprintf("queue-report-%s.pdf", stamp), body)
		return
	}

	section := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("section")))
	if section == "" {
		section = export.SectionSummary
	}
	data, ok := export.Section(datasets, section)
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_section", "unknown report section")
		return
	}
	body, err := export.CSV(data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeAttachment(w, "text/csv", fmt.Sprintf("queue-report-%s-%s.csv", section, stamp), body)
}

func (h *Handler) buildReport(r *http.Request) (analytics.Report, error) {
	departments, tickets, err := h.reportInputs(r)
	if err != nil {
		return analytics.Report{}, err
	}
	return analytics.BuildReport(tickets, departments, h.clock()), nil
}

func (h *Handler) reportInputs(r *http.Request) ([]models.Department, []models.QueueTicket, error) {
	departments, err := h.store.ListDepartments(r.Context(), store.List("name"))
	if err != nil {
		return nil, nil, err
	}
	tickets, err := h.store.ListTickets(r.Context(), store.List("-created_date"))
	if err != nil {
		return nil, nil, err
	}
	return departments, tickets, nil
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
