// Package queue holds the ticket assignment and wait estimation rules. Every
// function is pure: callers fetch the snapshot, pass it in and persist the
// result themselves.
package queue

import (
	"fmt"
	"strings"
	"time"

	"qms/campus-queue/internal/models"
)

const (
	prefixLength    = 3
	ticketNumberPad = 3
)

// Assignment is the number, position and estimate a new ticket receives at
// the moment it joins. None of it is recomputed afterwards.
type Assignment struct {
	TicketNumber      string `json:"ticket_number"`
	QueuePosition     int    `json:"queue_position"`
	EstimatedWaitTime int    `json:"estimated_wait_time"`
}

// ComputeTicketAssignment derives the assignment for a new ticket in dept.
// The numeric suffix counts every ticket the department issued on now's
// calendar day regardless of status; the position counts only active tickets.
func ComputeTicketAssignment(tickets []models.QueueTicket, dept models.Department, now time.Time) Assignment {
	todayCount := 0
	activeCount := 0
	for _, ticket := range tickets {
		if ticket.DepartmentID != dept.ID {
			continue
		}
		if SameDay(ticket.CreatedDate, now) {
			todayCount++
		}
		if models.IsActiveStatus(ticket.Status) {
			activeCount++
		}
	}

	position := activeCount + 1
	return Assignment{
		TicketNumber:      FormatTicketNumber(dept.Name, todayCount+1),
		QueuePosition:     position,
		EstimatedWaitTime: position * ServiceMinutes(dept),
	}
}

// ServiceMinutes returns the department's average service time, falling back
// to the default when it is unset or not positive.
func ServiceMinutes(dept models.Department) int {
	if dept.AverageServiceTime <= 0 {
		return models.DefaultServiceMinutes
	}
	return dept.AverageServiceTime
}

// TicketPrefix is the first three characters of the department name,
// uppercased. Shorter names yield a shorter prefix.
func TicketPrefix(name string) string {
	runes := []rune(name)
	if len(runes) > prefixLength {
		runes = runes[:prefixLength]
	}
	return strings.ToUpper(string(runes))
}

// FormatTicketNumber renders PREFIX-NNN. Sequences of 1000 or more widen past
// the padding.
func FormatTicketNumber(departmentName string, seq int) string {
	return fmt.Sprintf("%s-%0*d", TicketPrefix(departmentName), ticketNumberPad, seq)
}

// SameDay reports whether t falls on the calendar day of ref, evaluated in
// ref's location.
func SameDay(t, ref time.Time) bool {
	y1, m1, d1 := t.In(ref.Location()).Date()
	y2, m2, d2 := ref.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// StartOfDay returns midnight of ref's calendar day in ref's location.
func StartOfDay(ref time.Time) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ref.Location())
}
