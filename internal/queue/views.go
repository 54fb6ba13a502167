package queue

import (
	"time"

	"qms/campus-queue/internal/models"
)

// StaffView is what the staff dashboard renders for one department.
type StaffView struct {
	Department models.Department `json:"department"`
	Buckets    Buckets           `json:"buckets"`
	Stats      Stats             `json:"stats"`
	// Serving is the oldest in-progress ticket, if any.
	Serving     *models.QueueTicket `json:"serving,omitempty"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// BuildStaffView expects tickets ordered newest first, as the staff
// dashboard requests them.
func BuildStaffView(tickets []models.QueueTicket, dept models.Department, now time.Time) StaffView {
	buckets := BucketTickets(tickets, now)
	view := StaffView{
		Department:  dept,
		Buckets:     buckets,
		Stats:       DepartmentStats(tickets, dept),
		GeneratedAt: now,
	}
	if n := len(buckets.InProgress); n > 0 {
		serving := buckets.InProgress[n-1]
		view.Serving = &serving
	}
	return view
}

// StudentView is what a student sees for their own ticket.
type StudentView struct {
	Ticket   models.QueueTicket `json:"ticket"`
	Stats    Stats              `json:"stats"`
	YourTurn bool               `json:"your_turn"`
}

func BuildStudentView(ticket models.QueueTicket, tickets []models.QueueTicket, dept models.Department) StudentView {
	return StudentView{
		Ticket:   ticket,
		Stats:    DepartmentStats(tickets, dept),
		YourTurn: ticket.Status == models.StatusInProgress,
	}
}

// TurnStarted reports whether a ticket moved from waiting to in progress
// between two observations.
func TurnStarted(before, after models.QueueTicket) bool {
	return before.Status == models.StatusWaiting && after.Status == models.StatusInProgress
}
