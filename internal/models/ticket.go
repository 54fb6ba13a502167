package models

import "time"

type QueueTicket struct {
	ID                string     `json:"id"`
	StudentID         string     `json:"student_id"`
	StudentName       string     `json:"student_name"`
	DepartmentID      string     `json:"department_id"`
	DepartmentName    string     `json:"department_name"`
	TicketNumber      string     `json:"ticket_number"`
	Status            string     `json:"status"`
	QueuePosition     int        `json:"queue_position"`
	EstimatedWaitTime int        `json:"estimated_wait_time"`
	CreatedDate       time.Time  `json:"created_date"`
	ServedAt          *time.Time `json:"served_at,omitempty"`
	ServedBy          *string    `json:"served_by,omitempty"`
}

const (
	StatusWaiting    = "waiting"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// TicketStatuses lists every ticket status in lifecycle order.
var TicketStatuses = []string{StatusWaiting, StatusInProgress, StatusCompleted, StatusCancelled}

// IsActiveStatus reports whether a ticket in this status still occupies a place in the queue.
func IsActiveStatus(status string) bool {
	return status == StatusWaiting || status == StatusInProgress
}

func IsTicketStatus(status string) bool {
	for _, s := range TicketStatuses {
		if s == status {
			return true
		}
	}
	return false
}
