package models

import "time"

type StaffRequest struct {
	ID          string     `json:"id"`
	FullName    string     `json:"full_name"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	Department  string     `json:"department"`
	Notes       string     `json:"notes"`
	Status      string     `json:"status"`
	CreatedDate time.Time  `json:"created_date"`
	DecidedBy   *string    `json:"decided_by,omitempty"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
}

const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)
