package models

import "time"

type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	FullName    string    `json:"full_name"`
	Role        string    `json:"role"`
	Department  string    `json:"department"`
	Phone       string    `json:"phone"`
	CreatedDate time.Time `json:"created_date"`
}

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
	RoleUser  = "user"
)

// Session is the authenticated caller. It is passed explicitly from the HTTP
// layer down to whatever needs to know who is acting.
type Session struct {
	ID         string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	Department string    `json:"department"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (s Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}

func (s Session) IsStaff() bool {
	return s.Role == RoleStaff || s.Role == RoleAdmin
}
