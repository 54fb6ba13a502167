package store

import (
	"context"
	"encoding/json"
	"time"

	"qms/campus-queue/internal/models"
)

type DepartmentInput struct {
	Name               string
	Description        string
	AverageServiceTime int
	Color              string
	IsActive           *bool
}

// DepartmentPatch holds a partial update; nil fields are left unchanged.
type DepartmentPatch struct {
	Name               *string
	Description        *string
	AverageServiceTime *int
	Color              *string
	IsActive           *bool
}

type CreateTicketInput struct {
	StudentID    string
	StudentName  string
	DepartmentID string
	// Now fixes both the creation timestamp and the calendar day used for
	// numbering; its location decides where the day boundary falls.
	Now time.Time
}

type TicketPatch struct {
	StudentName *string
	Status      *string
	ServedBy    *string
	ServedAt    *time.Time
}

type TransitionInput struct {
	TicketID string
	Action   string
	// Actor is the staff email recorded as served_by on start.
	Actor string
	// StudentID, when set, restricts the transition to that student's ticket.
	StudentID  string
	OccurredAt time.Time
}

type StaffRequestInput struct {
	FullName   string
	Email      string
	Phone      string
	Department string
	Notes      string
}

type StaffRequestPatch struct {
	FullName   *string
	Phone      *string
	Department *string
	Notes      *string
}

type CreateUserInput struct {
	Email        string
	FullName     string
	Role         string
	Department   string
	Phone        string
	PasswordHash string
}

type UserPatch struct {
	FullName   *string
	Department *string
	Phone      *string
	Role       *string
}

type DepartmentStore interface {
	ListDepartments(ctx context.Context, q Query) ([]models.Department, error)
	GetDepartment(ctx context.Context, id string) (models.Department, error)
	CreateDepartment(ctx context.Context, input DepartmentInput) (models.Department, error)
	UpdateDepartment(ctx context.Context, id string, patch DepartmentPatch) (models.Department, error)
	DeleteDepartment(ctx context.Context, id string) error
}

type TicketStore interface {
	ListTickets(ctx context.Context, q Query) ([]models.QueueTicket, error)
	GetTicket(ctx context.Context, id string) (models.QueueTicket, error)
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.QueueTicket, error)
	UpdateTicket(ctx context.Context, id string, patch TicketPatch) (models.QueueTicket, error)
	TransitionTicket(ctx context.Context, input TransitionInput) (models.QueueTicket, error)
	ActiveTicketForStudent(ctx context.Context, studentID string) (models.QueueTicket, bool, error)
	ListTicketEvents(ctx context.Context, ticketID string) ([]TicketEvent, error)
}

type StaffRequestStore interface {
	ListStaffRequests(ctx context.Context, q Query) ([]models.StaffRequest, error)
	GetStaffRequest(ctx context.Context, id string) (models.StaffRequest, error)
	CreateStaffRequest(ctx context.Context, input StaffRequestInput) (models.StaffRequest, error)
	UpdateStaffRequest(ctx context.Context, id string, patch StaffRequestPatch) (models.StaffRequest, error)
	DecideStaffRequest(ctx context.Context, id, status, decidedBy string) (models.StaffRequest, error)
	FindApprovedStaffRequest(ctx context.Context, email string) (models.StaffRequest, bool, error)
}

type UserStore interface {
	ListUsers(ctx context.Context, q Query) ([]models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	CreateUser(ctx context.Context, input CreateUserInput) (models.User, error)
	UpdateUser(ctx context.Context, id string, patch UserPatch) (models.User, error)
	GetCredentials(ctx context.Context, email string) (models.User, string, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, userID string, expiresAt time.Time) (models.Session, error)
	GetSession(ctx context.Context, sessionID string) (models.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// OutboxStore is read by background consumers that react to ticket changes.
type OutboxStore interface {
	ListOutboxEvents(ctx context.Context, after OutboxOffset, limit int) ([]OutboxEvent, error)
	GetOffset(ctx context.Context, consumer string) (OutboxOffset, error)
	UpdateOffset(ctx context.Context, consumer string, offset OutboxOffset) error
}

// Store is the full data facade.
type Store interface {
	DepartmentStore
	TicketStore
	StaffRequestStore
	UserStore
	SessionStore
	OutboxStore
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// OutboxOffset is the position of the last consumed outbox event.
type OutboxOffset struct {
	LastEventTime time.Time
	LastEventID   string
}

const zeroEventID = "00000000-0000-0000-0000-000000000000"

// Normalized fills a zero offset so it sorts before every stored event.
func (o OutboxOffset) Normalized() OutboxOffset {
	if o.LastEventTime.IsZero() {
		o.LastEventTime = time.Unix(0, 0).UTC()
	}
	if o.LastEventID == "" {
		o.LastEventID = zeroEventID
	}
	return o
}
