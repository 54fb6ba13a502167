package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"qms/campus-queue/internal/models"
)

const (
	EventTicketCreated   = "ticket.created"
	EventTicketStarted   = "ticket.started"
	EventTicketCompleted = "ticket.completed"
	EventTicketCancelled = "ticket.cancelled"
	EventTicketUpdated   = "ticket.updated"
)

// EventForAction names the outbox event written when action is applied.
func EventForAction(action string) string {
	switch action {
	case ActionStart:
		return EventTicketStarted
	case ActionComplete:
		return EventTicketCompleted
	case ActionCancel:
		return EventTicketCancelled
	default:
		return EventTicketUpdated
	}
}

// TicketEvent is one link of a ticket's tamper-evident history. Each hash
// covers the previous hash, so editing any stored event breaks the chain.
type TicketEvent struct {
	TicketID  string          `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// TicketEventPayload is the body stored with every ticket event and outbox event.
type TicketEventPayload struct {
	TicketID       string     `json:"ticket_id"`
	TicketNumber   string     `json:"ticket_number"`
	StudentID      string     `json:"student_id"`
	DepartmentID   string     `json:"department_id"`
	DepartmentName string     `json:"department_name"`
	Status         string     `json:"status"`
	FromStatus     string     `json:"from_status,omitempty"`
	QueuePosition  int        `json:"queue_position,omitempty"`
	CreatedDate    *time.Time `json:"created_date,omitempty"`
	ServedAt       *time.Time `json:"served_at,omitempty"`
	ServedBy       *string    `json:"served_by,omitempty"`
}

func PayloadFromTicket(ticket models.QueueTicket, fromStatus string) TicketEventPayload {
	created := ticket.CreatedDate
	return TicketEventPayload{
		TicketID:       ticket.ID,
		TicketNumber:   ticket.TicketNumber,
		StudentID:      ticket.StudentID,
		DepartmentID:   ticket.DepartmentID,
		DepartmentName: ticket.DepartmentName,
		Status:         ticket.Status,
		FromStatus:     fromStatus,
		QueuePosition:  ticket.QueuePosition,
		CreatedDate:    &created,
		ServedAt:       ticket.ServedAt,
		ServedBy:       ticket.ServedBy,
	}
}

func ComputeTicketEventHash(prevHash, ticketID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyChain returns the sequence number of the first event whose hash does
// not match, or 0 when the whole chain is intact.
func VerifyChain(events []TicketEvent) int {
	prev := ""
	for _, event := range events {
		if event.PrevHash != prev {
			return event.TicketSeq
		}
		if ComputeTicketEventHash(event.PrevHash, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq) != event.Hash {
			return event.TicketSeq
		}
		prev = event.Hash
	}
	return 0
}

// RehydrateTicket replays events in order and returns the resulting ticket.
func RehydrateTicket(events []TicketEvent) (models.QueueTicket, error) {
	var ticket models.QueueTicket
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload TicketEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.QueueTicket{}, err
		}
		if payload.TicketID != "" {
			ticket.ID = payload.TicketID
		}
		if payload.TicketNumber != "" {
			ticket.TicketNumber = payload.TicketNumber
		}
		if payload.StudentID != "" {
			ticket.StudentID = payload.StudentID
		}
		if payload.DepartmentID != "" {
			ticket.DepartmentID = payload.DepartmentID
		}
		if payload.DepartmentName != "" {
			ticket.DepartmentName = payload.DepartmentName
		}
		if payload.Status != "" {
			ticket.Status = payload.Status
		}
		if payload.QueuePosition != 0 {
			ticket.QueuePosition = payload.QueuePosition
		}
		if payload.CreatedDate != nil {
			ticket.CreatedDate = *payload.CreatedDate
		}
		if payload.ServedAt != nil {
			ticket.ServedAt = payload.ServedAt
		}
		if payload.ServedBy != nil {
			ticket.ServedBy = payload.ServedBy
		}
	}
	return ticket, nil
}
