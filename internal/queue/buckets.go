package queue

import (
	"time"

	"qms/campus-queue/internal/models"
)

// Buckets partitions a ticket snapshot by status. Waiting, InProgress,
// Completed and Cancelled are disjoint and together hold every ticket with a
// known status. CompletedToday is the subset of Completed created on the
// reference day. Input order is preserved inside each bucket.
type Buckets struct {
	Waiting        []models.QueueTicket `json:"waiting"`
	InProgress     []models.QueueTicket `json:"in_progress"`
	Completed      []models.QueueTicket `json:"completed"`
	Cancelled      []models.QueueTicket `json:"cancelled"`
	CompletedToday []models.QueueTicket `json:"completed_today"`
}

func BucketTickets(tickets []models.QueueTicket, now time.Time) Buckets {
	b := Buckets{
		Waiting:        []models.QueueTicket{},
		InProgress:     []models.QueueTicket{},
		Completed:      []models.QueueTicket{},
		Cancelled:      []models.QueueTicket{},
		CompletedToday: []models.QueueTicket{},
	}
	for _, ticket := range tickets {
		switch ticket.Status {
		case models.StatusWaiting:
			b.Waiting = append(b.Waiting, ticket)
		case models.StatusInProgress:
			b.InProgress = append(b.InProgress, ticket)
		case models.StatusCompleted:
			b.Completed = append(b.Completed, ticket)
			if SameDay(ticket.CreatedDate, now) {
				b.CompletedToday = append(b.CompletedToday, ticket)
			}
		case models.StatusCancelled:
			b.Cancelled = append(b.Cancelled, ticket)
		}
	}
	return b
}

// Len is the number of tickets across the four status buckets.
func (b Buckets) Len() int {
	return len(b.Waiting) + len(b.InProgress) + len(b.Completed) + len(b.Cancelled)
}

// History is every ticket no longer in the queue.
func (b Buckets) History() []models.QueueTicket {
	out := make([]models.QueueTicket, 0, len(b.Completed)+len(b.Cancelled))
	out = append(out, b.Completed...)
	return append(out, b.Cancelled...)
}
