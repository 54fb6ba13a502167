package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"qms/campus-queue/internal/models"
	"qms/campus-queue/internal/queue"
	"qms/campus-queue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const ticketColumns = "id, student_id, student_name, department_id, department_name, ticket_number, status, queue_position, estimated_wait_time, created_date, served_at, served_by"

func scanTicket(row pgx.Row) (models.QueueTicket, error) {
	var t models.QueueTicket
	var servedAt sql.NullTime
	var servedBy sql.NullString
	if err := row.Scan(&t.ID, &t.StudentID, &t.StudentName, &t.DepartmentID, &t.DepartmentName, &t.TicketNumber,
		&t.Status, &t.QueuePosition, &t.EstimatedWaitTime, &t.CreatedDate, &servedAt, &servedBy); err != nil {
		return models.QueueTicket{}, err
	}
	t.ServedAt = nullTimePtr(servedAt)
	t.ServedBy = nullStringPtr(servedBy)
	return t, nil
}

func collectTickets(rows pgx.Rows) ([]models.QueueTicket, error) {
	defer rows.Close()
	tickets := []models.QueueTicket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *Store) ListTickets(ctx context.Context, q store.Query) ([]models.QueueTicket, error) {
	query, args, err := buildSelect("SELECT "+ticketColumns+" FROM queue_tickets", q, store.TicketColumns, "-created_date")
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (s *Store) GetTicket(ctx context.Context, id string) (models.QueueTicket, error) {
	return getTicket(ctx, s.pool, id, false)
}

func getTicket(ctx context.Context, q queryer, id string, forUpdate bool) (models.QueueTicket, error) {
	query := "SELECT " + ticketColumns + " FROM queue_tickets WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	t, err := scanTicket(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueTicket{}, store.ErrTicketNotFound
		}
		return models.QueueTicket{}, err
	}
	return t, nil
}

// CreateTicket locks the department row, reads the department's snapshot and
// computes the assignment inside one transaction, so concurrent joins to the
// same department are serialized and never share a number or position.
func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (ticket models.QueueTicket, err error) {
	now := input.Now
	if now.IsZero() {
		now = s.now()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueTicket{}, err
	}
	defer func() { rollback(ctx, tx, err) }()

	dept, err := getDepartment(ctx, tx, input.DepartmentID, true)
	if err != nil {
		return models.QueueTicket{}, err
	}
	if !dept.IsActive {
		err = store.ErrDepartmentInactive
		return models.QueueTicket{}, err
	}

	// One active ticket per student, across departments.
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "student:"+input.StudentID); err != nil {
		return models.QueueTicket{}, err
	}
	if _, found, lookupErr := activeTicketForStudent(ctx, tx, input.StudentID); lookupErr != nil {
		err = lookupErr
		return models.QueueTicket{}, err
	} else if found {
		err = store.ErrActiveTicketExists
		return models.QueueTicket{}, err
	}

	snapshot, err := departmentSnapshot(ctx, tx, dept.ID, queue.StartOfDay(now))
	if err != nil {
		return models.QueueTicket{}, err
	}
	assignment := queue.ComputeTicketAssignment(snapshot, dept, now)

	y, m, d := now.Date()
	serviceDay := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	ticket, err = scanTicket(tx.QueryRow(ctx, `
		INSERT INTO queue_tickets (
			id, student_id, student_name, department_id, department_name, ticket_number, service_day,
			status, queue_position, estimated_wait_time, created_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+ticketColumns,
		uuid.NewString(), input.StudentID, input.StudentName, dept.ID, dept.Name, assignment.TicketNumber, serviceDay,
		models.StatusWaiting, assignment.QueuePosition, assignment.EstimatedWaitTime, now.UTC()))
	if err != nil {
		return models.QueueTicket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, store.EventTicketCreated, store.PayloadFromTicket(ticket, "")); err != nil {
		return models.QueueTicket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.QueueTicket{}, err
	}

	s.logger.Debug("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("ticket_number", ticket.TicketNumber),
		zap.Int("queue_position", ticket.QueuePosition))
	return ticket, nil
}

// departmentSnapshot returns the department's tickets that matter for a new
// assignment: everything created since dayStart plus anything still active.
func departmentSnapshot(ctx context.Context, q queryer, departmentID string, dayStart time.Time) ([]models.QueueTicket, error) {
	rows, err := q.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE department_id = $1
		  AND (created_date >= $2 OR status IN ($3, $4))
	`, departmentID, dayStart, models.StatusWaiting, models.StatusInProgress)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (s *Store) ActiveTicketForStudent(ctx context.Context, studentID string) (models.QueueTicket, bool, error) {
	return activeTicketForStudent(ctx, s.pool, studentID)
}

func activeTicketForStudent(ctx context.Context, q queryer, studentID string) (models.QueueTicket, bool, error) {
	t, err := scanTicket(q.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE student_id = $1 AND status IN ($2, $3)
		ORDER BY created_date DESC
		LIMIT 1
	`, studentID, models.StatusWaiting, models.StatusInProgress))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueTicket{}, false, nil
		}
		return models.QueueTicket{}, false, err
	}
	return t, true, nil
}

func (s *Store) TransitionTicket(ctx context.Context, input store.TransitionInput) (models.QueueTicket, error) {
	toStatus, ok := store.TargetStatus(input.Action)
	if !ok {
		return models.QueueTicket{}, store.ErrInvalidState
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	var set setClause
	set.add("status", toStatus)
	switch input.Action {
	case store.ActionStart:
		set.add("served_by", nullIfEmpty(input.Actor))
	case store.ActionComplete:
		set.add("served_at", occurredAt.UTC())
	}
	return s.applyTicketChange(ctx, input.TicketID, ticketChange{studentID: input.StudentID, action: input.Action}, set)
}

// UpdateTicket applies a partial update. A status change is only accepted when
// it is a legal transition from the current status.
func (s *Store) UpdateTicket(ctx context.Context, id string, patch store.TicketPatch) (models.QueueTicket, error) {
	var set setClause
	if patch.StudentName != nil {
		set.add("student_name", *patch.StudentName)
	}
	if patch.ServedBy != nil {
		set.add("served_by", nullIfEmpty(*patch.ServedBy))
	}
	if patch.ServedAt != nil {
		set.add("served_at", patch.ServedAt.UTC())
	}
	var change ticketChange
	if patch.Status != nil {
		set.add("status", *patch.Status)
		change.targetStatus = *patch.Status
	}
	if set.empty() {
		return s.GetTicket(ctx, id)
	}
	return s.applyTicketChange(ctx, id, change, set)
}

// ticketChange describes who is changing a ticket and how its status moves.
// Either action or targetStatus is set for a status change; both empty means
// a plain field update.
type ticketChange struct {
	studentID    string
	action       string
	targetStatus string
}

// applyTicketChange locks the ticket, checks ownership and the transition,
// then updates guarded on the status it read.
func (s *Store) applyTicketChange(ctx context.Context, ticketID string, change ticketChange, set setClause) (ticket models.QueueTicket, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueTicket{}, err
	}
	defer func() { rollback(ctx, tx, err) }()

	current, err := getTicket(ctx, tx, ticketID, true)
	if err != nil {
		return models.QueueTicket{}, err
	}
	if change.studentID != "" && current.StudentID != change.studentID {
		err = store.ErrAccessDenied
		return models.QueueTicket{}, err
	}

	action := change.action
	switch {
	case change.targetStatus != "" && change.targetStatus != current.Status:
		resolved, ok := store.ActionFor(current.Status, change.targetStatus)
		if !ok {
			err = store.ErrInvalidState
			return models.QueueTicket{}, err
		}
		action = resolved
	case action != "" && !store.ValidTransition(action, current.Status):
		err = store.ErrInvalidState
		return models.QueueTicket{}, err
	}

	query, args := set.update("queue_tickets", ticketID, ticketColumns, "status", current.Status)
	ticket, err = scanTicket(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrInvalidState
		}
		return models.QueueTicket{}, err
	}

	eventType := store.EventForAction(action)
	if err = insertOutboxEvent(ctx, tx, eventType, store.PayloadFromTicket(ticket, current.Status)); err != nil {
		return models.QueueTicket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.QueueTicket{}, err
	}
	return ticket, nil
}
