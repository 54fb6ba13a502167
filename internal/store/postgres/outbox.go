package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"qms/campus-queue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// outboxLockClass keys the two-int advisory lock space, which is separate
// from the per-ticket hashtext locks.
const outboxLockClass int32 = 7301

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, payload store.TicketEventPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	// Writers queue on one lock held until commit and stamp created_at after
	// acquiring it, so commit order matches the (created_at, event_id) keyset
	// the consumers read by.
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, 0)`, outboxLockClass); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, clock_timestamp())
	`, uuid.NewString(), eventType, payloadJSON)
	if err != nil {
		return err
	}
	return insertTicketEvent(ctx, tx, payload.TicketID, eventType, payloadJSON)
}

func insertTicketEvent(ctx context.Context, tx pgx.Tx, ticketID, eventType string, payload []byte) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ticketID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT ticket_seq, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq DESC
		LIMIT 1
	`, ticketID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}
	// Microsecond precision survives the round trip through timestamptz.
	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	hash := store.ComputeTicketEventHash(prev, ticketID, eventType, payload, createdAt, nextSeq)

	_, err := tx.Exec(ctx, `
		INSERT INTO ticket_events (ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ticketID, nextSeq, eventType, string(payload), createdAt, prev, hash)
	return err
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []store.TicketEvent{}
	for rows.Next() {
		var event store.TicketEvent
		var payload string
		if err := rows.Scan(&event.TicketID, &event.TicketSeq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.Payload = json.RawMessage(payload)
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *Store) ListOutboxEvents(ctx context.Context, after store.OutboxOffset, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	after = after.Normalized()
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, type, payload_json, created_at
		FROM outbox_events
		WHERE (created_at, event_id) > ($1, $2)
		ORDER BY created_at, event_id
		LIMIT $3
	`, after.LastEventTime, after.LastEventID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []store.OutboxEvent{}
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *Store) GetOffset(ctx context.Context, consumer string) (store.OutboxOffset, error) {
	var offset store.OutboxOffset
	err := s.pool.QueryRow(ctx, `
		SELECT last_event_time, last_event_id
		FROM outbox_offsets
		WHERE consumer = $1
	`, consumer).Scan(&offset.LastEventTime, &offset.LastEventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.OutboxOffset{}.Normalized(), nil
		}
		return store.OutboxOffset{}, err
	}
	return offset, nil
}

func (s *Store) UpdateOffset(ctx context.Context, consumer string, offset store.OutboxOffset) error {
	offset = offset.Normalized()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outbox_offsets (consumer, last_event_time, last_event_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer)
		DO UPDATE SET last_event_time = EXCLUDED.last_event_time, last_event_id = EXCLUDED.last_event_id
	`, consumer, offset.LastEventTime, offset.LastEventID)
	return err
}
