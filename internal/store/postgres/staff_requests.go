package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"qms/campus-queue/internal/models"
	"qms/campus-queue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const staffRequestColumns = "id, full_name, email, phone, department, notes, status, created_date, decided_by, decided_at"

func scanStaffRequest(row pgx.Row) (models.StaffRequest, error) {
	var r models.StaffRequest
	var decidedBy sql.NullString
	var decidedAt sql.NullTime
	if err := row.Scan(&r.ID, &r.FullName, &r.Email, &r.Phone, &r.Department, &r.Notes, &r.Status, &r.CreatedDate, &decidedBy, &decidedAt); err != nil {
		return models.StaffRequest{}, err
	}
	r.DecidedBy = nullStringPtr(decidedBy)
	r.DecidedAt = nullTimePtr(decidedAt)
	return r, nil
}

func (s *Store) ListStaffRequests(ctx context.Context, q store.Query) ([]models.StaffRequest, error) {
	query, args, err := buildSelect("SELECT "+staffRequestColumns+" FROM staff_requests", q, store.StaffRequestColumns, "-created_date")
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := []models.StaffRequest{}
	for rows.Next() {
		r, err := scanStaffRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func (s *Store) GetStaffRequest(ctx context.Context, id string) (models.StaffRequest, error) {
	r, err := scanStaffRequest(s.pool.QueryRow(ctx, "SELECT "+staffRequestColumns+" FROM staff_requests WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.StaffRequest{}, store.ErrStaffRequestNotFound
		}
		return models.StaffRequest{}, err
	}
	return r, nil
}

func (s *Store) CreateStaffRequest(ctx context.Context, input store.StaffRequestInput) (models.StaffRequest, error) {
	return scanStaffRequest(s.pool.QueryRow(ctx, `
		INSERT INTO staff_requests (id, full_name, email, phone, department, notes, status, created_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+staffRequestColumns,
		uuid.NewString(), input.FullName, strings.TrimSpace(input.Email), input.Phone, input.Department, input.Notes,
		models.RequestPending, time.Now().UTC()))
}

func (s *Store) UpdateStaffRequest(ctx context.Context, id string, patch store.StaffRequestPatch) (models.StaffRequest, error) {
	var set setClause
	if patch.FullName != nil {
		set.add("full_name", *patch.FullName)
	}
	if patch.Phone != nil {
		set.add("phone", *patch.Phone)
	}
	if patch.Department != nil {
		set.add("department", *patch.Department)
	}
	if patch.Notes != nil {
		set.add("notes", *patch.Notes)
	}
	if set.empty() {
		return s.GetStaffRequest(ctx, id)
	}
	query, args := set.update("staff_requests", id, staffRequestColumns)
	r, err := scanStaffRequest(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.StaffRequest{}, store.ErrStaffRequestNotFound
		}
		return models.StaffRequest{}, err
	}
	return r, nil
}

// DecideStaffRequest moves a pending request to approved or rejected. A
// request that was already decided is reported as not pending.
func (s *Store) DecideStaffRequest(ctx context.Context, id, status, decidedBy string) (models.StaffRequest, error) {
	if status != models.RequestApproved && status != models.RequestRejected {
		return models.StaffRequest{}, store.ErrStaffRequestNotPending
	}
	r, err := scanStaffRequest(s.pool.QueryRow(ctx, `
		UPDATE staff_requests
		SET status = $2, decided_by = $3, decided_at = NOW()
		WHERE id = $1 AND status = $4
		RETURNING `+staffRequestColumns,
		id, status, nullIfEmpty(decidedBy), models.RequestPending))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.StaffRequest{}, err
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM staff_requests WHERE id = $1
		)
	`, id).Scan(&exists); err != nil {
		return models.StaffRequest{}, err
	}
	if !exists {
		return models.StaffRequest{}, store.ErrStaffRequestNotFound
	}
	return models.StaffRequest{}, store.ErrStaffRequestNotPending
}

// FindApprovedStaffRequest matches email case-insensitively and prefers the
// most recently decided request.
func (s *Store) FindApprovedStaffRequest(ctx context.Context, email string) (models.StaffRequest, bool, error) {
	r, err := scanStaffRequest(s.pool.QueryRow(ctx, `
		SELECT `+staffRequestColumns+`
		FROM staff_requests
		WHERE lower(email) = lower($1) AND status = $2
		ORDER BY decided_at DESC NULLS LAST, created_date DESC
		LIMIT 1
	`, strings.TrimSpace(email), models.RequestApproved))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.StaffRequest{}, false, nil
		}
		return models.StaffRequest{}, false, err
	}
	return r, true, nil
}
