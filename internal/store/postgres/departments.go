package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"qms/campus-queue/internal/models"
	"qms/campus-queue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const departmentColumns = "id, name, description, average_service_time, color, is_active, created_date"

func scanDepartment(row pgx.Row) (models.Department, error) {
	var d models.Department
	err := row.Scan(&d.ID, &d.Name, &d.Description, &d.AverageServiceTime, &d.Color, &d.IsActive, &d.CreatedDate)
	return d, err
}

func (s *Store) ListDepartments(ctx context.Context, q store.Query) ([]models.Department, error) {
	query, args, err := buildSelect("SELECT "+departmentColumns+" FROM departments", q, store.DepartmentColumns, "name")
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	departments := []models.Department{}
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		departments = append(departments, d)
	}
	return departments, rows.Err()
}

func (s *Store) GetDepartment(ctx context.Context, id string) (models.Department, error) {
	return getDepartment(ctx, s.pool, id, false)
}

func getDepartment(ctx context.Context, q queryer, id string, forUpdate bool) (models.Department, error) {
	query := "SELECT " + departmentColumns + " FROM departments WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	d, err := scanDepartment(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Department{}, store.ErrDepartmentNotFound
		}
		return models.Department{}, err
	}
	return d, nil
}

func (s *Store) CreateDepartment(ctx context.Context, input store.DepartmentInput) (models.Department, error) {
	minutes := input.AverageServiceTime
	if minutes <= 0 {
		minutes = models.DefaultServiceMinutes
	}
	color := strings.TrimSpace(input.Color)
	if color == "" {
		color = models.DefaultDepartmentColor
	}
	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}

	d, err := scanDepartment(s.pool.QueryRow(ctx, `
		INSERT INTO departments (id, name, description, average_service_time, color, is_active, created_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+departmentColumns,
		uuid.NewString(), input.Name, input.Description, minutes, color, active, time.Now().UTC()))
	if err != nil {
		if isUniqueViolation(err) {
			return models.Department{}, store.ErrDepartmentExists
		}
		return models.Department{}, err
	}
	return d, nil
}

func (s *Store) UpdateDepartment(ctx context.Context, id string, patch store.DepartmentPatch) (models.Department, error) {
	var set setClause
	if patch.Name != nil {
		set.add("name", *patch.Name)
	}
	if patch.Description != nil {
		set.add("description", *patch.Description)
	}
	if patch.AverageServiceTime != nil {
		minutes := *patch.AverageServiceTime
		if minutes <= 0 {
			minutes = models.DefaultServiceMinutes
		}
		set.add("average_service_time", minutes)
	}
	if patch.Color != nil {
		set.add("color", *patch.Color)
	}
	if patch.IsActive != nil {
		set.add("is_active", *patch.IsActive)
	}
	if set.empty() {
		return s.GetDepartment(ctx, id)
	}

	query, args := set.update("departments", id, departmentColumns)
	d, err := scanDepartment(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Department{}, store.ErrDepartmentNotFound
		}
		if isUniqueViolation(err) {
			return models.Department{}, store.ErrDepartmentExists
		}
		return models.Department{}, err
	}
	return d, nil
}

// DeleteDepartment refuses to remove a department that tickets still
// reference, since tickets are never deleted.
func (s *Store) DeleteDepartment(ctx context.Context, id string) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { rollback(ctx, tx, err) }()

	if _, err = getDepartment(ctx, tx, id, true); err != nil {
		return err
	}
	var referenced bool
	if err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM queue_tickets WHERE department_id = $1)`, id).Scan(&referenced); err != nil {
		return err
	}
	if referenced {
		err = store.ErrDepartmentInUse
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM departments WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
