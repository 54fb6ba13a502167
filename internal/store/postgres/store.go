package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"qms/campus-queue/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

type Store struct {
	pool     *pgxpool.Pool
	location *time.Location
	logger   *zap.Logger
}

type Options struct {
	// Location decides where the calendar day used for ticket numbering
	// starts and ends.
	Location *time.Location
	Logger   *zap.Logger
}

var _ store.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	loc := options.Location
	if loc == nil {
		loc = time.Local
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, location: loc, logger: logger}
}

func (s *Store) now() time.Time {
	return time.Now().In(s.location)
}

// queryer is satisfied by both the pool and a transaction.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// buildSelect appends the predicates and ordering of q to base. Column names
// come from the whitelist in cols, so they are safe to interpolate.
func buildSelect(base string, q store.Query, cols store.Columns, defaultOrder string) (string, []interface{}, error) {
	q, err := q.Normalize(cols)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString(base)
	args := make([]interface{}, 0, len(q.Where)+1)
	for i, column := range q.WhereColumns() {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		args = append(args, q.Where[column])
		fmt.Fprintf(&sb, "%s = $%d", column, len(args))
	}

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = defaultOrder
	}
	if orderBy != "" {
		column, desc := store.ParseOrderBy(orderBy)
		direction := "ASC"
		if desc {
			direction = "DESC"
		}
		fmt.Fprintf(&sb, " ORDER BY %s %s", column, direction)
		if column != "id" {
			fmt.Fprintf(&sb, ", id %s", direction)
		}
	}

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	return sb.String(), args, nil
}

// setClause accumulates the SET part of a partial update.
type setClause struct {
	columns []string
	args    []interface{}
}

func (c *setClause) add(column string, value interface{}) {
	c.args = append(c.args, value)
	c.columns = append(c.columns, fmt.Sprintf("%s = $%d", column, len(c.args)))
}

func (c *setClause) empty() bool {
	return len(c.columns) == 0
}

// update renders "UPDATE table SET ... WHERE id = $n" followed by extra
// conditions and returning. Extra conditions reference placeholders after id.
func (c *setClause) update(table, id, returning string, extra ...interface{}) (string, []interface{}) {
	args := append(append([]interface{}(nil), c.args...), id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", table, strings.Join(c.columns, ", "), len(args))
	for i := 0; i+1 < len(extra); i += 2 {
		args = append(args, extra[i+1])
		query += fmt.Sprintf(" AND %s = $%d", extra[i], len(args))
	}
	if returning != "" {
		query += " RETURNING " + returning
	}
	return query, args
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

func rollback(ctx context.Context, tx pgx.Tx, err error) {
	if err != nil {
		_ = tx.Rollback(ctx)
	}
}
