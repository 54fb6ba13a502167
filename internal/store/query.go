package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ColumnKind int

const (
	KindText ColumnKind = iota
	KindInt
	KindBool
	KindTime
	KindUUID
)

// Columns is the set of columns a collection exposes for filtering and ordering.
type Columns map[string]ColumnKind

var (
	DepartmentColumns = Columns{
		"id":                   KindUUID,
		"name":                 KindText,
		"description":          KindText,
		"average_service_time": KindInt,
		"color":                KindText,
		"is_active":            KindBool,
		"created_date":         KindTime,
	}
	TicketColumns = Columns{
		"id":                  KindUUID,
		"student_id":          KindText,
		"student_name":        KindText,
		"department_id":       KindUUID,
		"department_name":     KindText,
		"ticket_number":       KindText,
		"status":              KindText,
		"queue_position":      KindInt,
		"estimated_wait_time": KindInt,
		"created_date":        KindTime,
		"served_at":           KindTime,
		"served_by":           KindText,
	}
	StaffRequestColumns = Columns{
		"id":           KindUUID,
		"full_name":    KindText,
		"email":        KindText,
		"phone":        KindText,
		"department":   KindText,
		"notes":        KindText,
		"status":       KindText,
		"created_date": KindTime,
	}
	UserColumns = Columns{
		"id":           KindUUID,
		"email":        KindText,
		"full_name":    KindText,
		"role":         KindText,
		"department":   KindText,
		"phone":        KindText,
		"created_date": KindTime,
	}
)

// Query is the list/filter contract of the data facade. Where holds
// exact-match predicates; OrderBy is a column name, prefixed with "-" for
// descending order.
type Query struct {
	Where   map[string]interface{}
	OrderBy string
	Limit   int
}

func List(orderBy string) Query {
	return Query{OrderBy: orderBy}
}

func Filter(where map[string]interface{}, orderBy string) Query {
	return Query{Where: where, OrderBy: orderBy}
}

func ParseOrderBy(orderBy string) (string, bool) {
	orderBy = strings.TrimSpace(orderBy)
	if strings.HasPrefix(orderBy, "-") {
		return strings.TrimSpace(orderBy[1:]), true
	}
	return orderBy, false
}

// Normalize checks every referenced column against cols and converts string
// predicate values to the column's type.
func (q Query) Normalize(cols Columns) (Query, error) {
	out := Query{OrderBy: strings.TrimSpace(q.OrderBy), Limit: q.Limit}
	if out.Limit < 0 {
		out.Limit = 0
	}
	if out.OrderBy != "" {
		column, _ := ParseOrderBy(out.OrderBy)
		if _, ok := cols[column]; !ok {
			return Query{}, fmt.Errorf("%w: %s", ErrUnknownColumn, column)
		}
	}
	if len(q.Where) == 0 {
		return out, nil
	}
	out.Where = make(map[string]interface{}, len(q.Where))
	for column, value := range q.Where {
		kind, ok := cols[column]
		if !ok {
			return Query{}, fmt.Errorf("%w: %s", ErrUnknownColumn, column)
		}
		converted, err := convertValue(kind, value)
		if err != nil {
			return Query{}, fmt.Errorf("%w: %s", ErrInvalidValue, column)
		}
		out.Where[column] = converted
	}
	return out, nil
}

// WhereColumns returns the predicate columns in a stable order.
func (q Query) WhereColumns() []string {
	columns := make([]string, 0, len(q.Where))
	for column := range q.Where {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

func convertValue(kind ColumnKind, value interface{}) (interface{}, error) {
	raw, ok := value.(string)
	if !ok {
		return value, nil
	}
	raw = strings.TrimSpace(raw)
	switch kind {
	case KindInt:
		return strconv.Atoi(raw)
	case KindBool:
		return strconv.ParseBool(raw)
	case KindTime:
		return time.Parse(time.RFC3339, raw)
	case KindUUID:
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		return id.String(), nil
	default:
		return raw, nil
	}
}
