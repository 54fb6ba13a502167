package models

import "time"

type Department struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description"`
	AverageServiceTime int       `json:"average_service_time"`
	Color              string    `json:"color"`
	IsActive           bool      `json:"is_active"`
	CreatedDate        time.Time `json:"created_date"`
}

const (
	DefaultServiceMinutes  = 15
	DefaultDepartmentColor = "blue"
)
