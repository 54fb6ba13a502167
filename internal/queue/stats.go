package queue

import "qms/campus-queue/internal/models"

// Stats summarises one department's queue. Active is waiting plus in
// progress, and it is the only queue length used for estimates.
type Stats struct {
	DepartmentID               string `json:"department_id"`
	DepartmentName             string `json:"department_name"`
	Waiting                    int    `json:"waiting"`
	InProgress                 int    `json:"in_progress"`
	Active                     int    `json:"active"`
	AverageServiceTime         int    `json:"average_service_time"`
	EstimatedWaitForNewArrival int    `json:"estimated_wait_for_new_arrival"`
}

func DepartmentStats(tickets []models.QueueTicket, dept models.Department) Stats {
	stats := Stats{
		DepartmentID:       dept.ID,
		DepartmentName:     dept.Name,
		AverageServiceTime: ServiceMinutes(dept),
	}
	for _, ticket := range tickets {
		if ticket.DepartmentID != dept.ID {
			continue
		}
		switch ticket.Status {
		case models.StatusWaiting:
			stats.Waiting++
		case models.StatusInProgress:
			stats.InProgress++
		}
	}
	stats.Active = stats.Waiting + stats.InProgress
	stats.EstimatedWaitForNewArrival = stats.Active * stats.AverageServiceTime
	return stats
}

// AllDepartmentStats computes DepartmentStats for every department, in the
// order given.
func AllDepartmentStats(tickets []models.QueueTicket, departments []models.Department) []Stats {
	out := make([]Stats, 0, len(departments))
	for _, dept := range departments {
		out = append(out, DepartmentStats(tickets, dept))
	}
	return out
}
