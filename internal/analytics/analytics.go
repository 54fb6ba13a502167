// Package analytics builds the admin rollups over the full ticket history.
package analytics

import (
	"math"
	"time"
	"unicode/utf8"

	"qms/campus-queue/internal/models"
	"qms/campus-queue/internal/queue"
)

const seriesDays = 7

type Dashboard struct {
	Departments     int `json:"departments"`
	TodayTickets    int `json:"today_tickets"`
	Users           int `json:"users"`
	PendingRequests int `json:"pending_requests"`
}

func BuildDashboard(departments []models.Department, tickets []models.QueueTicket, users []models.User, requests []models.StaffRequest, now time.Time) Dashboard {
	d := Dashboard{
		Departments: len(departments),
		Users:       len(users),
	}
	for _, ticket := range tickets {
		if queue.SameDay(ticket.CreatedDate, now) {
			d.TodayTickets++
		}
	}
	for _, req := range requests {
		if req.Status == models.RequestPending {
			d.PendingRequests++
		}
	}
	return d
}

type DayPoint struct {
	Date      string    `json:"date"`
	Day       time.Time `json:"day"`
	Tickets   int       `json:"tickets"`
	Completed int       `json:"completed"`
}

type DepartmentRollup struct {
	DepartmentID string `json:"department_id"`
	Name         string `json:"name"`
	Tickets      int    `json:"tickets"`
	Completed    int    `json:"completed"`
	AvgWait      int    `json:"avg_wait"`
}

type StatusCount struct {
	Status string `json:"status"`
	Label  string `json:"label"`
	Value  int    `json:"value"`
	Color  string `json:"color"`
}

type Report struct {
	GeneratedAt        time.Time          `json:"generated_at"`
	TotalTickets       int                `json:"total_tickets"`
	TodayTickets       int                `json:"today_tickets"`
	Departments        int                `json:"departments"`
	AverageServiceTime int                `json:"average_service_time"`
	Last7Days          []DayPoint         `json:"last_7_days"`
	ByDepartment       []DepartmentRollup `json:"by_department"`
	StatusDistribution []StatusCount      `json:"status_distribution"`
}

var statusLegend = []StatusCount{
	{Status: models.StatusCompleted, Label: "Completed", Color: "#10B981"},
	{Status: models.StatusWaiting, Label: "Waiting", Color: "#3B82F6"},
	{Status: models.StatusInProgress, Label: "In Progress", Color: "#F59E0B"},
	{Status: models.StatusCancelled, Label: "Cancelled", Color: "#EF4444"},
}

// BuildReport summarises every ticket. Day boundaries follow now's location.
func BuildReport(tickets []models.QueueTicket, departments []models.Department, now time.Time) Report {
	r := Report{
		GeneratedAt:        now,
		TotalTickets:       len(tickets),
		Departments:        len(departments),
		AverageServiceTime: MeanServiceTime(departments),
		Last7Days:          make([]DayPoint, seriesDays),
		ByDepartment:       make([]DepartmentRollup, 0, len(departments)),
		StatusDistribution: make([]StatusCount, len(statusLegend)),
	}
	copy(r.StatusDistribution, statusLegend)

	today := queue.StartOfDay(now)
	for i := range r.Last7Days {
		day := today.AddDate(0, 0, i-(seriesDays-1))
		r.Last7Days[i] = DayPoint{Date: day.Format("Jan 02"), Day: day}
	}

	statusIndex := make(map[string]int, len(statusLegend))
	for i, s := range statusLegend {
		statusIndex[s.Status] = i
	}

	for _, ticket := range tickets {
		if i, ok := statusIndex[ticket.Status]; ok {
			r.StatusDistribution[i].Value++
		}
		created := queue.StartOfDay(ticket.CreatedDate.In(now.Location()))
		offset := int(math.Round(today.Sub(created).Hours() / 24))
		if offset < 0 || offset >= seriesDays {
			continue
		}
		point := &r.Last7Days[seriesDays-1-offset]
		point.Tickets++
		if ticket.Status == models.StatusCompleted {
			point.Completed++
		}
		if offset == 0 {
			r.TodayTickets++
		}
	}

	for _, dept := range departments {
		rollup := DepartmentRollup{DepartmentID: dept.ID, Name: dept.Name, AvgWait: queue.ServiceMinutes(dept)}
		for _, ticket := range tickets {
			if ticket.DepartmentID != dept.ID {
				continue
			}
			rollup.Tickets++
			if ticket.Status == models.StatusCompleted {
				rollup.Completed++
			}
		}
		r.ByDepartment = append(r.ByDepartment, rollup)
	}
	return r
}

// MeanServiceTime averages the configured service minutes, rounded. With no
// departments it is the default service time.
func MeanServiceTime(departments []models.Department) int {
	if len(departments) == 0 {
		return models.DefaultServiceMinutes
	}
	total := 0
	for _, dept := range departments {
		total += queue.ServiceMinutes(dept)
	}
	return int(math.Round(float64(total) / float64(len(departments))))
}

type SystemStat struct {
	Name      string `json:"name"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Waiting   int    `json:"waiting"`
}

const systemStatNameLimit = 10

func SystemStats(tickets []models.QueueTicket, departments []models.Department) []SystemStat {
	out := make([]SystemStat, 0, len(departments))
	for _, dept := range departments {
		stat := SystemStat{Name: truncate(dept.Name, systemStatNameLimit)}
		for _, ticket := range tickets {
			if ticket.DepartmentID != dept.ID {
				continue
			}
			stat.Total++
			switch ticket.Status {
			case models.StatusCompleted:
				stat.Completed++
			case models.StatusWaiting:
				stat.Waiting++
			}
		}
		out = append(out, stat)
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
