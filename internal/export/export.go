package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"qms/campus-queue/internal/analytics"
)

// Dataset is one titled table of the analytics report.
type Dataset struct {
	Name    string
	Title   string
	Headers []string
	Rows    []map[string]string
}

const (
	SectionSummary     = "summary"
	SectionDaily       = "daily"
	SectionDepartments = "departments"
	SectionStatus      = "status"
)

func ReportDatasets(r analytics.Report) []Dataset {
	summary := Dataset{
		Name:    SectionSummary,
		Title:   "Summary",
		Headers: []string{"metric", "value"},
		Rows: []map[string]string{
			{"metric": "total_tickets", "value": strconv.Itoa(r.TotalTickets)},
			{"metric": "today_tickets", "value": strconv.Itoa(r.TodayTickets)},
			{"metric": "departments", "value": strconv.Itoa(r.Departments)},
			{"metric": "average_service_time", "value": strconv.Itoa(r.AverageServiceTime)},
		},
	}

	daily := Dataset{Name: SectionDaily, Title: "Last 7 days", Headers: []string{"date", "tickets", "completed"}}
	for _, p := range r.Last7Days {
		daily.Rows = append(daily.Rows, map[string]string{
			"date":      p.Day.Format("2006-01-02"),
			"tickets":   strconv.Itoa(p.Tickets),
			"completed": strconv.Itoa(p.Completed),
		})
	}

	departments := Dataset{Name: SectionDepartments, Title: "Departments", Headers: []string{"name", "tickets", "completed", "avg_wait"}}
	for _, d := range r.ByDepartment {
		departments.Rows = append(departments.Rows, map[string]string{
			"name":      d.Name,
			"tickets":   strconv.Itoa(d.Tickets),
			"completed": strconv.Itoa(d.Completed),
			"avg_wait":  strconv.Itoa(d.AvgWait),
		})
	}

	status := Dataset{Name: SectionStatus, Title: "Status distribution", Headers: []string{"status", "count"}}
	for _, s := range r.StatusDistribution {
		status.Rows = append(status.Rows, map[string]string{
			"status": s.Status,
			"count":  strconv.Itoa(s.Value),
		})
	}

	return []Dataset{summary, daily, departments, status}
}

// Section finds a dataset by name.
func Section(datasets []Dataset, name string) (Dataset, bool) {
	for _, d := range datasets {
		if d.Name == name {
			return d, true
		}
	}
	return Dataset{}, false
}

func CSV(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, row := range data.Rows {
		record := make([]string, len(data.Headers))
		for i, header := range data.Headers {
			record[i] = row[header]
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// PDF renders every dataset as its own table under one document title.
func PDF(title string, datasets []Dataset) ([]byte, error) {
	if len(datasets) == 0 {
		return nil, fmt.Errorf("pdf requires at least one dataset")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, strings.ToUpper(title), "", 1, "C", false, 0, "")
		pdf.Ln(5)
	}

	for _, data := range datasets {
		if len(data.Headers) == 0 {
			return nil, fmt.Errorf("dataset %q has no headers", data.Name)
		}
		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(0, 8, data.Title, "", 1, "", false, 0, "")

		pdf.SetFont("Arial", "B", 10)
		colWidth := 190.0 / float64(len(data.Headers))
		for _, header := range data.Headers {
			pdf.CellFormat(colWidth, 8, header, "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Arial", "", 9)
		for _, row := range data.Rows {
			for _, header := range data.Headers {
				pdf.CellFormat(colWidth, 7, row[header], "1", 0, "", false, 0, "")
			}
			pdf.Ln(-1)
		}
		pdf.Ln(4)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
