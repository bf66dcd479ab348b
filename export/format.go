package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/use-agent/leadscout/models"
)

// Supported formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

type writerFunc func(w io.Writer, leads []models.Lead) error

var writers = map[string]writerFunc{
	FormatCSV:  writeCSV,
	FormatJSON: writeJSON,
	FormatXLSX: writeXLSX,
}

var contentTypes = map[string]string{
	FormatCSV:  "text/csv; charset=utf-8",
	FormatJSON: "application/json",
	FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// ContentType returns the MIME type of an export format.
func ContentType(format string) string {
	if ct, ok := contentTypes[format]; ok {
		return ct
	}
	return "application/octet-stream"
}

// columns is the fixed column order shared by CSV and XLSX.
var columns = []string{
	"profile_url",
	"name",
	"headline",
	"title",
	"company",
	"company_id",
	"location",
	"email",
	"phone",
	"connection_degree",
	"image_url",
	"job_id",
	"captured_at",
}

func row(l models.Lead) []string {
	return []string{
		l.ProfileURL,
		l.Name,
		l.Headline,
		l.Title,
		l.Company,
		l.CompanyID,
		l.Location,
		l.Email,
		l.Phone,
		strconv.Itoa(l.ConnectionDegree),
		l.ImageURL,
		l.JobID,
		capturedAt(l.CapturedAt),
	}
}

func capturedAt(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func writeCSV(w io.Writer, leads []models.Lead) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	for _, l := range leads {
		if err := cw.Write(row(l)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// record fixes the JSON field order.
type record struct {
	ProfileURL       string `json:"profile_url"`
	Name             string `json:"name"`
	Headline         string `json:"headline"`
	Title            string `json:"title"`
	Company          string `json:"company"`
	CompanyID        string `json:"company_id"`
	Location         string `json:"location"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	ConnectionDegree int    `json:"connection_degree"`
	ImageURL         string `json:"image_url"`
	JobID            string `json:"job_id"`
	CapturedAt       string `json:"captured_at"`
}

func writeJSON(w io.Writer, leads []models.Lead) error {
	records := make([]record, len(leads))
	for i, l := range leads {
		records[i] = record{
			ProfileURL:       l.ProfileURL,
			Name:             l.Name,
			Headline:         l.Headline,
			Title:            l.Title,
			Company:          l.Company,
			CompanyID:        l.CompanyID,
			Location:         l.Location,
			Email:            l.Email,
			Phone:            l.Phone,
			ConnectionDegree: l.ConnectionDegree,
			ImageURL:         l.ImageURL,
			JobID:            l.JobID,
			CapturedAt:       capturedAt(l.CapturedAt),
		}
	}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return err
	}
	return bw.Flush()
}

const sheetName = "Leads"

func writeXLSX(w io.Writer, leads []models.Lead) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(sheetName); err != nil {
		return err
	}
	idx, err := f.GetSheetIndex(sheetName)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	if err := f.SetSheetRow(sheetName, "A1", &columns); err != nil {
		return err
	}
	for i, l := range leads {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := row(l)
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("xlsx row %d: %w", i+2, err)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 48) // profile url
	_ = f.SetColWidth(sheetName, "B", "D", 28)
	_ = f.SetColWidth(sheetName, "E", "G", 22)
	_ = f.SetColWidth(sheetName, "K", "K", 48) // image url

	return f.Write(w)
}
