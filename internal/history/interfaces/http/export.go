package http

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	historyapp "wardex-cloud/internal/history/application"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

var exportHeader = []string{"ts", "device_id", "kind", "door_state", "battery", "alarm_enabled", "alarm_event_type", "triggered_by"}

type exportFormat struct {
	contentType string
	render      func(entries []historyapp.Entry, generated time.Time) ([]byte, error)
}

var exportFormats = map[string]exportFormat{
	FormatCSV:  {contentType: "text/csv; charset=utf-8", render: BuildEventsCSV},
	FormatXLSX: {contentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", render: BuildEventsXLSX},
	FormatPDF:  {contentType: "application/pdf", render: BuildEventsPDF},
}

func exportRow(entry historyapp.Entry) []string {
	return []string{
		entry.TS.UTC().Format(timeLayout),
		entry.DeviceID,
		string(entry.Kind),
		string(entry.DoorState),
		formatBattery(entry.Battery),
		formatBool(entry.AlarmEnabled),
		string(entry.AlarmEventType),
		entry.TriggeredByUserID,
	}
}

// BuildEventsCSV renders merged history as CSV.
func BuildEventsCSV(entries []historyapp.Entry, _ time.Time) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if err := writer.Write(exportRow(entry)); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildEventsXLSX renders merged history as a single-sheet workbook.
func BuildEventsXLSX(entries []historyapp.Entry, generated time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "events"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(sheet, "A1", "Door Event History")
	_ = f.SetCellValue(sheet, "A2", "Generated")
	_ = f.SetCellValue(sheet, "B2", generated.UTC().Format(time.RFC3339))
	for col, title := range exportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 4)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(sheet, cell, title)
	}
	for i, entry := range entries {
		row := i + 5
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), entry.TS.UTC().Format(timeLayout))
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), entry.DeviceID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), string(entry.Kind))
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", row), string(entry.DoorState))
		if entry.Battery != nil {
			_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", row), *entry.Battery)
		}
		if entry.AlarmEnabled != nil {
			_ = f.SetCellValue(sheet, fmt.Sprintf("F%d", row), *entry.AlarmEnabled)
		}
		_ = f.SetCellValue(sheet, fmt.Sprintf("G%d", row), string(entry.AlarmEventType))
		_ = f.SetCellValue(sheet, fmt.Sprintf("H%d", row), entry.TriggeredByUserID)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildEventsPDF renders merged history as a landscape table.
func BuildEventsPDF(entries []historyapp.Entry, generated time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Door Event History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generated.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Events: %d", len(entries)))
	pdf.Ln(8)

	widths := []float64{48, 80, 16, 20, 18, 20, 34, 0}
	pdf.SetFont("Arial", "B", 9)
	for i, title := range exportHeader[:len(exportHeader)-1] {
		pdf.CellFormat(widths[i], 6, title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	for _, entry := range entries {
		row := exportRow(entry)
		for i, value := range row[:len(row)-1] {
			pdf.CellFormat(widths[i], 5, value, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatBattery(value *float64) string {
	if value == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *value)
}

func formatBool(value *bool) string {
	if value == nil {
		return ""
	}
	if *value {
		return "true"
	}
	return "false"
}
