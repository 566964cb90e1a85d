package readiness

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	issuesSheet  = "Issues"
)

var issueHeader = []string{"Severity", "Title", "Detail", "Fix", "Item ID", "Panel ID", "Service Point ID"}

var issueColumnWidths = []float64{10, 32, 70, 16, 38, 38, 38}

func idCell(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

// WriteWorkbook renders r as an xlsx workbook with a summary sheet and one
// row per issue.
func WriteWorkbook(w io.Writer, r *Report, generatedAt time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}
	if _, err := f.NewSheet(issuesSheet); err != nil {
		return fmt.Errorf("create issues sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	summary := [][]interface{}{
		{"Branch", r.BranchID.String()},
		{"Ready", r.Ready},
		{"Blockers", r.Blockers()},
		{"Warnings", r.Warnings()},
		{"Generated", generatedAt.UTC().Format(time.RFC3339)},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(summary)), bold); err != nil {
		return fmt.Errorf("style summary: %w", err)
	}
	if err := f.SetColWidth(summarySheet, "A", "A", 12); err != nil {
		return err
	}
	if err := f.SetColWidth(summarySheet, "B", "B", 40); err != nil {
		return err
	}

	header := make([]interface{}, len(issueHeader))
	for i, h := range issueHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(issuesSheet, "A1", &header); err != nil {
		return fmt.Errorf("write issues header: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(issueHeader), 1)
	if err := f.SetCellStyle(issuesSheet, "A1", last, bold); err != nil {
		return fmt.Errorf("style issues header: %w", err)
	}
	for i, width := range issueColumnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(issuesSheet, col, col, width); err != nil {
			return err
		}
	}

	for i, is := range r.Issues {
		row := []interface{}{
			string(is.Severity), is.Title, is.Detail, string(is.Fix.Kind),
			idCell(is.Fix.ItemID), idCell(is.Fix.PanelID), idCell(is.Fix.ServicePointID),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(issuesSheet, cell, &row); err != nil {
			return fmt.Errorf("write issue row %d: %w", i+2, err)
		}
	}

	f.SetActiveSheet(0)
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
