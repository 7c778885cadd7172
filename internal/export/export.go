package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/xuri/excelize/v2"
)

// Report is an alarm listing with its stats header.
type Report struct {
	GeneratedAt time.Time
	GeneratedBy string
	Counts      alarms.Counts
	Alarms      []alarms.Alarm
}

func (r Report) processed() int {
	n := 0
	for _, a := range r.Alarms {
		if a.Disposition().IsProcessed() {
			n++
		}
	}
	return n
}

func ownerCell(a alarms.Alarm) any {
	if a.OwnerID == 0 {
		return ""
	}
	return a.OwnerID
}

// AlarmsXLSX renders a summary sheet and one row per alarm.
func AlarmsXLSX(r Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	alarmsSheet := "alarms"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(alarmsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Fire Alarm Report")
	_ = f.SetCellValue(summarySheet, "A3", "Generated")
	_ = f.SetCellValue(summarySheet, "B3", r.GeneratedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "Generated by")
	_ = f.SetCellValue(summarySheet, "B4", r.GeneratedBy)
	_ = f.SetCellValue(summarySheet, "A5", "Alarms listed")
	_ = f.SetCellValue(summarySheet, "B5", len(r.Alarms))
	_ = f.SetCellValue(summarySheet, "A6", "Processed")
	_ = f.SetCellValue(summarySheet, "B6", r.processed())
	_ = f.SetCellValue(summarySheet, "A8", "Today")
	_ = f.SetCellValue(summarySheet, "B8", r.Counts.Today)
	_ = f.SetCellValue(summarySheet, "A9", "This week")
	_ = f.SetCellValue(summarySheet, "B9", r.Counts.Week)
	_ = f.SetCellValue(summarySheet, "A10", "This month")
	_ = f.SetCellValue(summarySheet, "B10", r.Counts.Month)
	_ = f.SetCellValue(summarySheet, "A11", "This year")
	_ = f.SetCellValue(summarySheet, "B11", r.Counts.Year)

	header := []any{"ID", "Raised at", "Disposition", "Owner", "Top", "Left", "Right", "Bottom", "Evidence"}
	if err := f.SetSheetRow(alarmsSheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, a := range r.Alarms {
		row := []any{
			a.ID, a.RaisedAt.Format(time.RFC3339), string(a.Disposition().Kind), ownerCell(a),
			a.Box.Top, a.Box.Left, a.Box.Right, a.Box.Bottom, a.EvidenceRef,
		}
		if err := f.SetSheetRow(alarmsSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// AlarmsPDF renders the same report as a printable table.
func AlarmsPDF(r Report) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Fire Alarm Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s by %s", r.GeneratedAt.Format(time.RFC3339), r.GeneratedBy))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Today %d / Week %d / Month %d / Year %d",
		r.Counts.Today, r.Counts.Week, r.Counts.Month, r.Counts.Year))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Listed %d, processed %d", len(r.Alarms), r.processed()))
	pdf.Ln(8)

	widths := []float64{15, 50, 30, 20, 65}
	pdf.SetFont("Arial", "B", 10)
	for i, h := range []string{"ID", "Raised at", "Disposition", "Owner", "Box (t,l,r,b)"} {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, a := range r.Alarms {
		pdf.CellFormat(widths[0], 6, fmt.Sprintf("%d", a.ID), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[1], 6, a.RaisedAt.Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[2], 6, string(a.Disposition().Kind), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[3], 6, fmt.Sprint(ownerCell(a)), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[4], 6, fmt.Sprintf("%d,%d,%d,%d", a.Box.Top, a.Box.Left, a.Box.Right, a.Box.Bottom), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
