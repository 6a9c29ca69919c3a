package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	notifications "github.com/CodeFleck/sensorvision-sub010/internal/notifications/domain"
	rules "github.com/CodeFleck/sensorvision-sub010/internal/rules/domain"
)

// BuildNotificationLogXLSX renders the delivery log as a workbook.
func BuildNotificationLogXLSX(organizationID string, entries []notifications.NotificationLog) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "notifications"
	f.SetSheetName("Sheet1", sheet)

	_ = f.SetCellValue(sheet, "A1", "Notification Log")
	_ = f.SetCellValue(sheet, "A2", "Organization")
	_ = f.SetCellValue(sheet, "B2", organizationID)

	headers := []string{"Time", "Channel", "Destination", "Status", "Subject", "Error"}
	for i, header := range headers {
		cell := fmt.Sprintf("%c4", 'A'+i)
		_ = f.SetCellValue(sheet, cell, header)
	}
	for i, entry := range entries {
		row := i + 5
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), entry.CreatedAt.Format(time.RFC3339))
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), entry.Channel)
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), entry.Destination)
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", row), entry.Status)
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", row), entry.Subject)
		_ = f.SetCellValue(sheet, fmt.Sprintf("F%d", row), entry.Error)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlertReportPDF renders a minimal PDF listing recent alerts.
func BuildAlertReportPDF(organizationID string, alerts []rules.Alert) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Alert Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Organization: %s", organizationID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Alerts: %d", len(alerts)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(35, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Variable", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Value", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Severity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Acked", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, alert := range alerts {
		acked := "no"
		if alert.Acknowledged {
			acked = "yes"
		}
		pdf.CellFormat(35, 6, alert.TriggeredAt.Format("2006-01-02 15:04"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, alert.DeviceExternalID, "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, alert.VariableName, "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.2f", alert.Value), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, alert.Severity, "1", 0, "C", false, 0, "")
		pdf.CellFormat(20, 6, acked, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
