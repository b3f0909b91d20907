// internal/report/report.go

package report

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"NoiseMonitorAPI/internal/models"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

const timeLayout = "2006-01-02 15:04:05"

// AreaPDF renders the area status table with the latest retained sample per device.
func AreaPDF(areas []models.Area, latest map[string]models.NoiseSample, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Noise Monitor - Area Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Format(time.RFC3339)))
	pdf.Ln(5)

	alerting := 0
	for _, a := range areas {
		if a.Alert {
			alerting++
		}
	}
	pdf.Cell(0, 6, fmt.Sprintf("Areas: %d  Alerting: %d", len(areas), alerting))
	pdf.Ln(8)

	widths := []float64{60, 55, 20, 20, 35, 30, 50}
	headers := []string{"Area", "Device", "Muted", "Alert", "Alert Level", "Last dB", "Last Sample"}

	pdf.SetFont("Arial", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	for _, a := range areas {
		alertLevel := "-"
		if a.NoiseLevel != nil {
			alertLevel = fmt.Sprintf("%.1f", *a.NoiseLevel)
		}
		lastLevel, lastAt := "-", "-"
		if s, ok := latest[a.DeviceID]; ok {
			lastLevel = fmt.Sprintf("%.1f", s.NoiseLevel)
			lastAt = s.Timestamp.Format(timeLayout)
		}

		row := []string{a.Name, a.DeviceID, yesNo(a.IsMuted), yesNo(a.Alert), alertLevel, lastLevel, lastAt}
		for i, v := range row {
			align := "L"
			if i >= 2 {
				align = "C"
			}
			pdf.CellFormat(widths[i], 6, v, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HistoryXLSX renders one row per sample plus a per-device summary sheet.
// Samples from devices with no area are labelled by device only.
func HistoryXLSX(samples []models.NoiseSample, areas []models.Area) ([]byte, error) {
	names := make(map[string]string, len(areas))
	for _, a := range areas {
		names[a.DeviceID] = a.Name
	}

	f := excelize.NewFile()
	defer f.Close()

	samplesSheet := "samples"
	summarySheet := "summary"
	if err := f.SetSheetName("Sheet1", samplesSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(samplesSheet, "A1", "Timestamp")
	_ = f.SetCellValue(samplesSheet, "B1", "Device")
	_ = f.SetCellValue(samplesSheet, "C1", "Area")
	_ = f.SetCellValue(samplesSheet, "D1", "Noise Level")

	type stats struct {
		count    int
		sum, max float64
	}
	perDevice := make(map[string]*stats)

	for i, s := range samples {
		row := i + 2
		_ = f.SetCellValue(samplesSheet, fmt.Sprintf("A%d", row), s.Timestamp.Format(time.RFC3339))
		_ = f.SetCellValue(samplesSheet, fmt.Sprintf("B%d", row), s.DeviceID)
		_ = f.SetCellValue(samplesSheet, fmt.Sprintf("C%d", row), names[s.DeviceID])
		_ = f.SetCellValue(samplesSheet, fmt.Sprintf("D%d", row), s.NoiseLevel)

		st, ok := perDevice[s.DeviceID]
		if !ok {
			st = &stats{max: s.NoiseLevel}
			perDevice[s.DeviceID] = st
		}
		st.count++
		st.sum += s.NoiseLevel
		if s.NoiseLevel > st.max {
			st.max = s.NoiseLevel
		}
	}

	devices := make([]string, 0, len(perDevice))
	for d := range perDevice {
		devices = append(devices, d)
	}
	sort.Strings(devices)

	_ = f.SetCellValue(summarySheet, "A1", "Device")
	_ = f.SetCellValue(summarySheet, "B1", "Area")
	_ = f.SetCellValue(summarySheet, "C1", "Samples")
	_ = f.SetCellValue(summarySheet, "D1", "Average")
	_ = f.SetCellValue(summarySheet, "E1", "Peak")
	for i, d := range devices {
		row := i + 2
		st := perDevice[d]
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), d)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), names[d])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("C%d", row), st.count)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("D%d", row), st.sum/float64(st.count))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("E%d", row), st.max)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
