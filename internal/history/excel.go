package history

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/RIDSdiseno/RidsMovilFront/internal/session"

	"github.com/xuri/excelize/v2"
)

// visitExportHeader 访问登记导出表头
var visitExportHeader = []string{
	"Technician",
	"Company ID",
	"Client ID",
	"Status",
	"Started At",
	"Ended At",
	"Duration",
	"Location",
	"Checklist Done",
	"Requesters",
}

var visitExportWidths = []float64{20, 12, 12, 14, 20, 20, 10, 36, 30, 30}

// ExportXLSX 生成访问登记 Excel。technician 为空时导出全部。
func (l *Log) ExportXLSX(ctx context.Context, technician string) ([]byte, error) {
	l.mu.Lock()
	registry := l.loadLocked(ctx)
	l.mu.Unlock()

	rows := make([]exportRow, 0)
	names := make([]string, 0, len(registry))
	for name := range registry {
		if technician != "" && name != technician {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, entry := range registry[name] {
			rows = append(rows, exportRow{technician: name, entry: entry})
		}
	}

	return generateVisitExcel(rows)
}

type exportRow struct {
	technician string
	entry      Entry
}

func generateVisitExcel(rows []exportRow) ([]byte, error) {
	f := excelize.NewFile()

	sheetName := "Visitas"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range visitExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	for i := range visitExportHeader {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheetName, col, col, visitExportWidths[i]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for rowIdx, row := range rows {
		visit := row.entry.Visit
		values := []any{
			row.technician,
			visit.CompanyID,
			visit.ClientID,
			string(visit.Status),
			formatTime(visit.StartedAt),
			formatTime(visit.EndedAt),
			formatDuration(visit.StartedAt, visit.EndedAt),
			formatLocation(visit.Location),
			formatChecklist(visit.Checklist),
			strings.Join(visit.Requesters, ", "),
		}
		for colIdx, value := range values {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatDuration(start, end *time.Time) string {
	if start == nil || end == nil {
		return ""
	}
	elapsed := end.Sub(*start)
	if elapsed < 0 {
		elapsed = 0
	}
	return fmt.Sprintf("%02d:%02d", int(elapsed.Hours()), int(elapsed.Minutes())%60)
}

func formatLocation(loc *session.Location) string {
	if loc == nil {
		return ""
	}
	if loc.Label != "" {
		return loc.Label
	}
	return fmt.Sprintf("%.5f, %.5f", loc.Latitude, loc.Longitude)
}

func formatChecklist(checklist map[string]bool) string {
	done := make([]string, 0, len(checklist))
	for name, ok := range checklist {
		if ok {
			done = append(done, name)
		}
	}
	sort.Strings(done)
	return strings.Join(done, ", ")
}
