package service

import (
	"bytes"
	"context"
	"fmt"

	"timecapsule/internal/domain"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// JournalSheetName sheet holding exported answers
const JournalSheetName = "Journal"

// JournalExportHeader export column headers
var JournalExportHeader = []string{"Page", "Field", "Answer", "Last Modified"}

// ExportService writes the current writer's journal to XLSX
type ExportService struct {
	coordinator *SyncCoordinator
	logger      *zap.Logger
}

func NewExportService(coordinator *SyncCoordinator, logger *zap.Logger) *ExportService {
	return &ExportService{coordinator: coordinator, logger: logger}
}

// ExportXLSX returns the workbook bytes, one row per (page, field), pages
// ascending
func (s *ExportService) ExportXLSX(ctx context.Context) ([]byte, error) {
	all := s.coordinator.LoadAll(ctx)
	data, err := GenerateJournalWorkbook(all.Pages)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Exported journal",
		zap.Int("pages", len(all.Pages)),
		zap.String("source", string(all.Source)),
	)
	return data, nil
}

// GenerateJournalWorkbook renders sets as a single-sheet workbook; an empty
// input yields a header-only sheet
func GenerateJournalWorkbook(sets []domain.PageResponseSet) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(JournalSheetName)
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
			Color:   []string{"#F2E6FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range JournalExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(JournalSheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(JournalSheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	widths := []float64{8, 20, 60, 22}
	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(JournalSheetName, col, col, w); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	row := 2
	for _, set := range sets {
		modified := ""
		if !set.LastModified.IsZero() {
			modified = set.LastModified.UTC().Format("2006-01-02 15:04:05")
		}
		for _, fieldID := range set.FieldIDs() {
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			values := []interface{}{set.PageNumber, fieldID, set.Responses[fieldID], modified}
			if err := f.SetSheetRow(JournalSheetName, cell, &values); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to write row %d: %w", row, err)
			}
			row++
		}
	}

	if err := f.SetPanes(JournalSheetName, &excelize.Panes{
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
