package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

const xlsxSheetName = "Submissions"

// RenderXLSX serializes a projected table into a spreadsheet with a bold
// header row and auto-sized columns. The filename carries the export date.
func RenderXLSX(table Table) (*Result, error) {
	file := excelize.NewFile()
	defer func() { _ = file.Close() }()

	index, err := file.NewSheet(xlsxSheetName)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	file.SetActiveSheet(index)
	if err := file.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	headerStyle, err := file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for col, header := range table.Headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("header cell name: %w", err)
		}
		if err := file.SetCellValue(xlsxSheetName, cell, header); err != nil {
			return nil, fmt.Errorf("write header %q: %w", header, err)
		}
		if err := file.SetCellStyle(xlsxSheetName, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("style header %q: %w", header, err)
		}
	}

	for rowIdx, row := range table.Rows {
		for col, value := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err != nil {
				return nil, fmt.Errorf("cell name: %w", err)
			}
			if err := file.SetCellValue(xlsxSheetName, cell, value); err != nil {
				return nil, fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
	}

	if err := sizeColumns(file, table); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: "survey-submissions-" + time.Now().Format("2006-01-02") + ".xlsx",
		MimeType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	}, nil
}

// sizeColumns widens each column to its longest cell, capped so the
// catch-all answers column does not dominate the sheet.
func sizeColumns(file *excelize.File, table Table) error {
	const maxWidth = 60.0

	for col, header := range table.Headers {
		width := float64(len(header))
		for _, row := range table.Rows {
			if col < len(row) && float64(len(row[col])) > width {
				width = float64(len(row[col]))
			}
		}
		width += 2
		if width > maxWidth {
			width = maxWidth
		}

		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("column name: %w", err)
		}
		if err := file.SetColWidth(xlsxSheetName, name, name, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}
	return nil
}
