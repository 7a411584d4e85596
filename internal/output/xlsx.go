package output

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/docanvil/docanvil/internal/convert"
)

// WriteTablesXLSX writes one workbook with a sheet per detected table, cells
// laid out exactly as recovered. Callers gate on len(tables) > 0.
func (w *Writer) WriteTablesXLSX(name string, tables []convert.Table) Status {
	f := excelize.NewFile()
	defer f.Close()

	for i, table := range tables {
		sheet := fmt.Sprintf("Table%d", i+1)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return w.xlsxFailed(name, err)
			}
		} else {
			if _, err := f.NewSheet(sheet); err != nil {
				return w.xlsxFailed(name, err)
			}
		}
		for r, row := range table.Cells {
			for c, cell := range row {
				axis, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					return w.xlsxFailed(name, err)
				}
				if err := f.SetCellValue(sheet, axis, cell); err != nil {
					return w.xlsxFailed(name, err)
				}
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return w.xlsxFailed(name, err)
	}
	return w.WriteBytes(name, buf.Bytes())
}

func (w *Writer) xlsxFailed(name string, err error) Status {
	st := Status{Name: name, Err: fmt.Errorf("build workbook %s: %w", name, err)}
	w.logger.Error().Str("artifact", name).Err(st.Err).Msg("Artifact write failed")
	return st
}
