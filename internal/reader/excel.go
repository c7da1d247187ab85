package reader

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/batchkit/batchkit/internal/frame"
)

func readExcel(r io.Reader, opts Options) (*frame.Frame, error) {
	workbook, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = workbook.Close() }()

	sheet := opts.Sheet
	if sheet == "" {
		sheets := workbook.GetSheetList()
		if opts.SheetIdx < 0 || opts.SheetIdx >= len(sheets) {
			return nil, fmt.Errorf("worksheet index %d out of range, workbook has %d sheets", opts.SheetIdx, len(sheets))
		}
		sheet = sheets[opts.SheetIdx]
	}

	rows, err := workbook.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read worksheet %q: %w", sheet, err)
	}
	return tabulate(rows, opts)
}
