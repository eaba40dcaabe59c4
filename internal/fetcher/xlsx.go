package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/seastock/shrinkage-cli/internal/model"
)

// XLSXOptions configures workbook parsing.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	SkipRows   int    // number of header rows to skip
	Layout     Layout
}

// ReadXLSX reads an inventory workbook and returns its records. Rows that do
// not parse are logged and skipped; a sheet full of bad rows is not an error,
// an unreadable file is.
func ReadXLSX(path string, opts XLSXOptions) ([]model.RawRecord, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	var records []model.RawRecord
	skipped := 0
	for i, row := range sheet.Rows {
		if i < opts.SkipRows {
			continue
		}
		cells := rowToStrings(row)
		if blankRow(cells) {
			continue
		}

		rec, err := ParseRow(cells, opts.Layout)
		if err != nil {
			skipped++
			zap.L().Warn("skipping unparseable row",
				zap.String("file", path),
				zap.Int("row", i+1),
				zap.Error(err))
			continue
		}
		records = append(records, rec)
	}

	if skipped > 0 {
		zap.L().Info("workbook parsed with skipped rows",
			zap.String("file", path),
			zap.Int("records", len(records)),
			zap.Int("skipped", skipped))
	}

	return records, nil
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
