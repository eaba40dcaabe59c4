package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/seastock/shrinkage-cli/internal/model"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	HasHeader  bool // if true, the first row is skipped
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	Layout     Layout
}

// StreamCSV reads CSV rows and sends them to a channel. Caller must consume
// the returned row channel. Both channels are closed when processing
// completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1 // allow variable fields

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			row, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			for i, field := range row {
				row[i] = strings.TrimSpace(field)
			}

			if first && opts.HasHeader {
				first = false
				continue
			}
			first = false

			select {
			case rowCh <- row:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCSV consumes a CSV stream into inventory records. Unparseable rows are
// logged and skipped, mirroring ReadXLSX.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions) ([]model.RawRecord, error) {
	rowCh, errCh := StreamCSV(ctx, r, opts)

	var records []model.RawRecord
	skipped := 0
	rowNum := 0
	for row := range rowCh {
		rowNum++
		if blankRow(row) {
			continue
		}
		rec, err := ParseRow(row, opts.Layout)
		if err != nil {
			skipped++
			zap.L().Warn("skipping unparseable row", zap.Int("row", rowNum), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}

	if skipped > 0 {
		zap.L().Info("csv parsed with skipped rows",
			zap.Int("records", len(records)), zap.Int("skipped", skipped))
	}
	return records, nil
}
