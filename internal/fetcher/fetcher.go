// Package fetcher ingests inventory workbooks from local files or HTTP
// exports and parses them into raw records.
package fetcher

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/seastock/shrinkage-cli/internal/model"
)

// Fetcher downloads remote inventory exports.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns
	// bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)

	// DownloadIfChanged fetches the URL only if the ETag has changed.
	// Returns (body, newETag, changed, error). If not changed, body is nil.
	DownloadIfChanged(ctx context.Context, url string, etag string) (io.ReadCloser, string, bool, error)
}

// Layout maps workbook columns to record fields. Flag columns are optional:
// -1 disables them.
type Layout struct {
	Item           int
	InitialBalance int
	Incoming       int
	Outgoing       int
	FinalBalance   int
	StorageDays    int
	SurplusRate    int // optional
	Flags          int // optional: "incomplete" / "preliminary" markers
}

// DefaultLayout matches the standard warehouse export: item, initial,
// incoming, outgoing, final, days, then optional surplus and flags.
func DefaultLayout() Layout {
	return Layout{
		Item:           0,
		InitialBalance: 1,
		Incoming:       2,
		Outgoing:       3,
		FinalBalance:   4,
		StorageDays:    5,
		SurplusRate:    6,
		Flags:          7,
	}
}

// ParseRow converts one workbook row into a raw record. Numeric cells accept
// the localized spellings found on warehouse sheets: thousands spaces,
// non-breaking spaces and decimal commas.
func ParseRow(cells []string, layout Layout) (model.RawRecord, error) {
	item := cellAt(cells, layout.Item)
	if item == "" {
		return model.RawRecord{}, eris.New("row: empty item cell")
	}

	rec := model.RawRecord{Item: item}

	var err error
	if rec.InitialBalance, err = numberAt(cells, layout.InitialBalance); err != nil {
		return model.RawRecord{}, eris.Wrapf(err, "row %q: initial balance", item)
	}
	if rec.Incoming, err = numberAt(cells, layout.Incoming); err != nil {
		return model.RawRecord{}, eris.Wrapf(err, "row %q: incoming", item)
	}
	if rec.StorageDays, err = intAt(cells, layout.StorageDays); err != nil {
		return model.RawRecord{}, eris.Wrapf(err, "row %q: storage days", item)
	}
	if layout.SurplusRate >= 0 {
		if rec.SurplusRate, err = numberAt(cells, layout.SurplusRate); err != nil {
			return model.RawRecord{}, eris.Wrapf(err, "row %q: surplus rate", item)
		}
	}

	flags := ""
	if layout.Flags >= 0 {
		flags = strings.ToLower(cellAt(cells, layout.Flags))
	}
	rec.IncompletePeriod = strings.Contains(flags, "incomplete") || strings.Contains(flags, "неполн")
	rec.Preliminary = strings.Contains(flags, "preliminary") || strings.Contains(flags, "предвар")

	// Preliminary rows have no closing boundary; their outgoing and final
	// cells are usually blank and are ignored either way.
	if !rec.Preliminary {
		if rec.Outgoing, err = numberAt(cells, layout.Outgoing); err != nil {
			return model.RawRecord{}, eris.Wrapf(err, "row %q: outgoing", item)
		}
		if rec.FinalBalance, err = numberAt(cells, layout.FinalBalance); err != nil {
			return model.RawRecord{}, eris.Wrapf(err, "row %q: final balance", item)
		}
	}

	return rec, nil
}

func cellAt(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[idx])
}

func numberAt(cells []string, idx int) (float64, error) {
	raw := cellAt(cells, idx)
	if raw == "" {
		return 0, nil
	}
	cleaned := strings.NewReplacer(" ", "", " ", "", ",", ".").Replace(raw)
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, eris.Errorf("not a number: %q", raw)
	}
	return v, nil
}

func intAt(cells []string, idx int) (int, error) {
	v, err := numberAt(cells, idx)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}
