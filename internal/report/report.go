// Package report renders batch results for people: a plain-text summary for
// the terminal and an XLSX export for the warehouse office.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/seastock/shrinkage-cli/internal/model"
)

// WriteText writes a human-readable batch summary to w.
func WriteText(w io.Writer, res *model.BatchResult) error {
	fmt.Fprintf(w, "Batch: %d record(s), %d item(s)\n", len(res.Records), len(res.Items))
	fmt.Fprintf(w, "  accepted=%d rejected=%d manual_review=%d forecasted=%d\n\n",
		res.Accepted, res.Rejected, res.ManualReview, res.Forecasted)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tCATEGORY\tFAMILY\tA\tB\tC\tR2\tPOINTS\tCHECK")
	for _, it := range res.Items {
		if it.Coefficients == nil {
			fmt.Fprintf(tw, "%s\t%s\tinsufficient data\t\t\t\t\t\t\n", it.Item, it.Category)
			continue
		}
		check := ""
		if it.Verification != nil {
			check = string(it.Verification.Status)
		}
		cs := it.Coefficients
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.5f\t%.5f\t%.5f\t%.3f\t%d\t%s\n",
			it.Item, it.Category, cs.Family, cs.A, cs.B, cs.C, cs.Accuracy, cs.PointCount, check)
	}
	if err := tw.Flush(); err != nil {
		return eris.Wrap(err, "report: flush summary")
	}

	if res.Forecasted > 0 {
		fmt.Fprintln(w, "\nForecasts:")
		for _, rec := range res.Records {
			if rec.Status != model.OutcomeForecasted || rec.Forecast == nil {
				continue
			}
			fc := rec.Forecast
			fmt.Fprintf(w, "  %s: day %d rate=%.4f final=%.2f (confidence %.2f)\n",
				fc.Item, fc.ElapsedDays, fc.PredictedRate, fc.PredictedFinalBalance, fc.Confidence)
		}
	}

	if res.Rejected > 0 || res.ManualReview > 0 {
		fmt.Fprintln(w, "\nFlagged records:")
		for i, rec := range res.Records {
			switch rec.Status {
			case model.OutcomeRejected:
				fmt.Fprintf(w, "  #%d %s: rejected (%s) %s\n", i+1, rec.Item, rec.Reason, rec.Detail)
			case model.OutcomeManualReview:
				p := 0.0
				if rec.Observation != nil {
					p = rec.Observation.Quality.HumanErrorProbability
				}
				fmt.Fprintf(w, "  #%d %s: manual review (error probability %.2f)\n", i+1, rec.Item, p)
			}
		}
	}

	return nil
}

// WriteXLSX writes the batch result to an XLSX workbook with a coefficients
// sheet and a records sheet.
func WriteXLSX(path string, res *model.BatchResult) error {
	f := xlsx.NewFile()

	items, err := f.AddSheet("Coefficients")
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}
	addRow(items, "Item", "Category", "Family", "A", "B", "C", "R2", "Points", "Check")
	for _, it := range res.Items {
		if it.Coefficients == nil {
			addRow(items, it.Item, string(it.Category), "insufficient data", "", "", "", "", "", "")
			continue
		}
		check := ""
		if it.Verification != nil {
			check = string(it.Verification.Status)
		}
		cs := it.Coefficients
		addRow(items, it.Item, string(it.Category), string(cs.Family),
			fmt.Sprintf("%.6f", cs.A), fmt.Sprintf("%.6f", cs.B), fmt.Sprintf("%.6f", cs.C),
			fmt.Sprintf("%.4f", cs.Accuracy), fmt.Sprintf("%d", cs.PointCount), check)
	}

	records, err := f.AddSheet("Records")
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}
	addRow(records, "Item", "Status", "Reason", "Detail")
	for _, rec := range res.Records {
		addRow(records, rec.Item, string(rec.Status), string(rec.Reason), rec.Detail)
	}

	return eris.Wrapf(f.Save(path), "report: save %s", path)
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
