package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seastock/shrinkage-cli/internal/fetcher"
	"github.com/seastock/shrinkage-cli/internal/model"
	"github.com/seastock/shrinkage-cli/internal/report"
)

var (
	fitSheet    string
	fitSkipRows int
	fitDelim    string
	fitReport   string
	fitDryRun   bool
)

var fitCmd = &cobra.Command{
	Use:   "fit <file>",
	Short: "Process a balance export: validate, fit curves, update states",
	Long:  "Reads an inventory balance export (.xlsx or .csv, or an http(s) URL to one), runs the full batch pipeline, persists the run, and prints a summary report.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		source := args[0]
		records, err := readRecords(ctx, source)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			zap.L().Warn("no records found", zap.String("source", source))
			return nil
		}

		res, err := env.Engine.ProcessBatch(ctx, records, time.Now().UTC())
		if err != nil {
			return eris.Wrap(err, "process batch")
		}

		if !fitDryRun {
			id, err := env.Store.SaveBatch(ctx, filepath.Base(source), res)
			if err != nil {
				return eris.Wrap(err, "save batch")
			}
			if err := env.Store.UpsertStates(ctx, env.Engine.Estimator().Snapshot()); err != nil {
				return eris.Wrap(err, "persist adaptive states")
			}
			zap.L().Info("batch saved", zap.String("batch_id", id))
		}

		if fitReport != "" {
			if err := report.WriteXLSX(fitReport, res); err != nil {
				return err
			}
			zap.L().Info("report written", zap.String("path", fitReport))
		}

		return report.WriteText(os.Stdout, res)
	},
}

// readRecords loads raw records from a local xlsx/csv file or an http(s) URL.
func readRecords(ctx context.Context, source string) ([]model.RawRecord, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		local, err := fetchRemote(ctx, source)
		if err != nil {
			return nil, err
		}
		source = local
	}

	switch strings.ToLower(filepath.Ext(source)) {
	case ".xlsx":
		return fetcher.ReadXLSX(source, fetcher.XLSXOptions{
			SheetName: fitSheet,
			SkipRows:  fitSkipRows,
			Layout:    fetcher.DefaultLayout(),
		})
	case ".csv":
		f, err := os.Open(source)
		if err != nil {
			return nil, eris.Wrapf(err, "open %s", source)
		}
		defer f.Close()

		opts := fetcher.CSVOptions{HasHeader: fitSkipRows > 0, Layout: fetcher.DefaultLayout()}
		if fitDelim != "" {
			opts.Delimiter = rune(fitDelim[0])
		}
		return fetcher.ReadCSV(ctx, f, opts)
	default:
		return nil, eris.Errorf("unsupported file type %q (want .xlsx or .csv)", filepath.Ext(source))
	}
}

// fetchRemote downloads a remote export into the user cache, reusing the
// cached copy when the server reports it unchanged. Without a usable cache
// directory it falls back to a plain download into a temp file.
func fetchRemote(ctx context.Context, rawURL string) (string, error) {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{})

	base, err := os.UserCacheDir()
	if err != nil {
		tmp, err := os.CreateTemp("", "shrinkage-export-*"+filepath.Ext(rawURL))
		if err != nil {
			return "", eris.Wrap(err, "create temp file")
		}
		tmp.Close()
		if _, err := f.DownloadToFile(ctx, rawURL, tmp.Name()); err != nil {
			return "", err
		}
		return tmp.Name(), nil
	}

	local, changed, err := f.DownloadCached(ctx, rawURL, filepath.Join(base, "shrinkage-cli"))
	if err != nil {
		return "", err
	}
	if !changed {
		zap.L().Info("export unchanged, using cached copy", zap.String("path", local))
	}
	return local, nil
}

func init() {
	fitCmd.Flags().StringVar(&fitSheet, "sheet", "", "worksheet name (default: first sheet)")
	fitCmd.Flags().IntVar(&fitSkipRows, "skip-rows", 1, "header rows to skip")
	fitCmd.Flags().StringVar(&fitDelim, "delimiter", "", "CSV delimiter (default ',')")
	fitCmd.Flags().StringVar(&fitReport, "report", "", "write an xlsx report to this path")
	fitCmd.Flags().BoolVar(&fitDryRun, "dry-run", false, "process without persisting")
	rootCmd.AddCommand(fitCmd)
}
