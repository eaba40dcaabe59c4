package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/seastock/shrinkage-cli/internal/model"
)

var (
	forecastBalance    float64
	forecastDays       int
	forecastCategory   string
	forecastConfidence float64
	forecastNoSave     bool
)

var forecastCmd = &cobra.Command{
	Use:   "forecast <item>",
	Short: "Predict shrinkage for a stored balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		item := args[0]
		cat := model.Category(forecastCategory)
		if !cat.Valid() {
			if forecastCategory != "" {
				return eris.Errorf("unknown category %q", forecastCategory)
			}
			cat = env.Engine.Classifier().Classify(item)
		}

		fc, err := env.Engine.Forecaster().Forecast(item, cat, forecastBalance, forecastDays, time.Now().UTC(), forecastConfidence)
		if err != nil {
			return err
		}

		if !forecastNoSave {
			if err := env.Store.SaveForecast(ctx, "", fc); err != nil {
				return eris.Wrap(err, "save forecast")
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(fc)
	},
}

func init() {
	forecastCmd.Flags().Float64Var(&forecastBalance, "balance", 0, "current balance in storage units")
	forecastCmd.Flags().IntVar(&forecastDays, "days", 0, "elapsed storage days")
	forecastCmd.Flags().StringVar(&forecastCategory, "category", "", "category override (default: classify from item name)")
	forecastCmd.Flags().Float64Var(&forecastConfidence, "confidence", 1.0, "balance confidence in [0,1]")
	forecastCmd.Flags().BoolVar(&forecastNoSave, "no-save", false, "do not persist the forecast")
	forecastCmd.MarkFlagRequired("balance") //nolint:errcheck
	forecastCmd.MarkFlagRequired("days")    //nolint:errcheck
	rootCmd.AddCommand(forecastCmd)
}
