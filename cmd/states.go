package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seastock/shrinkage-cli/internal/model"
)

var (
	statesItem       string
	statesRejections int
)

var statesCmd = &cobra.Command{
	Use:   "states",
	Short: "List persisted adaptive coefficient states",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		states := env.Engine.Estimator().Snapshot()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ITEM\tCATEGORY\tFAMILY\tA\tB\tC\tOBS\tFITS\tACCURACY")
		for _, st := range states {
			if statesItem != "" && st.Item != statesItem {
				continue
			}
			printState(w, st)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if statesRejections > 0 {
			rejs, err := env.Store.ListRejections(ctx, statesRejections)
			if err != nil {
				return err
			}
			fmt.Println()
			rw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(rw, "REJECTED ITEM\tREASON\tDETAIL\tWHEN")
			for _, r := range rejs {
				fmt.Fprintf(rw, "%s\t%s\t%s\t%s\n",
					r.Item, r.Reason, r.Detail, r.CreatedAt.Format("2006-01-02 15:04"))
			}
			return rw.Flush()
		}

		return nil
	},
}

func printState(w *tabwriter.Writer, st model.AdaptiveState) {
	cs := st.Coefficients
	fmt.Fprintf(w, "%s\t%s\t%s\t%.5f\t%.5f\t%.5f\t%d\t%d\t%.3f\n",
		st.Item, st.Category, cs.Family, cs.A, cs.B, cs.C,
		st.ObservationCount, st.FitCount, st.LastAccuracy)
}

func init() {
	statesCmd.Flags().StringVar(&statesItem, "item", "", "filter by item name")
	statesCmd.Flags().IntVar(&statesRejections, "rejections", 0, "also list up to N recent rejections")
	rootCmd.AddCommand(statesCmd)
}
