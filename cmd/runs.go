package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/provider-scout/internal/model"
	"github.com/sells-group/provider-scout/internal/store"
)

var (
	runsOperation string
	runsStatus    string
	runsLimit     int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent load and recruit runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Operation: model.Operation(runsOperation),
			Status:    model.RunStatus(runsStatus),
			Limit:     runsLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list runs")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsOperation, "operation", "", "filter by operation (load or recruit)")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by status (running, complete, failed)")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to return")
	rootCmd.AddCommand(runsCmd)
}
