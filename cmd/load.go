package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/provider-scout/internal/model"
)

var (
	loadCity      string
	loadState     string
	loadSpecialty string
	loadLimit     int
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load provider leads from the public registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		loader, err := initLoader(st)
		if err != nil {
			return err
		}

		run, err := st.CreateRun(ctx, model.OperationLoad, loadCity, loadSpecialty)
		if err != nil {
			return eris.Wrap(err, "create run")
		}

		result, err := loader.Load(ctx, loadCity, loadState, loadSpecialty, loadLimit)
		if err != nil {
			if cerr := st.CompleteRun(ctx, run.ID, model.RunStatusFailed, nil, err.Error()); cerr != nil {
				zap.L().Error("failed to record run failure", zap.Error(cerr))
			}
			return eris.Wrap(err, "load")
		}

		if err := st.CompleteRun(ctx, run.ID, model.RunStatusComplete, loadResultMap(result), ""); err != nil {
			zap.L().Error("failed to record run completion", zap.Error(err))
		}

		zap.L().Info("load complete",
			zap.String("city", loadCity),
			zap.String("specialty", loadSpecialty),
			zap.Int("leads_loaded", result.LeadsLoaded),
			zap.Int("with_email", result.WithEmail),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func loadResultMap(r *model.LoadResult) map[string]any {
	return map[string]any{
		"leads_loaded":  r.LeadsLoaded,
		"with_email":    r.WithEmail,
		"without_email": r.WithoutEmail,
	}
}

func init() {
	loadCmd.Flags().StringVar(&loadCity, "city", "", "city to search (required)")
	loadCmd.Flags().StringVar(&loadState, "state", "", "two-letter state code (inferred from city if omitted)")
	loadCmd.Flags().StringVar(&loadSpecialty, "specialty", "", "provider specialty (required)")
	loadCmd.Flags().IntVar(&loadLimit, "limit", 200, "maximum leads to load")
	_ = loadCmd.MarkFlagRequired("city")
	_ = loadCmd.MarkFlagRequired("specialty")
	rootCmd.AddCommand(loadCmd)
}
