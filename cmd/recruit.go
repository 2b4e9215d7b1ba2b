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
	recruitCity      string
	recruitState     string
	recruitSpecialty string
)

var recruitCmd = &cobra.Command{
	Use:   "recruit",
	Short: "Enrich a batch of unvisited leads and return top outreach candidates",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("recruit"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		sched := initScheduler(st)

		run, err := st.CreateRun(ctx, model.OperationRecruit, recruitCity, recruitSpecialty)
		if err != nil {
			return eris.Wrap(err, "create run")
		}

		result, err := sched.Recruit(ctx, recruitCity, recruitState, recruitSpecialty)
		if err != nil {
			if cerr := st.CompleteRun(ctx, run.ID, model.RunStatusFailed, nil, err.Error()); cerr != nil {
				zap.L().Error("failed to record run failure", zap.Error(cerr))
			}
			return eris.Wrap(err, "recruit")
		}

		if err := st.CompleteRun(ctx, run.ID, model.RunStatusComplete, recruitResultMap(result), ""); err != nil {
			zap.L().Error("failed to record run completion", zap.Error(err))
		}

		zap.L().Info("recruit complete",
			zap.String("city", recruitCity),
			zap.String("specialty", recruitSpecialty),
			zap.Int("enriched", result.EnrichedCount),
			zap.Int("returned", result.ReturnedCount),
			zap.Int("remaining_credits", result.RemainingCredits),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func recruitResultMap(r *model.RecruitResult) map[string]any {
	return map[string]any{
		"enriched_count":    r.EnrichedCount,
		"returned_count":    r.ReturnedCount,
		"remaining_credits": r.RemainingCredits,
	}
}

func init() {
	recruitCmd.Flags().StringVar(&recruitCity, "city", "", "city to recruit from (required)")
	recruitCmd.Flags().StringVar(&recruitState, "state", "", "two-letter state code (inferred from city if omitted)")
	recruitCmd.Flags().StringVar(&recruitSpecialty, "specialty", "", "provider specialty (required)")
	_ = recruitCmd.MarkFlagRequired("city")
	_ = recruitCmd.MarkFlagRequired("specialty")
	rootCmd.AddCommand(recruitCmd)
}
