package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/provider-scout/internal/store"
)

var (
	leadsCity   string
	leadsState  string
	leadsEMR    string
	leadsLimit  int
	leadsOffset int
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "List stored leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		leads, err := st.SearchLeads(ctx, store.LeadFilter{
			City:      leadsCity,
			State:     leadsState,
			EMRSystem: leadsEMR,
			Limit:     leadsLimit,
			Offset:    leadsOffset,
		})
		if err != nil {
			return eris.Wrap(err, "search leads")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(leads)
	},
}

func init() {
	leadsCmd.Flags().StringVar(&leadsCity, "city", "", "filter by city")
	leadsCmd.Flags().StringVar(&leadsState, "state", "", "filter by state")
	leadsCmd.Flags().StringVar(&leadsEMR, "emr", "", "filter by estimated EMR system")
	leadsCmd.Flags().IntVar(&leadsLimit, "limit", 50, "maximum leads to return")
	leadsCmd.Flags().IntVar(&leadsOffset, "offset", 0, "pagination offset")
	rootCmd.AddCommand(leadsCmd)
}
