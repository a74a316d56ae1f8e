package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/gearline/vehicle-cli/internal/store"
)

var (
	listYear   int
	listMake   string
	listModel  string
	listReview bool
	listLimit  int
)

var resolutionsCmd = &cobra.Command{
	Use:   "resolutions",
	Short: "List persisted resolutions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		filter := store.Filter{
			Year:  listYear,
			Make:  listMake,
			Model: listModel,
			Limit: listLimit,
		}
		if cmd.Flags().Changed("needs-review") {
			filter.NeedsReview = &listReview
		}

		list, err := st.ListResolutions(ctx, filter)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	},
}

func init() {
	resolutionsCmd.Flags().IntVar(&listYear, "year", 0, "filter by model year")
	resolutionsCmd.Flags().StringVar(&listMake, "make", "", "filter by make")
	resolutionsCmd.Flags().StringVar(&listModel, "model", "", "filter by model")
	resolutionsCmd.Flags().BoolVar(&listReview, "needs-review", false, "filter by review flag")
	resolutionsCmd.Flags().IntVar(&listLimit, "limit", 50, "max rows")
	rootCmd.AddCommand(resolutionsCmd)
}
