package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/jusbridge/casesync/internal/enrich"
	"github.com/jusbridge/casesync/internal/model"
)

var retrySubmit bool

var retryCmd = &cobra.Command{
	Use:   "retry <case-id>",
	Short: "Retry enrichment for a failed case",
	Long:  "Clears the case's error list and returns it to pending. Allowed only while the case is in needs_attention and its retry budget is not exhausted. With --submit, a fresh lookup is submitted immediately.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		caseID := args[0]

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Bookkeeper.Retry(ctx, caseID)
		if err != nil {
			return eris.Wrap(err, "retry")
		}

		if !retrySubmit {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(c)
		}

		result := env.Initiator.Initiate(ctx, enrich.InitiationInput{
			CNJ:     c.CNJ,
			CaseID:  c.ID,
			Purpose: model.PurposeOnboarding,
		})

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
		if !result.Success {
			return eris.Errorf("resubmission failed: %s", result.Error)
		}
		return nil
	},
}

func init() {
	retryCmd.Flags().BoolVar(&retrySubmit, "submit", true, "submit a fresh lookup after resetting the case")
	rootCmd.AddCommand(retryCmd)
}
