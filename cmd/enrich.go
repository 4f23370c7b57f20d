package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/jusbridge/casesync/internal/enrich"
	"github.com/jusbridge/casesync/internal/model"
)

var (
	enrichCNJ     string
	enrichCaseID  string
	enrichPurpose string
	enrichQueue   bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Submit an enrichment request for a process number",
	Long:  "Normalizes the CNJ, links the target case, and submits an asynchronous lookup to the provider. Results arrive later on the webhook.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		purpose := model.RequestPurpose(enrichPurpose)
		switch purpose {
		case model.PurposeOnboarding, model.PurposeAttachmentSearch:
		default:
			return eris.Errorf("invalid purpose %q (want %s or %s)",
				enrichPurpose, model.PurposeOnboarding, model.PurposeAttachmentSearch)
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		input := enrich.InitiationInput{CNJ: enrichCNJ, CaseID: enrichCaseID, Purpose: purpose}

		if enrichQueue {
			job, err := env.Worker.Enqueue(ctx, input)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		}

		result := env.Initiator.Initiate(ctx, input)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
		if !result.Success {
			return eris.Errorf("enrichment initiation failed: %s", result.Error)
		}
		return nil
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichCNJ, "cnj", "", "CNJ process number (required)")
	enrichCmd.Flags().StringVar(&enrichCaseID, "case", "", "explicit target case id")
	enrichCmd.Flags().StringVar(&enrichPurpose, "purpose", string(model.PurposeOnboarding), "request purpose (ONBOARDING or ATTACHMENT_SEARCH)")
	enrichCmd.Flags().BoolVar(&enrichQueue, "queue", false, "enqueue for the background worker instead of submitting now")
	_ = enrichCmd.MarkFlagRequired("cnj")
	rootCmd.AddCommand(enrichCmd)
}
