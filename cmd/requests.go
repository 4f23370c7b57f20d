package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/jusbridge/casesync/internal/model"
	"github.com/jusbridge/casesync/internal/store"
)

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Inspect enrichment request history",
	Long:  "Commands for listing and viewing enrichment requests and their callback outcomes.",
}

// -- requests list --

var requestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrichment requests",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		purpose, _ := cmd.Flags().GetString("purpose")
		caseID, _ := cmd.Flags().GetString("case")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.RequestFilter{
			Status:  model.RequestStatus(status),
			Purpose: model.RequestPurpose(purpose),
			CaseID:  caseID,
			Limit:   limit,
		}

		requests, err := st.ListRequests(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "requests list")
		}

		if len(requests) == 0 {
			fmt.Fprintln(os.Stderr, "No requests found.")
			return nil
		}

		formatRequestsList(os.Stdout, requests)
		return nil
	},
}

// -- requests show --

var requestsShowCmd = &cobra.Command{
	Use:   "show <request-id>",
	Short: "Show full details of a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		req, err := st.GetRequestByExternalID(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "requests show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(req)
	},
}

func init() {
	requestsListCmd.Flags().String("status", "", "filter by request status (pending, processing, completed, failed)")
	requestsListCmd.Flags().String("purpose", "", "filter by purpose (ONBOARDING, ATTACHMENT_SEARCH)")
	requestsListCmd.Flags().String("case", "", "filter by case id")
	requestsListCmd.Flags().Int("limit", 50, "max number of requests to display")

	requestsCmd.AddCommand(requestsListCmd)
	requestsCmd.AddCommand(requestsShowCmd)
	rootCmd.AddCommand(requestsCmd)
}

// formatRequestsList writes a tabular list of requests to w.
func formatRequestsList(out io.Writer, requests []model.EnrichmentRequest) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "EXTERNAL_ID\tCASE\tPURPOSE\tSTATUS\tERROR\tCREATED")
	_, _ = fmt.Fprintln(w, "-----------\t----\t-------\t------\t-----\t-------")

	for _, r := range requests {
		errCol := ""
		if r.ErrorCode != "" || r.ErrorMessage != "" {
			errCol = r.ErrorCode
			if errCol == "" {
				errCol = r.ErrorMessage
			}
			if len(errCol) > 24 {
				errCol = errCol[:21] + "..."
			}
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ExternalID,
			truncateID(r.CaseID),
			r.Purpose,
			r.Status,
			errCol,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
