package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agoralabs/agora/internal/app/settlement"
)

func init() {
	rootCmd.AddCommand(settleCmd)
}

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Run a settlement batch now",
	RunE:  runSettle,
}

func runSettle(cmd *cobra.Command, args []string) error {
	client, err := apiClient()
	if err != nil {
		return err
	}

	var report settlement.Report
	resp, err := client.R().SetResult(&report).Post("/v1/settlement/run")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}

	fmt.Printf("Settlement: %d processed, %d settled, %d failed\n",
		report.Processed, report.Settled, report.Failed)
	return nil
}
