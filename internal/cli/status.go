package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agoralabs/agora/internal/health"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := apiClient()
	if err != nil {
		return err
	}

	var body struct {
		Healthy bool            `json:"healthy"`
		Checks  []health.Status `json:"checks"`
	}
	resp, err := client.R().SetResult(&body).Get("/health")
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	if resp.IsError() && len(body.Checks) == 0 {
		return apiError(resp)
	}

	if len(body.Checks) == 0 {
		fmt.Println("Daemon is running.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tHEALTHY\tERROR")
	for _, c := range body.Checks {
		errMsg := "-"
		if c.Error != "" {
			errMsg = c.Error
		}
		fmt.Fprintf(w, "%s\t%v\t%s\n", c.Name, c.Healthy, errMsg)
	}
	return w.Flush()
}
