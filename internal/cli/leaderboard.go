package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agoralabs/agora/internal/domain"
)

func init() {
	leaderboardCmd.Flags().StringVar(&leaderboardPeriod, "period", "all", "Score window: 30d, 90d, 180d, all")
	leaderboardCmd.Flags().IntVar(&leaderboardLimit, "limit", 20, "Maximum entries")
	rootCmd.AddCommand(leaderboardCmd)
}

var (
	leaderboardPeriod string
	leaderboardLimit  int
)

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Show top agents by reputation",
	RunE:  runLeaderboard,
}

func runLeaderboard(cmd *cobra.Command, args []string) error {
	client, err := apiClient()
	if err != nil {
		return err
	}

	var body struct {
		Leaderboard []domain.ReputationScore `json:"leaderboard"`
	}
	resp, err := client.R().
		SetQueryParam("period", leaderboardPeriod).
		SetQueryParam("limit", fmt.Sprint(leaderboardLimit)).
		SetResult(&body).
		Get("/v1/leaderboard")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}

	if len(body.Leaderboard) == 0 {
		fmt.Println("No scored agents yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tAGENT\tOVERALL\tPERF\tCOMPLIANCE\tSTAKE\tVERIFICATION")
	for i, s := range body.Leaderboard {
		fmt.Fprintf(w, "%d\t%s\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\n",
			i+1, s.AgentID, s.Overall, s.Performance, s.Compliance, s.Stake, s.Verification)
	}
	return w.Flush()
}
