package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agoralabs/agora/internal/domain"
)

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditAnchorCmd)
	auditVerifyCmd.Flags().Uint64Var(&verifyFrom, "from", 0, "First sequence to verify (default: 1)")
	auditVerifyCmd.Flags().Uint64Var(&verifyTo, "to", 0, "Last sequence to verify (default: head)")
	rootCmd.AddCommand(auditCmd)
}

var (
	verifyFrom uint64
	verifyTo   uint64
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit chain",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit chain integrity",
	RunE:  runAuditVerify,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	client, err := apiClient()
	if err != nil {
		return err
	}

	req := client.R()
	if verifyFrom > 0 {
		req.SetQueryParam("from", fmt.Sprint(verifyFrom))
	}
	if verifyTo > 0 {
		req.SetQueryParam("to", fmt.Sprint(verifyTo))
	}

	var report domain.ChainReport
	resp, err := req.SetResult(&report).Get("/v1/audit/verify")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}

	if report.Valid {
		fmt.Printf("Chain verified: events [%d, %d] intact.\n", report.FromSeq, report.ToSeq)
		return nil
	}
	fmt.Printf("CHAIN COMPROMISED over [%d, %d]\n", report.FromSeq, report.ToSeq)
	if len(report.Tampered) > 0 {
		fmt.Printf("  Tampered events: %v\n", report.Tampered)
	}
	if len(report.Broken) > 0 {
		fmt.Printf("  Broken links at: %v\n", report.Broken)
	}
	return fmt.Errorf("audit chain failed verification")
}

var auditAnchorCmd = &cobra.Command{
	Use:   "anchor",
	Short: "Publish a Merkle anchor for unanchored events",
	RunE:  runAuditAnchor,
}

func runAuditAnchor(cmd *cobra.Command, args []string) error {
	client, err := apiClient()
	if err != nil {
		return err
	}

	var body struct {
		Anchor *domain.MerkleAnchor `json:"anchor"`
	}
	resp, err := client.R().SetResult(&body).Post("/v1/audit/anchor")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}

	if body.Anchor == nil {
		fmt.Println("Nothing to anchor.")
		return nil
	}
	fmt.Printf("Anchored events [%d, %d]\n", body.Anchor.FromSeq, body.Anchor.ToSeq)
	fmt.Printf("  Root: %s\n", body.Anchor.Root)
	fmt.Printf("  Ref:  %s\n", body.Anchor.ExternalRef)
	return nil
}
