package cli

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

// ─── Claim Commands ─────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(standingCmd)
	claimCmd.AddCommand(claimSubmitCmd)
	claimCmd.AddCommand(claimListCmd)

	claimCmd.PersistentFlags().String("as", "", "Contributor ID to act as (or GUILDHALL_CONTRIBUTOR)")
	claimSubmitCmd.Flags().String("wallet", "", "Wallet address for the payout")
}

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Submit and inspect reward claims",
}

var claimSubmitCmd = &cobra.Command{
	Use:   "submit POINTS",
	Short: "Claim earned points for token payout",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaimSubmit,
}

func runClaimSubmit(cmd *cobra.Command, args []string) error {
	contributor, err := contributorFlag(cmd)
	if err != nil {
		return err
	}
	wallet, _ := cmd.Flags().GetString("wallet")

	var points int64
	if _, err := fmt.Sscanf(args[0], "%d", &points); err != nil {
		return fmt.Errorf("invalid points amount %q", args[0])
	}

	var out struct {
		ID          string  `json:"id"`
		TokenAmount float64 `json:"token_amount"`
		Status      string  `json:"status"`
	}
	err = callContributorAPI(contributor, http.MethodPost, "/api/claims", map[string]any{
		"points_amount":  points,
		"wallet_address": wallet,
	}, &out)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Claim %s submitted: %d points → %.2f tokens (%s)\n",
		out.ID, points, out.TokenAmount, out.Status)
	return nil
}

var claimListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your claims and claimable balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		contributor, err := contributorFlag(cmd)
		if err != nil {
			return err
		}

		var out struct {
			ClaimablePoints int64 `json:"claimable_points"`
			Claims          []struct {
				ID           string  `json:"id"`
				PointsAmount int64   `json:"points_amount"`
				TokenAmount  float64 `json:"token_amount"`
				Status       string  `json:"status"`
			} `json:"claims"`
		}
		if err := callContributorAPI(contributor, http.MethodGet, "/api/claims", nil, &out); err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Claimable balance: %d points\n", out.ClaimablePoints)
		if len(out.Claims) == 0 {
			fmt.Fprintln(os.Stdout, "No claims.")
			return nil
		}
		for _, c := range out.Claims {
			fmt.Fprintf(os.Stdout, "  %-36s %6d pts  %10.2f tokens  %s\n",
				c.ID, c.PointsAmount, c.TokenAmount, c.Status)
		}
		return nil
	},
}

// ─── Standing ───────────────────────────────────────────────────────────────

var standingCmd = &cobra.Command{
	Use:   "standing CONTRIBUTOR_ID",
	Short: "Show a contributor's standing score",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := callAPI(http.MethodGet, "/api/contributors/"+args[0]+"/standing", nil, &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

func contributorFlag(cmd *cobra.Command) (string, error) {
	contributor, _ := cmd.Flags().GetString("as")
	if contributor == "" {
		contributor = os.Getenv("GUILDHALL_CONTRIBUTOR")
	}
	if contributor == "" {
		return "", fmt.Errorf("contributor required: pass --as or set GUILDHALL_CONTRIBUTOR")
	}
	return contributor, nil
}
