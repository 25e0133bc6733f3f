package cli

import (
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// ─── Settlement Commands ────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(settleCmd)
	settleCmd.AddCommand(settleStatusCmd)
	settleCmd.AddCommand(settleCommitCmd)
	settleCmd.AddCommand(settleKillCmd)

	settleCommitCmd.Flags().String("key", "", "Idempotency key (generated when omitted)")
	settleKillCmd.Flags().String("reason", "", "Why the settlement is being killed")
}

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Inspect and commit sprint settlements",
}

var settleStatusCmd = &cobra.Command{
	Use:   "status SPRINT_ID",
	Short: "Show a sprint's settlement state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := callAPI(http.MethodGet, "/api/sprints/"+args[0]+"/settlement", nil, &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var settleCommitCmd = &cobra.Command{
	Use:   "commit SPRINT_ID",
	Short: "Commit a sprint's reward settlement",
	Long: `Commit a sprint's reward settlement. The commit is idempotent on the
key: retrying with the same key replays the original figures instead of
emitting twice. Disputes or integrity flags put the settlement on hold.`,
	Args: cobra.ExactArgs(1),
	RunE: runSettleCommit,
}

func runSettleCommit(cmd *cobra.Command, args []string) error {
	key, _ := cmd.Flags().GetString("key")
	if key == "" {
		key = uuid.NewString()
	}

	var out struct {
		Sprint struct {
			SettlementStatus string  `json:"settlement_status"`
			BlockedReason    string  `json:"settlement_blocked_reason"`
			EmissionCap      float64 `json:"emission_cap"`
			CarryoverAmount  float64 `json:"carryover_amount"`
		} `json:"sprint"`
		Figures struct {
			Emitted float64 `json:"emitted"`
		} `json:"figures"`
		Replayed bool `json:"replayed"`
	}
	err := callAPI(http.MethodPost, "/api/sprints/"+args[0]+"/settlement/commit",
		map[string]string{"idempotency_key": key}, &out)
	if err != nil {
		return err
	}

	switch out.Sprint.SettlementStatus {
	case "held":
		fmt.Fprintf(os.Stdout, "Settlement HELD: %s\n", out.Sprint.BlockedReason)
		fmt.Fprintf(os.Stdout, "Resolve the blockers and retry: guildhall settle commit %s --key %s\n", args[0], key)
	case "committed":
		if out.Replayed {
			fmt.Fprintln(os.Stdout, "Settlement already committed; replaying recorded figures.")
		}
		fmt.Fprintf(os.Stdout, "Settlement committed: cap %.2f, emitted %.2f, carryover %.2f\n",
			out.Sprint.EmissionCap, out.Figures.Emitted, out.Sprint.CarryoverAmount)
	default:
		fmt.Fprintf(os.Stdout, "Settlement status: %s\n", out.Sprint.SettlementStatus)
	}
	return nil
}

var settleKillCmd = &cobra.Command{
	Use:   "kill SPRINT_ID",
	Short: "Permanently kill a sprint's settlement",
	Long:  `Permanently kill a sprint's settlement. A killed settlement can never be committed; this is not reversible.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		var out map[string]any
		err := callAPI(http.MethodPost, "/api/sprints/"+args[0]+"/settlement/kill",
			map[string]string{"reason": reason}, &out)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Settlement for sprint %s killed.\n", args[0])
		return nil
	},
}
