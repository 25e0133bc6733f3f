package cli

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// ─── Sprint Commands ────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(sprintCmd)
	sprintCmd.AddCommand(sprintCreateCmd)
	sprintCmd.AddCommand(sprintListCmd)
	sprintCmd.AddCommand(sprintShowCmd)
	sprintCmd.AddCommand(sprintAdvanceCmd)
	sprintCmd.AddCommand(sprintCompleteCmd)

	sprintCreateCmd.Flags().String("start", "", "Sprint start date (RFC 3339 or YYYY-MM-DD)")
	sprintCreateCmd.Flags().String("end", "", "Sprint end date (RFC 3339 or YYYY-MM-DD)")
	sprintCreateCmd.Flags().Int64("capacity", 0, "Optional point budget")

	sprintCompleteCmd.Flags().String("incomplete", "backlog", "Disposition for unfinished tasks: backlog or next_sprint")
	sprintCompleteCmd.Flags().String("target", "", "Target sprint ID when disposition is next_sprint")
}

var sprintCmd = &cobra.Command{
	Use:   "sprint",
	Short: "Manage sprint lifecycles",
}

// ─── sprint create ──────────────────────────────────────────────────────────

var sprintCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a sprint in the planning phase",
	Args:  cobra.ExactArgs(1),
	RunE:  runSprintCreate,
}

func runSprintCreate(cmd *cobra.Command, args []string) error {
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	capacity, _ := cmd.Flags().GetInt64("capacity")

	startAt, err := parseDate(start)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	endAt, err := parseDate(end)
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}

	var out map[string]any
	err = callAPI(http.MethodPost, "/api/sprints", map[string]any{
		"name":     args[0],
		"start_at": startAt,
		"end_at":   endAt,
		"capacity": capacity,
	}, &out)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Sprint %q created (id %v, phase %v)\n", args[0], out["id"], out["phase"])
	return nil
}

// ─── sprint list / show ─────────────────────────────────────────────────────

var sprintListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sprints",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out []map[string]any
		if err := callAPI(http.MethodGet, "/api/sprints", nil, &out); err != nil {
			return err
		}
		if len(out) == 0 {
			fmt.Fprintln(os.Stdout, "No sprints.")
			return nil
		}
		for _, s := range out {
			fmt.Fprintf(os.Stdout, "  %-36v %-16v %v\n", s["id"], s["phase"], s["name"])
		}
		return nil
	},
}

var sprintShowCmd = &cobra.Command{
	Use:   "show SPRINT_ID",
	Short: "Show a sprint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := callAPI(http.MethodGet, "/api/sprints/"+args[0], nil, &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

// ─── sprint advance ─────────────────────────────────────────────────────────

var sprintAdvanceCmd = &cobra.Command{
	Use:   "advance SPRINT_ID PHASE",
	Short: "Advance a sprint to the given phase",
	Long: `Advance a sprint to the given phase. Only forward single-step
transitions are legal: planning, active, review, dispute_window,
settlement, completed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		err := callAPI(http.MethodPost, "/api/sprints/"+args[0]+"/phase",
			map[string]string{"to": args[1]}, &out)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Sprint %s is now in phase %v\n", args[0], out["phase"])
		return nil
	},
}

// ─── sprint complete ────────────────────────────────────────────────────────

var sprintCompleteCmd = &cobra.Command{
	Use:   "complete SPRINT_ID",
	Short: "Complete a sprint and freeze its snapshot",
	RunE:  runSprintComplete,
	Args:  cobra.ExactArgs(1),
}

func runSprintComplete(cmd *cobra.Command, args []string) error {
	action, _ := cmd.Flags().GetString("incomplete")
	target, _ := cmd.Flags().GetString("target")

	var out struct {
		Snapshot struct {
			TotalTasks     int     `json:"total_tasks"`
			CompletedTasks int     `json:"completed_tasks"`
			CompletionRate float64 `json:"completion_rate"`
		} `json:"snapshot"`
		Blockers []string `json:"settlement_blockers"`
	}
	err := callAPI(http.MethodPost, "/api/sprints/"+args[0]+"/complete", map[string]string{
		"incomplete_action": action,
		"target_sprint_id":  target,
	}, &out)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Sprint %s completed: %d/%d tasks done (%.1f%%)\n",
		args[0], out.Snapshot.CompletedTasks, out.Snapshot.TotalTasks, out.Snapshot.CompletionRate)
	for _, b := range out.Blockers {
		fmt.Fprintf(os.Stdout, "  ⚠ settlement blocker: %s\n", b)
	}
	return nil
}

// parseDate accepts RFC 3339 or a bare date; empty means now.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
