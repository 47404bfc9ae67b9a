package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/walletwise/walletwise/backend/pkg/models"
)

var (
	modelsAll   bool
	modelsLimit int
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect and manage model candidates",
}

var modelsListCmd = needsStore(&cobra.Command{
	Use:   "list",
	Short: "List model candidates by priority",
	RunE: func(cmd *cobra.Command, args []string) error {
		cands, err := dataStore.ListModelCandidates(cmd.Context(), !modelsAll)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-4s %-4s %-12s %-40s %-6s %-6s %s\n", "ID", "PRI", "PROVIDER", "MODEL", "ACTIVE", "TOOLS", "HEALTH")
		for _, c := range cands {
			fmt.Fprintf(w, "%-4d %-4d %-12s %-40s %-6t %-6t %.2f\n",
				c.ID, c.Priority, c.Provider, c.ModelName, c.IsActive, c.SupportsTools, c.HealthScore)
		}
		return nil
	},
})

var modelsLogsCmd = needsStore(&cobra.Command{
	Use:   "logs MODEL_ID",
	Short: "Show recent health log rows for a candidate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid model id %q", args[0])
		}
		logs, err := dataStore.ListHealthLogs(cmd.Context(), uint(id), modelsLimit)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, l := range logs {
			fmt.Fprintf(w, "%s  %-9s %6dms  %s\n", l.CreatedAt.Format("2006-01-02 15:04:05"), l.Status, l.ResponseTimeMs, l.ErrorMessage)
		}
		return nil
	},
})

var modelsDeactivateCmd = needsStore(&cobra.Command{
	Use:   "deactivate MODEL_ID",
	Short: "Deactivate a candidate; running servers pick it up on reload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid model id %q", args[0])
		}
		c, err := dataStore.GetModelCandidate(cmd.Context(), uint(id))
		if err != nil {
			return err
		}
		inactive := false
		patch := models.ModelCandidatePatch{IsActive: &inactive}
		patch.Apply(c)
		if err := dataStore.UpdateModelCandidate(cmd.Context(), c); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %s (%d)\n", c.ModelName, c.ID)
		return nil
	},
})

func init() {
	modelsListCmd.Flags().BoolVarP(&modelsAll, "all", "a", false, "include inactive candidates")
	modelsLogsCmd.Flags().IntVarP(&modelsLimit, "limit", "n", 20, "number of rows")

	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsLogsCmd)
	modelsCmd.AddCommand(modelsDeactivateCmd)
}
