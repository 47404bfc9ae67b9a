package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/walletwise/walletwise/backend/internal/retention"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Maintain health and conversation logs",
}

var logsPurgeCmd = needsStore(&cobra.Command{
	Use:   "purge",
	Short: "Run one retention sweep with the configured windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		rc := cfg.Chatbot.Retention
		var archiver retention.Archiver
		if rc.ArchiveDir != "" {
			archiver = retention.NewFileArchiver(rc.ArchiveDir)
		}
		stats, err := retention.NewJanitor(dataStore, rc, archiver).RunOnce(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d health logs and %d conversation logs\n",
			stats.HealthLogsPurged, stats.ConversationLogsPurged)
		if stats.ArchivePath != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Archived %d rows to %s\n", stats.Archived, stats.ArchivePath)
		}
		return err
	},
})

func init() {
	logsCmd.AddCommand(logsPurgeCmd)
}
