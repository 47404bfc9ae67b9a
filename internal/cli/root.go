// Package cli implements walletctl, the operator command line for the
// chatbot tables: migrations, seeding, config export and import, model
// candidates and development tokens.
package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/walletwise/walletwise/backend/internal/cache"
	"github.com/walletwise/walletwise/backend/internal/config"
	"github.com/walletwise/walletwise/backend/internal/configstore"
	"github.com/walletwise/walletwise/backend/internal/database"
	"github.com/walletwise/walletwise/backend/internal/store"
)

// Actor is recorded on config changes made from the command line.
const Actor = "walletctl"

var (
	cfg       *config.Config
	dataStore store.Store
	settings  *configstore.Service
)

var rootCmd = &cobra.Command{
	Use:   "walletctl",
	Short: "Operate the WalletWise chatbot backend",
	Long: `walletctl works directly against the chatbot database configured through
the same environment variables as the server (DATABASE_DRIVER, DATABASE_URL).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if cmd.Annotations["store"] != "required" {
			return nil
		}
		if cfg.Database.Driver == "memory" {
			return fmt.Errorf("walletctl needs a persistent database, DATABASE_DRIVER is memory")
		}

		db, err := database.New(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		dataStore = store.NewGormStore(db)
		settings = configstore.New(dataStore, cache.NewTTL[string, json.RawMessage](cfg.Chatbot.ConfigCacheTTL))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if dataStore != nil {
			return dataStore.Close()
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(tokenCmd)
}

// needsStore marks a command that opens the database.
func needsStore(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations["store"] = "required"
	return cmd
}
