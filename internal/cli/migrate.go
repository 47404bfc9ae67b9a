package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/walletwise/walletwise/backend/internal/seed"
)

var migrateCmd = needsStore(&cobra.Command{
	Use:   "migrate",
	Short: "Create or update the chatbot tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := dataStore.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Migrations completed")
		return nil
	},
})

var seedCmd = needsStore(&cobra.Command{
	Use:   "seed FILE",
	Short: "Load model candidates and config from a YAML seed file",
	Long:  `Seeding writes only into empty tables; existing rows are never touched.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := seed.Load(args[0])
		if err != nil {
			return err
		}
		res, err := seed.Apply(cmd.Context(), f, dataStore, settings)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d models and %d config keys\n", res.Models, res.Config)
		return nil
	},
})
