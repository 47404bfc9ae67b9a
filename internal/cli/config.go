package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/walletwise/walletwise/backend/internal/seed"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

var (
	exportFormat string
	exportOutput string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Export and import chatbot configuration",
}

var configListCmd = needsStore(&cobra.Command{
	Use:   "list",
	Short: "List config keys with version and state",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := settings.List(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, e := range entries {
			state := "active"
			if !e.IsActive {
				state = "inactive"
			}
			fmt.Fprintf(w, "%-32s v%-4d %-8s %s\n", e.Key, e.Version, state, e.UpdatedBy)
		}
		return nil
	},
})

var configExportCmd = needsStore(&cobra.Command{
	Use:   "export",
	Short: "Export active config as YAML (seed format) or JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := settings.Export(cmd.Context())
		if err != nil {
			return err
		}
		data, err := encodeExport(items, exportFormat)
		if err != nil {
			return err
		}
		if exportOutput == "" || exportOutput == "-" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(exportOutput, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", exportOutput, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d keys to %s\n", len(items), exportOutput)
		return nil
	},
})

var configImportCmd = needsStore(&cobra.Command{
	Use:   "import FILE",
	Short: "Import config from a YAML or JSON export, creating or updating keys",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to read import: %w", err)
		}

		items, err := decodeExport(data, filepath.Ext(args[0]))
		if err != nil {
			return err
		}
		res, err := settings.Import(cmd.Context(), items, Actor)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %d, updated %d, unchanged %d\n", res.Created, res.Updated, res.Unchanged)
		for _, e := range res.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "  error: %s\n", e)
		}
		if len(res.Errors) > 0 {
			return fmt.Errorf("%d keys failed to import", len(res.Errors))
		}
		return nil
	},
})

func init() {
	configExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "yaml", "output format: yaml or json")
	configExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")

	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configExportCmd)
	configCmd.AddCommand(configImportCmd)
}

func encodeExport(items []models.ConfigExport, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "json":
		data, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case "yaml", "yml":
		f, err := seed.FromExport(items)
		if err != nil {
			return nil, err
		}
		return yaml.Marshal(f)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// decodeExport accepts a JSON array of exports or a YAML seed document.
// Files without a recognised extension are sniffed.
func decodeExport(data []byte, ext string) ([]models.ConfigExport, error) {
	isJSON := ext == ".json"
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		isJSON = strings.HasPrefix(strings.TrimSpace(string(data)), "[")
	}
	if isJSON {
		var items []models.ConfigExport
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("failed to parse JSON export: %w", err)
		}
		return items, nil
	}
	f, err := seed.Parse(data)
	if err != nil {
		return nil, err
	}
	return f.Exports()
}
