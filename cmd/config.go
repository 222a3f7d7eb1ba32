package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:         "config",
	Short:       "Print the effective configuration as YAML",
	Annotations: map[string]string{noSetup: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if Settings.File != "" {
			fmt.Fprintf(os.Stderr, "# loaded from %s\n", Settings.File)
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(Settings); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		return enc.Close()
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
