package cmd

import (
	"fmt"

	"github.com/andresmejia3/facelog/internal/gallery"
	"github.com/andresmejia3/facelog/internal/utils"
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:         "delete <file_name>...",
	Short:       "Delete saved faces (and their journal entries)",
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{needsDB: optional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		failed := 0
		for _, name := range args {
			path, err := gallery.Remove(Settings.DetectedFacesDir, name)
			if err != nil {
				utils.ShowError("Failed to delete "+name, err, nil)
				failed++
				continue
			}
			fmt.Printf("🗑️  Deleted %s\n", path)

			if DB == nil {
				continue
			}
			n, err := DB.DeleteByFile(cmd.Context(), path)
			if err != nil {
				utils.ShowError("Failed to remove journal entries for "+name, err, nil)
				failed++
				continue
			}
			if n > 0 {
				fmt.Printf("   %d journal entr%s removed\n", n, plural(n, "y", "ies"))
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d deletions failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
