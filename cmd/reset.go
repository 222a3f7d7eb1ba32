package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facelog/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB    bool
	resetFiles bool
	resetLogs  bool
	resetYes   bool
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset system state (Saved Faces, Journal, Logs)",
	Long:        "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Annotations: map[string]string{needsDB: optional},
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles && !resetLogs {
			resetDB = true
			resetFiles = true
			resetLogs = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB && DB != nil {
			if resetYes || confirm(reader, "⚠️  Are you sure you want to DROP the sighting journal?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetFiles {
			if resetYes || confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete all saved faces in %s?", Settings.DetectedFacesDir)) {
				fmt.Println("🗑️  Clearing Saved Faces...")
				clearDir(Settings.DetectedFacesDir)
			}
		}

		if resetLogs {
			if resetYes || confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete all logs in %s?", Settings.LogsDir)) {
				fmt.Println("🗑️  Clearing Logs...")
				// The current run's log file is open; it is recreated on the next run
				clearDir(Settings.LogsDir)
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Clear the PostgreSQL journal")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear saved face images")
	resetCmd.Flags().BoolVar(&resetLogs, "logs", false, "Clear log files")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

// clearDir removes the contents of path but keeps the directory itself.
func clearDir(path string) {
	items, err := os.ReadDir(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to read %s: %v\n", path, err)
		return
	}
	for _, item := range items {
		removeDir(filepath.Join(path, item.Name()))
	}
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
