package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/facelog/internal/gallery"
	"github.com/andresmejia3/facelog/internal/utils"
	"github.com/spf13/cobra"
)

var (
	listOpts  Options
	listSince time.Duration
)

var listCmd = &cobra.Command{
	Use:         "list",
	Short:       "List saved faces, newest first",
	Annotations: map[string]string{needsDB: optional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if listOpts.Journal {
			return runListJournal(cmd.Context(), listOpts)
		}
		return runList(listOpts)
	},
}

func init() {
	listCmd.Flags().IntVarP(&listOpts.Limit, "limit", "l", 0, "Show at most this many entries (0 = all)")
	listCmd.Flags().BoolVarP(&listOpts.Journal, "journal", "j", false, "List the database journal instead of the faces directory")
	listCmd.Flags().DurationVar(&listSince, "since", 0, "Only journal entries newer than this (e.g. 24h)")
	rootCmd.AddCommand(listCmd)
}

func runList(opts Options) error {
	entries, err := gallery.List(Settings.DetectedFacesDir)
	if err != nil {
		utils.ShowError("Failed to list saved faces", err, nil)
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No saved faces found in", Settings.DetectedFacesDir)
		return nil
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SEEN\tFILE\tSIZE")
	fmt.Fprintln(w, "----\t----\t----")

	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%.1f KB\n", e.Time.Format("2006-01-02 15:04:05"), e.Name, float64(e.Size)/1024)
	}
	return w.Flush()
}

func runListJournal(ctx context.Context, opts Options) error {
	if DB == nil {
		err := fmt.Errorf("--journal needs a database: pass --db or set database_url")
		utils.ShowError("No journal configured", err, nil)
		return err
	}

	var since time.Time
	if listSince > 0 {
		since = time.Now().Add(-listSince)
	}
	records, err := DB.ListSightings(ctx, since, opts.Limit)
	if err != nil {
		utils.ShowError("Failed to list sightings", err, nil)
		return err
	}

	if len(records) == 0 {
		fmt.Println("No sightings found in database.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SEEN\tID\tBOX\tFILE")
	fmt.Fprintln(w, "----\t--\t---\t----")

	for _, r := range records {
		file := r.FilePath
		if file == "" {
			file = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%dx%d@%d,%d\t%s\n", r.Timestamp.Local().Format("2006-01-02 15:04:05"), r.ID,
			r.Box.Dx(), r.Box.Dy(), r.Box.Min.X, r.Box.Min.Y, file)
	}
	return w.Flush()
}
