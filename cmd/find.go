package cmd

import (
	"context"
	"fmt"
	"image"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facelog/internal/features"
	"github.com/andresmejia3/facelog/internal/gallery"
	"github.com/andresmejia3/facelog/internal/match"
	"github.com/andresmejia3/facelog/internal/utils"
	"github.com/andresmejia3/facelog/internal/vision"
	"github.com/spf13/cobra"
)

var findOpts Options

var findCmd = &cobra.Command{
	Use:         "find <image_path>",
	Short:       "Search the saved faces (or the journal) for the face in an image",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsDB: optional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if !cmd.Flags().Changed("threshold") {
			findOpts.MatchThreshold = Settings.SimilarityThreshold
		}
		return runFind(cmd.Context(), args[0], findOpts)
	},
}

func init() {
	findCmd.Flags().Float64VarP(&findOpts.MatchThreshold, "threshold", "t", match.DefaultThreshold, "Minimum cosine similarity (default from config)")
	findCmd.Flags().IntVarP(&findOpts.Limit, "limit", "l", 5, "Maximum number of matches")
	findCmd.Flags().BoolVarP(&findOpts.Journal, "journal", "j", false, "Search the database journal instead of the faces directory")
	rootCmd.AddCommand(findCmd)
}

func runFind(ctx context.Context, imagePath string, opts Options) error {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}
	if opts.Journal && DB == nil {
		err := fmt.Errorf("--journal needs a database: pass --db or set database_url")
		utils.ShowError("No journal configured", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	query, err := describeQuery(imagePath)
	if err != nil {
		utils.ShowError("Could not describe the face in the image", err, nil)
		return err
	}

	if opts.Journal {
		return findInJournal(ctx, query, opts)
	}
	return findInGallery(query, opts)
}

// describeQuery extracts the descriptor of the largest face in the image.
// Without a detectable face (e.g. a stored crop) the whole picture is used.
func describeQuery(path string) (match.Descriptor, error) {
	img, err := gallery.Load(path)
	if err != nil {
		return nil, err
	}

	box := img.Bounds()
	if detector, err := vision.NewFaceDetector(Settings.ModelsDir); err != nil {
		Log.Module("find").Warn("face cascade unavailable, using the whole image", "error", err)
	} else {
		boxes, err := detector.Detect(img)
		detector.Close()
		if err != nil {
			return nil, err
		}
		if len(boxes) > 1 {
			fmt.Printf("⚠️  Multiple faces detected (%d). Using the largest face.\n", len(boxes))
		}
		if len(boxes) > 0 {
			box = largest(boxes)
		}
	}

	face, err := features.NewExtractor().Extract(img, box)
	if err != nil {
		return nil, err
	}
	return face.Descriptor, nil
}

func largest(boxes []image.Rectangle) image.Rectangle {
	best := boxes[0]
	for _, b := range boxes[1:] {
		if b.Dx()*b.Dy() > best.Dx()*best.Dy() {
			best = b
		}
	}
	return best
}

func findInGallery(query match.Descriptor, opts Options) error {
	entries, err := gallery.List(Settings.DetectedFacesDir)
	if err != nil {
		utils.ShowError("Failed to list saved faces", err, nil)
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No saved faces found in", Settings.DetectedFacesDir)
		return nil
	}

	fmt.Fprintf(os.Stderr, "🗂️  Indexing %d saved faces...\n", len(entries))
	idx, failed := gallery.Build(features.NewExtractor(), entries)
	for path, err := range failed {
		Log.Module("find").Debug("image not indexed", "path", path, "error", err)
	}

	hits := idx.Search(query, opts.Limit, opts.MatchThreshold)
	if len(hits) == 0 {
		fmt.Println("❌ No match found among saved faces.")
		return nil
	}

	byPath := make(map[string]gallery.Entry, len(entries))
	for _, e := range entries {
		byPath[e.Path] = e
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SIMILARITY\tSEEN\tFILE")
	fmt.Fprintln(w, "----------\t----\t----")
	for _, h := range hits {
		e := byPath[h.Key]
		fmt.Fprintf(w, "%.3f\t%s\t%s\n", h.Similarity, e.Time.Format("2006-01-02 15:04:05"), e.Path)
	}
	return w.Flush()
}

func findInJournal(ctx context.Context, query match.Descriptor, opts Options) error {
	fmt.Fprintln(os.Stderr, "🗄️  Searching database...")
	matches, err := DB.FindClosestSightings(ctx, query, 1-opts.MatchThreshold, opts.Limit)
	if err != nil {
		utils.ShowError("Database search failed", err, nil)
		return err
	}
	if len(matches) == 0 {
		fmt.Println("❌ No match found in database.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SIMILARITY\tSEEN\tID\tFILE")
	fmt.Fprintln(w, "----------\t----\t--\t----")
	for _, m := range matches {
		file := m.FilePath
		if file == "" {
			file = "-"
		}
		fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\n", 1-m.Distance, m.Timestamp.Local().Format("2006-01-02 15:04:05"), m.ID, file)
	}
	return w.Flush()
}
