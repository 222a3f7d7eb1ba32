package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facelog/internal/gallery"
	"github.com/andresmejia3/facelog/internal/quality"
	"github.com/andresmejia3/facelog/internal/utils"
	"github.com/andresmejia3/facelog/internal/vision"
	"github.com/spf13/cobra"
)

var detectOpts Options

var detectCmd = &cobra.Command{
	Use:   "detect <image_path>",
	Short: "Detect faces in an image and write a copy with the boxes drawn",
	Long:  "Runs the face detector and the quality gate on a single picture. Nothing is saved to the faces directory.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		detectOpts.InputPath = args[0]
		if detectOpts.OutputPath == "" {
			detectOpts.OutputPath = annotatedPath(args[0])
		}
		return runDetect(detectOpts)
	},
}

func init() {
	detectCmd.Flags().StringVarP(&detectOpts.OutputPath, "output", "o", "", "Annotated output path (default: <name>_faces.jpg next to the input)")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(opts Options) error {
	img, err := gallery.Load(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to read image", err, nil)
		return err
	}

	detector, err := vision.NewFaceDetector(Settings.ModelsDir)
	if err != nil {
		utils.ShowError("Failed to load face cascade", err, nil)
		return err
	}
	defer detector.Close()

	eyes, err := vision.NewEyeDetector(Settings.ModelsDir)
	if err != nil {
		utils.ShowError("Failed to load eye cascade", err, nil)
		return err
	}
	defer eyes.Close()

	boxes, err := detector.Detect(img)
	if err != nil {
		utils.ShowError("Face detection failed", err, nil)
		return err
	}
	if len(boxes) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}

	gate := quality.NewGate(quality.DefaultThresholds(), eyes)
	labels := make([]vision.Label, 0, len(boxes))
	for i, box := range boxes {
		v := gate.Assess(img, box)
		labels = append(labels, vision.Label{Box: box, Text: v.Reason, OK: v.Accepted})
		mark := "✅"
		if !v.Accepted {
			mark = "🚫"
		}
		fmt.Printf("%s Face %d at %v: %s\n", mark, i+1, box, v.Reason)
	}

	if err := vision.Annotate(img, labels, opts.OutputPath); err != nil {
		utils.ShowError("Failed to write annotated image", err, nil)
		return err
	}
	fmt.Printf("🖼️  Annotated image written to %s\n", opts.OutputPath)
	return nil
}

func annotatedPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_faces.jpg"
}
