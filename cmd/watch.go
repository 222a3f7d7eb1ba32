package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/andresmejia3/facelog/internal/sighting"
	"github.com/andresmejia3/facelog/internal/utils"
	"github.com/andresmejia3/facelog/internal/vision"
	"github.com/spf13/cobra"
)

var (
	watchOpts    Options
	watchPreview string
)

var watchCmd = &cobra.Command{
	Use:         "watch",
	Short:       "Watch a camera and save every new face",
	Annotations: map[string]string{needsDB: optional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if !cmd.Flags().Changed("camera") {
			watchOpts.Camera = Settings.Camera
		}
		return runWatch(cmd.Context(), watchOpts)
	},
}

func init() {
	watchCmd.Flags().IntVar(&watchOpts.Camera, "camera", 0, "Capture device index (default from config)")
	watchCmd.Flags().IntVarP(&watchOpts.MaxFrames, "max-frames", "m", 0, "Stop after this many frames (0 = run until interrupted)")
	watchCmd.Flags().StringVarP(&watchPreview, "preview", "p", "", "Write the latest annotated frame to this path")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(ctx context.Context, opts Options) error {
	log := Log.Module("watch")

	p, err := newPipeline(ctx)
	if err != nil {
		utils.ShowError("Failed to start admission engine", err, nil)
		return err
	}
	defer p.Close()

	detector, err := vision.NewFaceDetector(Settings.ModelsDir)
	if err != nil {
		utils.ShowError("Failed to load face cascade", err, nil)
		return err
	}
	defer detector.Close()

	cam, err := vision.OpenCamera(opts.Camera)
	if err != nil {
		utils.ShowError("Failed to open camera", err, nil)
		return err
	}
	defer cam.Close()

	serveMetrics(ctx, Settings.MetricsAddr, p.metrics)

	fmt.Fprintf(os.Stderr, "📷 Watching camera %d. Saving faces to %s (Ctrl+C to stop)\n", opts.Camera, Settings.DetectedFacesDir)
	log.Info("camera loop started", "camera", opts.Camera, "cascade", detector.Path(), "journal", DB != nil)

	var sum tally
	defer sum.print(os.Stderr)

	delay := Settings.FrameDelay()
	for frames := 0; opts.MaxFrames <= 0 || frames < opts.MaxFrames; frames++ {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := cam.Read()
		if err != nil {
			if errors.Is(err, vision.ErrNoFrame) {
				utils.ShowError("Camera stopped delivering frames", err, nil)
			}
			return err
		}
		p.metrics.IncFrames()

		boxes, err := detector.Detect(frame)
		if err != nil {
			log.Warn("detection failed", "error", err)
			continue
		}
		p.metrics.AddDetections(len(boxes))

		labels := make([]vision.Label, 0, len(boxes))
		for _, box := range boxes {
			out := p.engine.Submit(ctx, frame, box)
			sum.add(out)
			report(os.Stdout, out)
			labels = append(labels, labelFor(box, out))
		}

		if watchPreview != "" && len(labels) > 0 {
			if err := vision.Annotate(frame, labels, watchPreview); err != nil {
				log.Warn("preview write failed", "path", watchPreview, "error", err)
			}
		}

		if !sleepCtx(ctx, delay) {
			return nil
		}
	}
	return nil
}

// labelFor mirrors the live view: green OK for usable faces, red reason otherwise.
func labelFor(box image.Rectangle, out sighting.Outcome) vision.Label {
	switch out.Status {
	case sighting.QualityRejected:
		return vision.Label{Box: box, Text: out.Reason}
	case sighting.ExtractionFailed:
		return vision.Label{Box: box, Text: "Error"}
	default:
		return vision.Label{Box: box, Text: "OK", OK: true}
	}
}

// sleepCtx waits d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
