package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/facelog/internal/sighting"
	"github.com/andresmejia3/facelog/internal/types"
	"github.com/andresmejia3/facelog/internal/utils"
	"github.com/andresmejia3/facelog/internal/vision"
	"github.com/andresmejia3/facelog/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const megabyte = 1024 * 1024

var (
	scanOpts  Options
	scanStart string
)

var scanCmd = &cobra.Command{
	Use:         "scan",
	Short:       "Run a video file through the face logger using media time as the clock",
	Annotations: map[string]string{needsDB: optional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := validateScanFlags(&scanOpts); err != nil {
			utils.ShowError("Invalid scan options", err, nil)
			return err
		}
		base, err := parseStart(scanStart, time.Now())
		if err != nil {
			utils.ShowError("Invalid --start time (use RFC 3339, e.g. 2024-03-09T14:05:07Z)", err, nil)
			return err
		}
		return runScan(cmd.Context(), scanOpts, base)
	},
}

func init() {
	scanCmd.Flags().StringVarP(&scanOpts.InputPath, "input", "i", "", "Path to video")
	scanCmd.Flags().IntVarP(&scanOpts.NthFrame, "nth-frame", "n", 5, "Detection interval (e.g. detect on every 5th frame)")
	scanCmd.Flags().IntVarP(&scanOpts.NumEngines, "engines", "e", 1, "Number of parallel detection workers")
	scanCmd.Flags().StringVar(&scanStart, "start", "", "Wall-clock time of the first frame, RFC 3339 (default: now)")

	scanCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(scanCmd)
}

// Buffer pool to reduce GC pressure during scanning
var frameBufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, 0, megabyte) },
}

func releaseFrame(b []byte) {
	frameBufferPool.Put(b[:0])
}

// runScan orchestrates the video scan: detector pool, FFmpeg streaming, in-order admission and progress.
func runScan(ctx context.Context, opts Options, base time.Time) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	videoID, err := utils.GenerateVideoID(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to generate video ID", err, nil)
		return err
	}
	session := shortID(videoID)
	log := scanLogger(session)

	fps, err := utils.GetVideoFPS(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to determine video FPS", err, nil)
		return err
	}

	p, err := newPipeline(ctx)
	if err != nil {
		utils.ShowError("Failed to start admission engine", err, nil)
		return err
	}
	defer p.Close()

	// One cascade per worker; a classifier is not safe for concurrent use
	detectors := make([]worker.Detector, 0, opts.NumEngines)
	for i := 0; i < opts.NumEngines; i++ {
		d, err := vision.NewFaceDetector(Settings.ModelsDir)
		if err != nil {
			utils.ShowError("Failed to load face cascade", err, nil)
			return err
		}
		defer d.Close()
		detectors = append(detectors, d)
	}

	serveMetrics(ctx, Settings.MetricsAddr, p.metrics)

	fmt.Fprintf(os.Stderr, "📼 Processing Video ID: %s (%.2f fps)\n", session, fps)
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Detection Workers...\n", opts.NumEngines)
	log.Info("scan started", "input", opts.InputPath, "fps", fps, "start", base, "journal", DB != nil)

	totalVideoFrames := utils.GetTotalFrames(opts.InputPath)
	if totalVideoFrames <= 0 {
		// Fallback to a spinner or unknown total if ffprobe fails
		totalVideoFrames = -1
	}

	bar := progressbar.NewOptions(totalVideoFrames,
		progressbar.OptionSetDescription("🔍 facelog scanning"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	taskChan := make(chan types.FrameTask, opts.NumEngines)
	resultsChan := make(chan types.FrameResult, opts.NumEngines*2)
	worker.StartPool(ctx, detectors, releaseFrame, taskChan, resultsChan)

	// Aggregator must run concurrently to prevent deadlock on resultsChan
	var sum tally
	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		admitResults(ctx, resultsChan, p, session, base, fps, opts.NthFrame, &sum)
	}()

	ffmpeg := utils.NewFFmpegCmd(opts.InputPath)
	ffmpegOut, err := ffmpeg.StdoutPipe()
	if err != nil {
		close(taskChan)
		<-aggDone
		utils.ShowError("Failed to create FFmpeg stdout pipe", err, nil)
		return err
	}
	defer ffmpegOut.Close() // Ensure pipe is closed to prevent leaks/zombies

	if err := ffmpeg.Start(); err != nil {
		close(taskChan)
		<-aggDone
		utils.ShowError("Failed to start FFmpeg", err, nil)
		return err
	}

	scanner := bufio.NewScanner(ffmpegOut)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	totalFrames, sentFrames := 0, 0
	interrupted := false
read:
	for scanner.Scan() {
		if ctx.Err() != nil {
			interrupted = true
			break
		}
		totalFrames++
		bar.Add(1)
		p.metrics.IncFrames()

		if totalFrames%opts.NthFrame != 0 {
			continue
		}
		buf := frameBufferPool.Get().([]byte)
		if cap(buf) < len(scanner.Bytes()) {
			buf = make([]byte, len(scanner.Bytes()))
		}
		buf = buf[:len(scanner.Bytes())]
		copy(buf, scanner.Bytes())

		select {
		case taskChan <- types.FrameTask{Index: totalFrames, Data: buf}:
			sentFrames++
		case <-ctx.Done():
			interrupted = true
			break read
		}
	}
	close(taskChan)

	scanErr := scanner.Err()
	if interrupted {
		ffmpeg.Process.Kill()
	}
	waitErr := ffmpeg.Wait()

	// Wait for aggregator to finish admitting what was read
	<-aggDone
	bar.Finish()

	if interrupted {
		fmt.Fprintf(os.Stderr, "\n⏹  Scan interrupted after %d frames.\n", totalFrames)
		sum.print(os.Stderr)
		return nil
	}
	if scanErr != nil {
		utils.ShowError("Frame scanner failed", scanErr, nil)
		return scanErr
	}
	if waitErr != nil {
		utils.ShowError("FFmpeg execution failed", waitErr, ffmpeg)
		return waitErr
	}

	fmt.Fprintf(os.Stderr, "\n🏁 Scan Complete. Processed %d keyframes out of %d total.\n", sentFrames, totalFrames)
	sum.print(os.Stderr)
	return nil
}

// shortID is the session tag shown for a video: the first 12 hex digits of its ID.
func shortID(videoID string) string {
	if len(videoID) > 12 {
		return videoID[:12]
	}
	return videoID
}

// scanLogger tags every scan log line with the video session.
func scanLogger(session string) *slog.Logger {
	return Log.Module("scan").With("video", session)
}

// admitResults re-orders worker output and submits each face with its media timestamp.
// Frames must reach the engine in order because its clock only moves forward.
func admitResults(ctx context.Context, results <-chan types.FrameResult, p *pipeline, session string, base time.Time, fps float64, nth int, sum *tally) {
	log := scanLogger(session)
	seq := worker.NewSequencer(nth, nth)

	for res := range results {
		for _, frame := range seq.Push(res) {
			if frame.Err != nil {
				log.Warn("frame skipped", "frame", frame.Index, "error", frame.Err)
				continue
			}
			p.metrics.AddDetections(len(frame.Boxes))

			at := mediaTime(base, frame.Index, fps)
			for _, box := range frame.Boxes {
				out := p.engine.SubmitAt(ctx, frame.Frame, box, at)
				sum.add(out)
				if out.Admitted() {
					fmt.Fprintf(os.Stdout, "👤 New face at %s -> %s\n", fmtTime(at.Sub(base).Seconds()), savedPath(out))
				}
			}
		}
	}
	if n := seq.Pending(); n > 0 {
		log.Warn("frames never admitted, an earlier frame is missing", "pending", n)
	}
}

func savedPath(out sighting.Outcome) string {
	if out.Record == nil || out.Record.FilePath == "" {
		return "(not saved)"
	}
	return out.Record.FilePath
}

// mediaTime maps a 1-based frame index to wall time.
func mediaTime(base time.Time, index int, fps float64) time.Time {
	if fps <= 0 || index < 1 {
		return base
	}
	return base.Add(time.Duration(float64(index-1) / fps * float64(time.Second)))
}

// parseStart parses an RFC 3339 start time, defaulting to now.
func parseStart(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	return time.Parse(time.RFC3339, s)
}

// validateScanFlags ensures all CLI arguments are valid before starting heavy processes.
func validateScanFlags(opts *Options) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %w", err)
		}
		return fmt.Errorf("unable to access input file: %w", err)
	}
	if info.IsDir() {
		return errors.New("input path is a directory, expected a video file")
	}
	if opts.NthFrame < 1 {
		return fmt.Errorf("invalid nth-frame interval: must be >= 1, got %d", opts.NthFrame)
	}
	if opts.NumEngines < 1 {
		opts.NumEngines = 1
	}
	return nil
}

func fmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
