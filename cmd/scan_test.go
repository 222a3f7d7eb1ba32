package cmd

import (
	"bytes"
	"context"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/facelog/internal/features"
	"github.com/andresmejia3/facelog/internal/logging"
	"github.com/andresmejia3/facelog/internal/match"
	"github.com/andresmejia3/facelog/internal/persist"
	"github.com/andresmejia3/facelog/internal/quality"
	"github.com/andresmejia3/facelog/internal/sighting"
	"github.com/andresmejia3/facelog/internal/types"
	"github.com/andresmejia3/facelog/internal/utils"
)

type acceptAll struct{}

func (acceptAll) Assess(image.Image, image.Rectangle) quality.Verdict {
	return quality.Verdict{Accepted: true, Reason: quality.ReasonOK}
}

// identityExtractor gives every box.Min.X/100 its own orthogonal descriptor.
type identityExtractor struct{}

func (identityExtractor) Extract(_ image.Image, box image.Rectangle) (*features.Face, error) {
	d := make(match.Descriptor, 8)
	d[(box.Min.X/100)%8] = 1
	return &features.Face{Region: box, Crop: image.NewRGBA(image.Rect(0, 0, 8, 8)), Descriptor: d}, nil
}

func testPipeline(t *testing.T) (*pipeline, string) {
	t.Helper()
	var err error
	if Log, err = logging.New(logging.Config{}, nil); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	sink, err := persist.NewFileSink(dir)
	if err != nil {
		t.Fatal(err)
	}
	engine := sighting.NewEngine(sighting.DefaultConfig(), acceptAll{}, identityExtractor{}, persist.NewDirect(sink),
		sighting.WithLogger(Log.Module("sighting")))
	return &pipeline{engine: engine}, dir
}

func TestAdmitResults_InMediaOrder(t *testing.T) {
	p, dir := testPipeline(t)
	base := time.Date(2024, 3, 9, 14, 5, 0, 0, time.Local)
	frame := image.NewRGBA(image.Rect(0, 0, 640, 480))

	results := make(chan types.FrameResult, 4)
	// Frame 10 finishes before frame 5; at 1 fps they are 5s apart
	results <- types.FrameResult{Index: 10, Frame: frame, Boxes: []image.Rectangle{image.Rect(200, 50, 300, 150)}}
	results <- types.FrameResult{Index: 5, Frame: frame, Boxes: []image.Rectangle{image.Rect(100, 50, 200, 150)}}
	results <- types.FrameResult{Index: 15, Err: os.ErrInvalid}
	close(results)

	var sum tally
	admitResults(context.Background(), results, p, "0123456789ab", base, 1, 5, &sum)

	if sum.admitted != 2 {
		t.Fatalf("Expected 2 admissions, got %+v", sum)
	}
	records := p.engine.Records()
	if !records[0].Timestamp.Equal(base.Add(4*time.Second)) || !records[1].Timestamp.Equal(base.Add(9*time.Second)) {
		t.Errorf("Expected media timestamps +4s and +9s, got %v and %v", records[0].Timestamp, records[1].Timestamp)
	}
	if records[0].Box.Min.X != 100 {
		t.Errorf("Expected frame 5 to be admitted first, got box %v", records[0].Box)
	}

	want := filepath.Join(dir, persist.FaceName(base.Add(4*time.Second), 0))
	if records[0].FilePath != want {
		t.Errorf("Expected crop at %s, got %s", want, records[0].FilePath)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("Expected crop file to exist: %v", err)
	}
}

func TestAdmitResults_RepeatSuppressed(t *testing.T) {
	p, _ := testPipeline(t)
	base := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)
	frame := image.NewRGBA(image.Rect(0, 0, 640, 480))
	same := []image.Rectangle{image.Rect(100, 50, 200, 150)}

	results := make(chan types.FrameResult, 3)
	results <- types.FrameResult{Index: 1, Frame: frame, Boxes: same}
	results <- types.FrameResult{Index: 2, Frame: frame, Boxes: same} // +5s, duplicate
	results <- types.FrameResult{Index: 3, Frame: frame, Boxes: same} // +10s, duplicate
	close(results)

	var sum tally
	admitResults(context.Background(), results, p, "0123456789ab", base, 0.2, 1, &sum)

	if sum.admitted != 1 || sum.duplicates != 2 {
		t.Errorf("Expected 1 admission and 2 duplicates, got %+v", sum)
	}
}

func TestAdmitResults_TagsVideoSession(t *testing.T) {
	p, _ := testPipeline(t)
	var buf bytes.Buffer
	var err error
	if Log, err = logging.New(logging.Config{Level: "debug", Format: "json"}, &buf); err != nil {
		t.Fatal(err)
	}

	results := make(chan types.FrameResult, 1)
	results <- types.FrameResult{Index: 1, Err: os.ErrInvalid}
	close(results)

	var sum tally
	admitResults(context.Background(), results, p, "0123456789ab", time.Now(), 1, 1, &sum)

	if !strings.Contains(buf.String(), `"video":"0123456789ab"`) {
		t.Errorf("Expected scan log lines to carry the video session, got %s", buf.String())
	}
}

func TestShortID(t *testing.T) {
	id, err := utils.GenerateVideoID(writeTemp(t, "clip.mp4", "not really a video"))
	if err != nil {
		t.Fatal(err)
	}
	if got := shortID(id); len(got) != 12 || got != id[:12] {
		t.Errorf("shortID(%q) = %q, want the first 12 digits", id, got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID(\"abc\") = %q, want abc", got)
	}
}

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMediaTime(t *testing.T) {
	base := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)
	tests := []struct {
		index int
		fps   float64
		want  time.Duration
	}{
		{1, 25, 0},
		{26, 25, time.Second},
		{31, 30, time.Second},
		{3, 0.5, 4 * time.Second},
		{10, 0, 0},
		{0, 25, 0},
	}
	for _, tt := range tests {
		if got := mediaTime(base, tt.index, tt.fps); !got.Equal(base.Add(tt.want)) {
			t.Errorf("mediaTime(%d, %v) = +%v, want +%v", tt.index, tt.fps, got.Sub(base), tt.want)
		}
	}
}

func TestParseStart(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	got, err := parseStart("", now)
	if err != nil || !got.Equal(now) {
		t.Errorf("Expected default to now, got %v (%v)", got, err)
	}
	got, err = parseStart("2024-01-02T03:04:05Z", now)
	if err != nil || !got.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("Unexpected parse result %v (%v)", got, err)
	}
	if _, err := parseStart("yesterday", now); err == nil {
		t.Error("Expected error for invalid start")
	}
}

func TestFmtTime(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00"},
		{65, "00:01:05"},
		{3661, "01:01:01"},
	}

	for _, tt := range tests {
		if got := fmtTime(tt.seconds); got != tt.want {
			t.Errorf("fmtTime(%v) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestValidateScanFlags(t *testing.T) {
	// Create a temp file for valid input
	tmpFile, err := os.CreateTemp("", "video.mp4")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	// Create a temp dir for invalid input
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{
			name:    "Valid options",
			opts:    Options{InputPath: tmpFile.Name(), NthFrame: 1, NumEngines: 2},
			wantErr: false,
		},
		{
			name:    "Input file does not exist",
			opts:    Options{InputPath: "nonexistent.mp4", NthFrame: 1},
			wantErr: true,
		},
		{
			name:    "Input is directory",
			opts:    Options{InputPath: tmpDir, NthFrame: 1},
			wantErr: true,
		},
		{
			name:    "Invalid NthFrame",
			opts:    Options{InputPath: tmpFile.Name(), NthFrame: 0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateScanFlags(&tt.opts); (err != nil) != tt.wantErr {
				t.Errorf("validateScanFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	opts := Options{InputPath: tmpFile.Name(), NthFrame: 1, NumEngines: 0}
	if err := validateScanFlags(&opts); err != nil || opts.NumEngines != 1 {
		t.Errorf("Expected engines to default to 1, got %d (%v)", opts.NumEngines, err)
	}
}
