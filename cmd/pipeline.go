package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/andresmejia3/facelog/internal/features"
	"github.com/andresmejia3/facelog/internal/metrics"
	"github.com/andresmejia3/facelog/internal/persist"
	"github.com/andresmejia3/facelog/internal/quality"
	"github.com/andresmejia3/facelog/internal/sighting"
	"github.com/andresmejia3/facelog/internal/vision"
	"github.com/prometheus/client_golang/prometheus"
)

// pipeline is the admission engine plus everything it owns.
type pipeline struct {
	engine  *sighting.Engine
	writer  persist.Writer
	eyes    *vision.EyeDetector
	metrics *metrics.Metrics
}

// newPipeline wires the quality gate, extractor, storage and journal from Settings.
func newPipeline(ctx context.Context) (*pipeline, error) {
	log := Log.Module("persist")

	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return nil, err
	}

	eyes, err := vision.NewEyeDetector(Settings.ModelsDir)
	if err != nil {
		return nil, err
	}
	Log.Module("vision").Debug("eye cascade loaded", "path", eyes.Path())

	files, err := persist.NewFileSink(Settings.DetectedFacesDir)
	if err != nil {
		eyes.Close()
		return nil, err
	}

	var sink persist.Sink = files
	if Settings.Mirror.Enabled {
		mc := Settings.Mirror
		obj, err := persist.NewObjectSink(ctx, persist.ObjectConfig{
			Endpoint:  mc.Endpoint,
			AccessKey: mc.AccessKey,
			SecretKey: mc.SecretKey,
			Bucket:    mc.Bucket,
			Prefix:    mc.Prefix,
			UseSSL:    mc.UseSSL,
		})
		if err != nil {
			eyes.Close()
			return nil, fmt.Errorf("failed to open mirror bucket: %w", err)
		}
		sink = persist.NewMirror(files, func(name string, err error) {
			m.IncPersistFailure("mirror")
			log.Warn("mirror copy failed", "target", name, "error", err)
		}, obj)
	}

	var writer persist.Writer
	if Settings.Persist.Mode == "sync" {
		writer = persist.NewDirect(sink)
	} else {
		writer = persist.NewAsync(sink, Settings.Persist.QueueSize, Settings.Persist.Workers, func(label string, err error) {
			m.IncPersistFailure("async")
			log.Warn("background persistence failed", "job", label, "error", err)
		})
	}

	opts := []sighting.Option{
		sighting.WithLogger(Log.Module("sighting")),
		sighting.WithMetrics(m),
		sighting.WithJPEGQuality(Settings.Persist.JPEGQuality),
	}
	if DB != nil {
		opts = append(opts, sighting.WithJournal(DB))
	}

	gate := quality.NewGate(quality.DefaultThresholds(), eyes)
	engine := sighting.NewEngine(Settings.Engine(), gate, features.NewExtractor(), writer, opts...)

	return &pipeline{engine: engine, writer: writer, eyes: eyes, metrics: m}, nil
}

// Close drains pending writes before releasing the eye cascade.
func (p *pipeline) Close() error {
	err := p.writer.Close()
	p.eyes.Close()
	return err
}

// tally counts outcomes for the end-of-run summary.
type tally struct {
	admitted, duplicates, throttled, rejected, failed, degraded int
}

func (t *tally) add(out sighting.Outcome) {
	switch out.Status {
	case sighting.Admitted:
		t.admitted++
		if out.Degraded() {
			t.degraded++
		}
	case sighting.Duplicate:
		t.duplicates++
	case sighting.Throttled:
		t.throttled++
	case sighting.QualityRejected:
		t.rejected++
	case sighting.ExtractionFailed:
		t.failed++
	}
}

// report prints admitted faces to w.
func report(w io.Writer, out sighting.Outcome) {
	if !out.Admitted() {
		return
	}
	rec := out.Record
	where := rec.FilePath
	if where == "" {
		where = "(not saved)"
	}
	fmt.Fprintf(w, "👤 New face %s at %s -> %s\n", rec.ID.String()[:8], rec.Timestamp.Local().Format("15:04:05"), where)
}

func (t *tally) print(w io.Writer) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "📊 SESSION SUMMARY\n")
	fmt.Fprintf(w, "---------------------------------------------------------\n")
	fmt.Fprintf(w, "👤 New faces:          %d\n", t.admitted)
	if t.degraded > 0 {
		fmt.Fprintf(w, "⚠️  Not saved to disk:  %d\n", t.degraded)
	}
	fmt.Fprintf(w, "🔁 Repeats suppressed: %d\n", t.duplicates)
	fmt.Fprintf(w, "⏱️  Throttled:          %d\n", t.throttled)
	fmt.Fprintf(w, "🚫 Quality rejected:   %d\n", t.rejected)
	fmt.Fprintf(w, "❌ Extraction failed:  %d\n", t.failed)
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}
