// Package sighting decides which detected faces become records.
//
// A candidate passes a throttle, the quality gate and descriptor extraction,
// then is compared against the most recent admission and against every
// admission inside the recent window. Only faces that are new, or that have
// not been seen for the repeat interval, are admitted and persisted.
package sighting

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/andresmejia3/facelog/internal/features"
	"github.com/andresmejia3/facelog/internal/match"
	"github.com/andresmejia3/facelog/internal/metrics"
	"github.com/andresmejia3/facelog/internal/persist"
	"github.com/andresmejia3/facelog/internal/quality"
	"github.com/google/uuid"
)

// Config holds the admission tunables. It is read once by NewEngine.
type Config struct {
	MinDetectionInterval time.Duration
	RepeatInterval       time.Duration
	RecentWindow         time.Duration
	SimilarityThreshold  float64
}

// DefaultConfig returns the stock timings: 2s throttle, 30s repeat, 60s window, 0.6 similarity.
func DefaultConfig() Config {
	return Config{
		MinDetectionInterval: 2 * time.Second,
		RepeatInterval:       30 * time.Second,
		RecentWindow:         60 * time.Second,
		SimilarityThreshold:  match.DefaultThreshold,
	}
}

// Gate judges whether a region is good enough to keep.
type Gate interface {
	Assess(frame image.Image, box image.Rectangle) quality.Verdict
}

// Extractor turns a region into a crop and descriptor.
type Extractor interface {
	Extract(frame image.Image, box image.Rectangle) (*features.Face, error)
}

// Journal receives a copy of every admitted record.
type Journal interface {
	AppendSighting(ctx context.Context, rec Record) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithJournal mirrors admissions to j through the engine's writer.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock sets the time source used by Submit.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithJPEGQuality sets the quality of stored crops.
func WithJPEGQuality(q int) Option {
	return func(e *Engine) {
		if q >= 1 && q <= 100 {
			e.jpegQuality = q
		}
	}
}

// Engine owns the admitted records. It is safe for concurrent use; submissions
// are processed one at a time.
type Engine struct {
	cfg       Config
	gate      Gate
	extractor Extractor
	matcher   match.Matcher
	writer    persist.Writer

	journal     Journal
	metrics     *metrics.Metrics
	log         *slog.Logger
	now         func() time.Time
	jpegQuality int

	mu            sync.Mutex
	records       []*Record
	last          *Record
	lastDetection time.Time
	lastStamp     string
	stampSeq      int
}

// NewEngine returns an engine with no records.
func NewEngine(cfg Config, gate Gate, extractor Extractor, writer persist.Writer, opts ...Option) *Engine {
	e := &Engine{
		cfg:         cfg,
		gate:        gate,
		extractor:   extractor,
		matcher:     match.NewMatcher(cfg.SimilarityThreshold),
		writer:      writer,
		log:         slog.Default(),
		now:         time.Now,
		jpegQuality: 95,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit processes a candidate observed now.
func (e *Engine) Submit(ctx context.Context, frame image.Image, box image.Rectangle) Outcome {
	return e.SubmitAt(ctx, frame, box, e.now())
}

// SubmitAt processes a candidate observed at the given time.
func (e *Engine) SubmitAt(ctx context.Context, frame image.Image, box image.Rectangle, at time.Time) Outcome {
	start := time.Now()

	e.mu.Lock()
	out := e.guardedSubmit(ctx, frame, box, at)
	n := len(e.records)
	e.mu.Unlock()

	e.metrics.ObserveSubmission(out.Status.String(), time.Since(start).Seconds())
	e.metrics.SetRecords(n)
	return out
}

// guardedSubmit turns a panic in a collaborator into an ExtractionFailed outcome.
func (e *Engine) guardedSubmit(ctx context.Context, frame image.Image, box image.Rectangle, at time.Time) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: panic: %v", features.ErrExtraction, r)
			e.log.Error("submission failed", "error", err, "box", box)
			out = Outcome{Status: ExtractionFailed, Err: err}
		}
	}()
	return e.submit(ctx, frame, box, at)
}

func (e *Engine) submit(ctx context.Context, frame image.Image, box image.Rectangle, at time.Time) Outcome {
	// Timestamps before the last admission are throttled too, which keeps records chronological
	if !e.lastDetection.IsZero() && (at.Before(e.lastDetection) || at.Sub(e.lastDetection) < e.cfg.MinDetectionInterval) {
		e.log.Debug("submission throttled", "since_last", at.Sub(e.lastDetection))
		return Outcome{Status: Throttled, Err: ErrThrottled}
	}

	verdict := e.gate.Assess(frame, box)
	if !verdict.Accepted {
		e.log.Debug("face rejected", "reason", verdict.Reason, "box", box)
		e.metrics.IncRejection(verdict.Reason)
		return Outcome{Status: QualityRejected, Reason: verdict.Reason, Err: verdict.Err()}
	}

	face, err := e.extractor.Extract(frame, box)
	if err == nil && (face == nil || len(face.Descriptor) == 0) {
		err = fmt.Errorf("%w: no descriptor", features.ErrExtraction)
	}
	if err != nil {
		e.log.Debug("descriptor extraction failed", "error", err, "box", box)
		return Outcome{Status: ExtractionFailed, Err: err}
	}

	if e.last != nil && e.matcher.SameIdentity(face.Descriptor, e.last.Descriptor) {
		elapsed := at.Sub(e.last.Timestamp)
		if elapsed < e.cfg.RepeatInterval {
			e.log.Info("same face as last admission", "elapsed", elapsed, "record", e.last.ID)
			return e.duplicate(e.last, elapsed, true)
		}
		e.log.Debug("last face seen again after repeat interval", "elapsed", elapsed)
	}

	if prev := e.findRecent(face.Descriptor, at); prev != nil {
		elapsed := at.Sub(prev.Timestamp)
		if elapsed < e.cfg.RepeatInterval {
			e.log.Info("same face seen recently", "elapsed", elapsed, "record", prev.ID)
			return e.duplicate(prev, elapsed, false)
		}
	}

	return e.commit(ctx, face, verdict.Reason, box, at)
}

func (e *Engine) duplicate(prev *Record, elapsed time.Duration, last bool) Outcome {
	rec := *prev
	return Outcome{
		Status: Duplicate,
		Record: &rec,
		Err:    &DuplicateError{Of: prev.ID, Elapsed: elapsed, Last: last},
	}
}

// findRecent returns the oldest record inside the recent window that matches d.
func (e *Engine) findRecent(d match.Descriptor, at time.Time) *Record {
	cutoff := at.Add(-e.cfg.RecentWindow)
	i := sort.Search(len(e.records), func(i int) bool {
		return e.records[i].Timestamp.After(cutoff)
	})
	for ; i < len(e.records); i++ {
		if e.matcher.SameIdentity(d, e.records[i].Descriptor) {
			return e.records[i]
		}
	}
	return nil
}

func (e *Engine) commit(ctx context.Context, face *features.Face, note string, box image.Rectangle, at time.Time) Outcome {
	rec := &Record{
		ID:         uuid.New(),
		Timestamp:  at,
		Descriptor: face.Descriptor,
		Quality:    note,
		Box:        box,
	}

	var warn *PersistError
	var buf bytes.Buffer
	journaled := false
	if face.Crop == nil {
		warn = &PersistError{Stage: "encode", Err: errNoCrop}
	} else if err := jpeg.Encode(&buf, face.Crop, &jpeg.Options{Quality: e.jpegQuality}); err != nil {
		warn = &PersistError{Stage: "encode", Err: err}
	} else {
		base, id := *rec, rec.ID
		ref, err := e.writer.Write(ctx, persist.Blob{
			Name: e.fileName(at),
			Data: buf.Bytes(),
			Then: func(ctx context.Context, ref string) {
				base.FilePath = ref
				e.appendJournal(ctx, base)
			},
			Lost: func(err error) { e.imageLost(id, err) },
		})
		if err != nil {
			warn = &PersistError{Stage: "write", Err: err}
		} else {
			rec.FilePath = ref
			journaled = true
		}
	}

	e.records = append(e.records, rec)
	e.last = rec
	e.lastDetection = at

	out := Outcome{Status: Admitted, Reason: note}
	if warn != nil {
		out.Err = warn
		e.metrics.IncPersistFailure(warn.Stage)
		e.log.Warn("face admitted without stored image", "record", rec.ID, "error", warn)
	} else {
		e.log.Info("new face admitted", "record", rec.ID, "file", rec.FilePath, "quality", note)
	}

	if !journaled && e.journal != nil {
		base := *rec
		err := e.writer.Do(ctx, "journal "+rec.ID.String(), func(ctx context.Context) error {
			e.appendJournal(ctx, base)
			return nil
		})
		if err != nil {
			e.metrics.IncPersistFailure("journal")
			e.log.Warn("sighting not journaled", "record", rec.ID, "error", err)
		}
	}

	snapshot := *rec
	out.Record = &snapshot
	return out
}

// appendJournal runs on the writer's goroutine and must not take e.mu.
func (e *Engine) appendJournal(ctx context.Context, rec Record) {
	if e.journal == nil {
		return
	}
	if err := e.journal.AppendSighting(ctx, rec); err != nil {
		e.metrics.IncPersistFailure("journal")
		e.log.Warn("sighting not journaled", "record", rec.ID, "error", err)
	}
}

// imageLost clears the file reference of a record whose background write failed.
func (e *Engine) imageLost(id uuid.UUID, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.records) - 1; i >= 0; i-- {
		if e.records[i].ID == id {
			e.records[i].FilePath = ""
			break
		}
	}
	e.metrics.IncPersistFailure("write")
	e.log.Warn("stored image lost, record kept without file", "record", id, "error", &PersistError{Stage: "write", Err: err})
}

// fileName derives a unique name for an admission at t.
func (e *Engine) fileName(t time.Time) string {
	stamp := persist.FaceName(t, 0)
	if stamp == e.lastStamp {
		e.stampSeq++
		return persist.FaceName(t, e.stampSeq)
	}
	e.lastStamp = stamp
	e.stampSeq = 0
	return stamp
}

// Invalidate drops every record whose FilePath is path and returns how many were removed.
// The throttle is left untouched. Nothing calls this automatically; collaborators that
// delete stored images are expected to.
func (e *Engine) Invalidate(path string) int {
	if path == "" {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.records[:0]
	removed := 0
	for _, r := range e.records {
		if r.FilePath == path {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(e.records); i++ {
		e.records[i] = nil
	}
	e.records = kept

	if removed > 0 {
		e.last = nil
		if len(e.records) > 0 {
			e.last = e.records[len(e.records)-1]
		}
		e.metrics.SetRecords(len(e.records))
	}
	return removed
}

// Records returns a snapshot of the admitted records in admission order.
// Descriptors are shared and must not be modified.
func (e *Engine) Records() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Record, len(e.records))
	for i, r := range e.records {
		out[i] = *r
	}
	return out
}

// Len returns the number of admitted records.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.records)
}

// Last returns the most recent admission.
func (e *Engine) Last() (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Record{}, false
	}
	return *e.last, true
}
