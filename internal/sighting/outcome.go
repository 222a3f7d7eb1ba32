package sighting

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/andresmejia3/facelog/internal/match"
	"github.com/google/uuid"
)

// Record is one admitted sighting. Records are never mutated after admission.
type Record struct {
	ID         uuid.UUID
	Timestamp  time.Time
	Descriptor match.Descriptor
	Quality    string
	Box        image.Rectangle
	// FilePath is empty when the crop could not be handed to storage.
	FilePath string
}

// Status is the kind of result a submission produced.
type Status int

const (
	Admitted Status = iota
	Throttled
	QualityRejected
	ExtractionFailed
	Duplicate
)

func (s Status) String() string {
	switch s {
	case Admitted:
		return "admitted"
	case Throttled:
		return "throttled"
	case QualityRejected:
		return "quality_rejected"
	case ExtractionFailed:
		return "extraction_failed"
	case Duplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ErrThrottled is returned for submissions arriving too soon after the last admission.
var ErrThrottled = errors.New("too soon after last admission")

var errNoCrop = errors.New("no crop to encode")

// DuplicateError reports that a submission matched a recently admitted record.
type DuplicateError struct {
	Of      uuid.UUID
	Elapsed time.Duration
	// Last is set when the match was against the most recent admission.
	Last bool
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("same face seen %s ago (record %s)", e.Elapsed.Round(time.Millisecond), e.Of)
}

// PersistError reports that an admitted record has no stored crop.
type PersistError struct {
	Stage string // encode or write
	Err   error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Stage, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// Outcome is the result of one submission.
type Outcome struct {
	Status Status
	// Reason is the quality note for admissions and gate rejections.
	Reason string
	// Record is the new record when admitted, or the matched record for duplicates.
	Record *Record
	// Err explains a rejection. On an admission it is nil or a *PersistError warning.
	Err error
}

// Admitted reports whether the submission produced a new record.
func (o Outcome) Admitted() bool {
	return o.Status == Admitted
}

// Degraded reports whether an admission was recorded without a stored crop.
func (o Outcome) Degraded() bool {
	var pe *PersistError
	return o.Status == Admitted && errors.As(o.Err, &pe)
}
