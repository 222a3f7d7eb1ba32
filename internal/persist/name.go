package persist

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	facePrefix  = "face_"
	stampLayout = "20060102_150405"
	// FaceExt is the extension of stored face crops.
	FaceExt = ".jpg"
)

// FaceName returns the storage name for a face admitted at t: face_YYYYMMDD_HHMMSS.jpg.
// A positive seq disambiguates admissions that share one second (face_..._1.jpg).
func FaceName(t time.Time, seq int) string {
	if seq > 0 {
		return fmt.Sprintf("%s%s_%d%s", facePrefix, t.Format(stampLayout), seq, FaceExt)
	}
	return facePrefix + t.Format(stampLayout) + FaceExt
}

// ParseFaceName extracts the timestamp and sequence number from a name produced by FaceName.
// The timestamp is interpreted in loc.
func ParseFaceName(name string, loc *time.Location) (time.Time, int, bool) {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	if !strings.EqualFold(ext, FaceExt) || !strings.HasPrefix(base, facePrefix) {
		return time.Time{}, 0, false
	}
	stem := strings.TrimSuffix(strings.TrimPrefix(base, facePrefix), ext)
	if len(stem) < len(stampLayout) {
		return time.Time{}, 0, false
	}

	t, err := time.ParseInLocation(stampLayout, stem[:len(stampLayout)], loc)
	if err != nil {
		return time.Time{}, 0, false
	}

	rest := stem[len(stampLayout):]
	if rest == "" {
		return t, 0, true
	}
	if !strings.HasPrefix(rest, "_") {
		return time.Time{}, 0, false
	}
	seq, err := strconv.Atoi(rest[1:])
	if err != nil || seq <= 0 {
		return time.Time{}, 0, false
	}
	return t, seq, true
}
