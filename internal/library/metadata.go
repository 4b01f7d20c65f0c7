package library

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/lazypower/autodj/internal/model"
)

const (
	minBPM          = 60.0
	maxBPM          = 220.0
	unknownKey      = "Unknown"
	placeholderSecs = 180.0
)

var placeholderDrops = []float64{32, 64}

// RE2 has no lookarounds; each pattern consumes one boundary character on
// either side and the value is taken from the capture group.
var (
	bpmPattern     = regexp.MustCompile(`(?i)(?:^|\D)(\d{2,3}(?:\.\d+)?)\s?bpm(?:\D|$)`)
	camelotPattern = regexp.MustCompile(`(?i)(?:^|[^a-z0-9])(\d{1,2}[ab])(?:[^a-z0-9]|$)`)
	keyPattern     = regexp.MustCompile(`(?:^|[^A-Za-z0-9])([A-G](?:#|b)?m?)(?:[^A-Za-z0-9]|$)`)
)

// ExtractBPMKey guesses tempo and key from a file stem such as
// "Artist - Tune 128bpm 8A". Tempo outside 60..220 falls back to the
// default; a Camelot code wins over a musical key.
func ExtractBPMKey(name string) (float64, string) {
	bpm := model.DefaultBPM
	if m := bpmPattern.FindStringSubmatch(name); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= minBPM && v <= maxBPM {
			bpm = v
		}
	}

	if m := camelotPattern.FindStringSubmatch(name); m != nil {
		return bpm, strings.ToUpper(m[1])
	}
	if m := keyPattern.FindStringSubmatch(name); m != nil {
		return bpm, m[1]
	}
	return bpm, unknownKey
}

// Placeholder builds the metadata recorded for a file before any real
// audio analysis exists.
func Placeholder(path string) model.TrackMetadata {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	bpm, key := ExtractBPMKey(stem)

	drops := make([]float64, len(placeholderDrops))
	copy(drops, placeholderDrops)
	return model.TrackMetadata{
		TrackID:   abs,
		Title:     stem,
		BPM:       bpm,
		Key:       key,
		DropTimes: drops,
		DurationS: placeholderSecs,
	}
}
