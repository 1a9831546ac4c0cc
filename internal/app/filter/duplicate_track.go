package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/WieserchGT/BetaGamers/internal/domain/track"
)

// DuplicateTrackFilter checks for duplicate tracks in the queue.
// Detects:
// - Exact locator matches
// - Alternate uploads (normalized title match, e.g. "(Official Video)" vs "(Lyrics)")
type DuplicateTrackFilter struct{}

// NewDuplicateTrackFilter creates a new duplicate track filter.
func NewDuplicateTrackFilter() *DuplicateTrackFilter {
	return &DuplicateTrackFilter{}
}

// Name returns the filter name.
func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

// Description returns the filter description.
func (f *DuplicateTrackFilter) Description() string {
	return "Rejects tracks already waiting in the queue, including remasters and alternate uploads"
}

// ReturnCodes returns possible return codes.
func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{"duplicate_track"}
}

// ValidateConfig validates the filter configuration.
func (f *DuplicateTrackFilter) ValidateConfig(config map[string]any) error {
	return nil
}

// Check checks if the track is a duplicate.
func (f *DuplicateTrackFilter) Check(ctx context.Context, req Request, requested track.Track) Result {
	name := normalizeTrackName(requested.Title)

	for _, queued := range req.Queued {
		if queued.Locator == requested.Locator {
			return Reject("duplicate_track")
		}
		if name != "" && normalizeTrackName(queued.Title) == name {
			return Reject("duplicate_track")
		}
	}

	return Accept()
}

var (
	remasterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),      // "- 2011 Remaster"
		regexp.MustCompile(`\s*\(remaster(ed)?\s*\d{0,4}\)`),     // "(Remastered 2023)"
		regexp.MustCompile(`\s*\[remaster(ed)?\s*\d{0,4}\]`),     // "[Remastered]"
		regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?`), // "- Remastered"
		regexp.MustCompile(`\s*\(.*?remaster.*?\)`),              // "(Any Remaster text)"
		regexp.MustCompile(`\s*\[.*?remaster.*?\]`),              // "[Any Remaster text]"
	}

	uploadPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*[\(\[]\s*official\s+(music\s+)?(video|audio|lyric video|visualizer)\s*[\)\]]`), // "(Official Video)"
		regexp.MustCompile(`\s*[\(\[]\s*(lyrics?|audio|hd|hq|4k)\s*[\)\]]`),                                   // "[Lyrics]"
		regexp.MustCompile(`\s*[\(\[]\s*m/?v\s*[\)\]]`),                                                       // "(MV)"
	}

	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*\(.*?version\)`),        // "(Single Version)"
		regexp.MustCompile(`\s*\(.*?edit\)`),           // "(Radio Edit)"
		regexp.MustCompile(`\s*\(live\)`),              // "(Live)"
		regexp.MustCompile(`\s+-\s*live$`),             // "- Live"
		regexp.MustCompile(`\s*-?\s*radio\s+edit`),     // "- Radio Edit"
		regexp.MustCompile(`\s*-?\s*single\s+version`), // "- Single Version"
	}

	whitespace = regexp.MustCompile(`\s+`)
)

// normalizeTrackName removes remaster, upload and version decorations.
func normalizeTrackName(name string) string {
	normalized := strings.ToLower(name)

	for _, group := range [][]*regexp.Regexp{remasterPatterns, uploadPatterns, versionPatterns} {
		for _, pattern := range group {
			normalized = pattern.ReplaceAllString(normalized, "")
		}
	}

	normalized = strings.TrimSpace(normalized)
	normalized = whitespace.ReplaceAllString(normalized, " ")
	normalized = strings.TrimRight(normalized, " -")

	return normalized
}

func init() {
	Register("duplicate_track_filter", func() Filter {
		return &DuplicateTrackFilter{}
	})
}
