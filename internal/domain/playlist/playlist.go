// Package playlist provides the Playlist domain entity.
package playlist

import (
	"time"

	"github.com/WieserchGT/BetaGamers/internal/domain/track"
)

// Playlist is the result of a bulk resolution.
type Playlist struct {
	Name   string        // Playlist name
	URL    string        // Source URL
	Tracks []track.Track // Resolved tracks in source order
}

// Truncate keeps at most limit tracks. A non-positive limit keeps everything.
func (p *Playlist) Truncate(limit int) {
	if limit > 0 && len(p.Tracks) > limit {
		p.Tracks = p.Tracks[:limit]
	}
}

// Locators returns all track locators.
func (p *Playlist) Locators() []string {
	locs := make([]string, len(p.Tracks))
	for i, t := range p.Tracks {
		locs[i] = t.Locator
	}
	return locs
}

// TotalDuration returns the total duration of all tracks.
func (p *Playlist) TotalDuration() time.Duration {
	var total time.Duration
	for _, t := range p.Tracks {
		total += t.Duration
	}
	return total
}
