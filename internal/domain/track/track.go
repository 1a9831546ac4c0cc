// Package track provides the Track domain entity.
package track

import (
	"fmt"
	"strings"
	"time"
)

// SearchPrefix marks a locator that must be resolved by search when the stream is opened.
const SearchPrefix = "ytsearch:"

// Track is a playable item produced once by a resolver.
// It is treated as immutable after enqueue.
type Track struct {
	Locator   string        // Direct URL or SearchPrefix + terms
	Title     string        // Display title
	Duration  time.Duration // Zero when unknown
	Requester Requester     // Who asked for it
}

// Requester represents the member who requested the track.
type Requester struct {
	ID      string // Platform user ID
	Name    string // Display name
	GuildID string // Guild the request was made in
}

// SearchLocator builds a lazy search locator from free-form terms.
func SearchLocator(terms string) string {
	return SearchPrefix + strings.TrimSpace(terms)
}

// IsSearch reports whether the locator must be resolved by search at open time.
func (t Track) IsSearch() bool {
	return strings.HasPrefix(t.Locator, SearchPrefix)
}

// SearchTerms returns the terms of a search locator.
func (t Track) SearchTerms() string {
	return strings.TrimSpace(strings.TrimPrefix(t.Locator, SearchPrefix))
}

// Playable reports whether the track carries a usable locator.
func (t Track) Playable() bool {
	if strings.TrimSpace(t.Locator) == "" {
		return false
	}
	if t.IsSearch() {
		return t.SearchTerms() != ""
	}
	return true
}

// DurationSeconds returns the duration truncated to whole seconds.
func (t Track) DurationSeconds() int {
	return int(t.Duration / time.Second)
}

// FormattedDuration renders the duration as m:ss.
func (t Track) FormattedDuration() string {
	secs := t.DurationSeconds()
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// Display returns "title (m:ss)".
func (t Track) Display() string {
	if t.Duration <= 0 {
		return t.Title
	}
	return fmt.Sprintf("%s (%s)", t.Title, t.FormattedDuration())
}
