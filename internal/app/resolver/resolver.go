// Package resolver turns user queries into tracks and picks the source that
// serves them.
package resolver

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/WieserchGT/BetaGamers/internal/domain/track"
)

// Errors
var (
	ErrNotFound          = errors.New("no results found")
	ErrRateLimited       = errors.New("rate limited")
	ErrInvalidLocator    = errors.New("invalid locator")
	ErrStreamUnavailable = errors.New("stream unavailable")
)

// Resolver resolves a URL or search query into one or more tracks.
type Resolver interface {
	Resolve(ctx context.Context, query string) ([]track.Track, error)
}

// StreamOpener opens the PCM stream of a track.
type StreamOpener interface {
	OpenStream(ctx context.Context, t track.Track) (io.ReadCloser, error)
}

// Source is one provider of tracks.
type Source interface {
	// Name identifies the source in logs.
	Name() string
	// Match reports whether the source handles the URL.
	Match(url string) bool
	Resolve(ctx context.Context, query string) ([]track.Track, error)
}

// Wrap reports cause as an error of the given kind, so errors.Is(err, kind)
// holds while the message keeps the cause.
func Wrap(kind, cause error, msg string) error {
	return errors.WithSecondaryError(errors.Wrapf(kind, "%s: %v", msg, cause), cause)
}
