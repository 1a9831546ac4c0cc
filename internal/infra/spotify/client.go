// Package spotify resolves Spotify links into searchable tracks.
package spotify

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/WieserchGT/BetaGamers/internal/app/resolver"
	"github.com/WieserchGT/BetaGamers/internal/domain/track"
)

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	market     string
	maxTracks  int
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	Market       string
	MaxTracks    int // Stop paging playlists and albums after this many tracks, zero for all
}

// New creates a Spotify client authenticated with the client credentials flow.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	if _, err := creds.Token(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to get spotify token")
	}

	return newClient(spotify.New(creds.Client(context.Background())), cfg), nil
}

func newClient(c *spotify.Client, cfg Config) *Client {
	market := cfg.Market
	if market == "" {
		market = "US"
	}
	return &Client{
		client:     c,
		market:     market,
		maxTracks:  cfg.MaxTracks,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Name implements resolver.Source.
func (c *Client) Name() string { return "spotify" }

// Match implements resolver.Source.
func (c *Client) Match(url string) bool { return resolver.IsSpotify(url) }

// Resolve implements resolver.Source. Tracks are returned as YouTube search
// locators built from artist and title.
func (c *Client) Resolve(ctx context.Context, query string) ([]track.Track, error) {
	switch {
	case strings.Contains(query, "/playlist/"):
		return c.GetPlaylistTracks(ctx, query)
	case strings.Contains(query, "/album/"):
		return c.GetAlbumTracks(ctx, query)
	case strings.Contains(query, "/track/"):
		t, err := c.GetTrack(ctx, query)
		if err != nil {
			return nil, err
		}
		return []track.Track{*t}, nil
	default:
		return nil, errors.Wrapf(resolver.ErrInvalidLocator, "spotify link %q", query)
	}
}

// GetTrack retrieves track information by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, trackID string) (*track.Track, error) {
	id := extractID(trackID, "track")

	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, classify(errors.Wrap(err, "failed to get track"))
	}

	t := convertTrack(result.SimpleTrack)
	return &t, nil
}

// GetPlaylistTracks retrieves the tracks of a playlist.
func (c *Client) GetPlaylistTracks(ctx context.Context, playlistURL string) ([]track.Track, error) {
	playlistID := extractID(playlistURL, "playlist")
	if playlistID == "" {
		return nil, errors.Wrap(resolver.ErrInvalidLocator, "invalid playlist URL")
	}

	var tracks []track.Track
	offset := 0
	limit := 100

	for !c.full(tracks) {
		var page *spotify.PlaylistItemPage
		err := c.retry(ctx, func() error {
			p, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
				spotify.Limit(limit),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, classify(errors.Wrap(err, "failed to get playlist items"))
		}

		for _, item := range page.Items {
			// Only tracks; episodes have no Track
			if item.Track.Track != nil && item.Track.Track.ID != "" {
				tracks = append(tracks, convertTrack(item.Track.Track.SimpleTrack))
			}
		}

		if len(page.Items) < limit {
			break
		}
		offset += limit
	}

	return c.truncate(tracks), nil
}

// GetAlbumTracks retrieves the tracks of an album.
func (c *Client) GetAlbumTracks(ctx context.Context, albumURL string) ([]track.Track, error) {
	albumID := extractID(albumURL, "album")
	if albumID == "" {
		return nil, errors.Wrap(resolver.ErrInvalidLocator, "invalid album URL")
	}

	var tracks []track.Track
	offset := 0
	limit := 50

	for !c.full(tracks) {
		var page *spotify.SimpleTrackPage
		err := c.retry(ctx, func() error {
			p, err := c.client.GetAlbumTracks(ctx, spotify.ID(albumID),
				spotify.Limit(limit),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, classify(errors.Wrap(err, "failed to get album tracks"))
		}

		for _, t := range page.Tracks {
			tracks = append(tracks, convertTrack(t))
		}

		if len(page.Tracks) < limit {
			break
		}
		offset += limit
	}

	return c.truncate(tracks), nil
}

func (c *Client) full(tracks []track.Track) bool {
	return c.maxTracks > 0 && len(tracks) >= c.maxTracks
}

func (c *Client) truncate(tracks []track.Track) []track.Track {
	if c.maxTracks > 0 && len(tracks) > c.maxTracks {
		return tracks[:c.maxTracks]
	}
	return tracks
}

// convertTrack converts a Spotify track to a searchable domain Track.
func convertTrack(t spotify.SimpleTrack) track.Track {
	title := t.Name
	if len(t.Artists) > 0 {
		title = t.Artists[0].Name + " - " + t.Name
	}
	return track.Track{
		Locator:  track.SearchLocator(title),
		Title:    title,
		Duration: time.Duration(t.Duration) * time.Millisecond,
	}
}

// retry retries an operation with linear backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// classify marks API failures with the matching resolver error.
func classify(err error) error {
	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusNotFound:
			return resolver.Wrap(resolver.ErrNotFound, err, "spotify")
		case apiErr.Status == http.StatusBadRequest:
			return resolver.Wrap(resolver.ErrInvalidLocator, err, "spotify")
		case apiErr.Status == http.StatusTooManyRequests:
			return resolver.Wrap(resolver.ErrRateLimited, err, "spotify")
		}
	}
	if isRetryable(err) && strings.Contains(err.Error(), "429") {
		return resolver.Wrap(resolver.ErrRateLimited, err, "spotify")
	}
	return err
}

// extractID extracts the ID of a Spotify URL or URI of the given kind
// ("track", "playlist", "album").
func extractID(input, kind string) string {
	input = strings.TrimSpace(input)
	// spotify:<kind>:<id>
	if prefix := "spotify:" + kind + ":"; strings.HasPrefix(input, prefix) {
		return strings.TrimPrefix(input, prefix)
	}

	// https://open.spotify.com/<kind>/<id> or https://open.spotify.com/intl-XX/<kind>/<id>
	sep := "/" + kind + "/"
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, sep) {
		parts := strings.Split(input, sep)
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/")
	}

	// Assume it's already an ID
	return input
}
