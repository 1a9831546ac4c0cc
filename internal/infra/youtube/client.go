// Package youtube resolves YouTube links and searches and opens their audio
// as PCM through ffmpeg.
package youtube

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	youtube "github.com/kkdai/youtube/v2"

	"github.com/WieserchGT/BetaGamers/internal/app/resolver"
	"github.com/WieserchGT/BetaGamers/internal/domain/playlist"
	"github.com/WieserchGT/BetaGamers/internal/domain/track"
)

const (
	defaultBaseURL = "https://www.youtube.com"
	sampleRate     = 48000
	channels       = 2
)

// Config holds YouTube client configuration.
type Config struct {
	FFmpegPath  string
	HTTPTimeout time.Duration
	BaseURL     string // Search endpoint host, overridden in tests
}

// Client wraps the YouTube API client and the search scraper.
type Client struct {
	cfg  Config
	yt   *youtube.Client
	http *http.Client
}

// NewClient creates a YouTube client.
func NewClient(cfg Config) *Client {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	return &Client{
		cfg:  cfg,
		yt:   &youtube.Client{HTTPClient: httpClient},
		http: httpClient,
	}
}

// Video returns the metadata of one video as a track.
func (c *Client) Video(ctx context.Context, url string) (track.Track, error) {
	video, err := c.yt.GetVideoContext(ctx, url)
	if err != nil {
		return track.Track{}, classify(err, resolver.ErrNotFound)
	}
	return videoTrack(video.ID, video.Title, video.Duration), nil
}

// Playlist returns the entries of a playlist in source order.
func (c *Client) Playlist(ctx context.Context, url string) (*playlist.Playlist, error) {
	pl, err := c.yt.GetPlaylistContext(ctx, url)
	if err != nil {
		return nil, classify(err, resolver.ErrNotFound)
	}
	out := &playlist.Playlist{
		Name:   pl.Title,
		URL:    url,
		Tracks: make([]track.Track, 0, len(pl.Videos)),
	}
	for _, entry := range pl.Videos {
		if entry == nil || entry.ID == "" {
			continue
		}
		out.Tracks = append(out.Tracks, videoTrack(entry.ID, entry.Title, entry.Duration))
	}
	return out, nil
}

func videoTrack(id, title string, d time.Duration) track.Track {
	return track.Track{
		Locator:  WatchURL(id),
		Title:    title,
		Duration: d,
	}
}

// WatchURL returns the canonical watch link of a video.
func WatchURL(id string) string {
	return defaultBaseURL + "/watch?v=" + id
}

// classify maps client failures onto resolver errors.
func classify(err error, fallback error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return resolver.Wrap(resolver.ErrRateLimited, err, "youtube")
	case strings.Contains(msg, "invalid characters in video id") || strings.Contains(msg, "extract"):
		return resolver.Wrap(resolver.ErrInvalidLocator, err, "youtube")
	default:
		return resolver.Wrap(fallback, err, "youtube")
	}
}
